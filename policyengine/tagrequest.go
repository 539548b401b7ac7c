package policyengine

// tagResourceKey is the single dimension name used by the synthetic
// resource tag policies evaluate against.
const tagResourceKey = "tag"

// NewTagResource builds the synthetic single-dimension resource a tag
// policy evaluator sees: {"tag": <tag name>}. Exported as its own
// constructor, mirroring the original's dedicated tag-resource type
// rather than an inline map literal.
func NewTagResource(tagName string) AccessResource {
	return AccessResource{tagResourceKey: tagName}
}

// newTagAccessRequest builds a synthetic request for evaluating tag
// policies against one tag of the original request's resource. It copies
// primitive fields, shares the context map by reference (so a write by
// one is visible to the other), and prefixes the access type with
// componentName so the tag action is namespaced against the component
// that owns the underlying resource.
func newTagAccessRequest(tag ResourceTag, componentName string, original *AccessRequest) *AccessRequest {
	context := original.Context
	if context == nil {
		context = make(map[string]any)
	}
	context[ContextTagObject] = tag

	return &AccessRequest{
		Resource:        NewTagResource(tag.Name),
		User:            original.User,
		UserGroups:      original.UserGroups,
		Action:          original.Action,
		AccessType:      componentName + ":" + original.AccessType,
		AccessTime:      original.AccessTime,
		ClientType:      original.ClientType,
		ClientIPAddress: original.ClientIPAddress,
		SessionID:       original.SessionID,
		RequestData:     original.RequestData,
		Context:         context,
		ServiceName:     original.ServiceName,
		ServiceDef:      original.ServiceDef,
	}
}
