// Package policyengine implements the resource/tag policy decision engine:
// given an access request it decides whether access is allowed, whether
// the decision must be audited, and which policy caused the decision.
package policyengine

import "time"

// Well-known context keys shared with context enrichers and evaluators.
const (
	// ContextTags holds the ordered []ResourceTag attached to a request's
	// resource, set by a tag-retrieval ContextEnricher.
	ContextTags = "CONTEXT_TAGS"
	// ContextTagObject holds the single ResourceTag a synthetic tag
	// request was built from. Only set on requests produced by
	// newTagAccessRequest.
	ContextTagObject = "CONTEXT_TAG_OBJECT"
)

// AccessResource identifies the thing being accessed as a mapping from
// component-defined resource-dimension names (e.g. "database", "table")
// to their values.
type AccessResource map[string]string

// Clone returns a shallow copy of the resource map.
func (r AccessResource) Clone() AccessResource {
	out := make(AccessResource, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ResourceTag is a tag attached to a resource at request time, along with
// whatever attributes the tag carries beyond its name.
type ResourceTag struct {
	Name       string
	Attributes map[string]string
}

// AccessRequest is the immutable input bundle for one access decision.
// Context is the only mutable field: enrichers attach derived facts to it
// (notably the resolved tag list) before evaluation runs.
type AccessRequest struct {
	Resource        AccessResource
	User            string
	UserGroups      map[string]struct{}
	Action          string
	AccessType      string
	AccessTime      time.Time
	ClientType      string
	ClientIPAddress string
	SessionID       string
	RequestData     string

	// Context is mutated in place by ContextEnricher.Enrich and is shared
	// by reference between an original request and any tag request
	// synthesized from it.
	Context map[string]any

	// ServiceName / ServiceDef, when set, are copied by
	// Engine.CreateAccessResult onto the result in place of the engine's
	// own service name and definition.
	ServiceName string
	ServiceDef  *ServiceDef
}

// UserGroupSet builds the set-membership map AccessRequest.UserGroups holds
// from a plain list of group names.
func UserGroupSet(groups ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
	}
	return set
}

// HasGroup reports whether the request's user belongs to the given group.
func (r *AccessRequest) HasGroup(group string) bool {
	_, ok := r.UserGroups[group]
	return ok
}

// EnsureContext guarantees Context is non-nil, creating it if needed.
func (r *AccessRequest) EnsureContext() map[string]any {
	if r.Context == nil {
		r.Context = make(map[string]any)
	}
	return r.Context
}

// Tags extracts the resolved tag list context enrichment attached under
// ContextTags, if any.
func (r *AccessRequest) Tags() []ResourceTag {
	if r.Context == nil {
		return nil
	}
	v, ok := r.Context[ContextTags]
	if !ok {
		return nil
	}
	tags, _ := v.([]ResourceTag)
	return tags
}

// ServiceDef is the opaque service definition back-reference carried by
// AccessResult and AccessRequest. Its internals belong to whatever
// collaborator loads and versions policies and are not interpreted by
// the engine.
type ServiceDef struct {
	Name string
	Kind string
}
