package policyengine

// AccessResult is the mutable accumulator multiple evaluators fill in
// during one request's evaluation. It is written only by the goroutine
// evaluating its request; there is no internal synchronization.
type AccessResult struct {
	IsAllowed           bool
	IsAccessDetermined  bool
	IsAudited           bool
	IsAuditedDetermined bool
	PolicyID            string
	Reason              string

	ServiceName string
	ServiceDef  *ServiceDef
}

// newAccessResult seeds a fresh result from a request's service
// back-references, mirroring Engine.CreateAccessResult.
func newAccessResult(serviceName string, serviceDef *ServiceDef) *AccessResult {
	return &AccessResult{
		ServiceName: serviceName,
		ServiceDef:  serviceDef,
	}
}

// CopyFrom overwrites the decision-bearing fields of r with those of src,
// leaving the service back-references untouched. Used to fold a per-tag
// result into the allowed- or denied- accumulator, and to fold the
// combined tag result into the stage result.
func (r *AccessResult) CopyFrom(src *AccessResult) {
	r.IsAllowed = src.IsAllowed
	r.IsAccessDetermined = src.IsAccessDetermined
	r.IsAudited = src.IsAudited
	r.IsAuditedDetermined = src.IsAuditedDetermined
	r.PolicyID = src.PolicyID
	r.Reason = src.Reason
}

// String renders a compact diagnostic form for logs and test failures.
func (r *AccessResult) String() string {
	if r == nil {
		return "AccessResult=<nil>"
	}
	return "AccessResult={isAllowed=" + boolStr(r.IsAllowed) +
		" isAccessDetermined=" + boolStr(r.IsAccessDetermined) +
		" isAudited=" + boolStr(r.IsAudited) +
		" isAuditedDetermined=" + boolStr(r.IsAuditedDetermined) +
		" policyId=" + r.PolicyID + "}"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
