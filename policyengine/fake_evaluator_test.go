package policyengine

// fakeEvaluator is a minimal PolicyEvaluator used across the tests in this
// package, exercising the PolicyEvaluator contract directly instead of
// expr conditions.
type fakeEvaluator struct {
	policy Policy

	// matches decides whether this evaluator fires for a given request.
	matches func(request *AccessRequest) bool

	allow               bool
	setsAudit           bool
	auditValue          bool
	finalDecider        bool
	exactMatchResources map[string]bool // resource fingerprint -> exact match
	reason              string

	// auditOnly mirrors rulepolicy.Evaluator's auditOnly mode: a matching
	// audit-only evaluator never touches IsAllowed/IsAccessDetermined,
	// PolicyID or Reason, so it cannot clobber an access decision an
	// earlier evaluator already made, and on its own leaves access
	// undetermined.
	auditOnly bool

	panics bool
}

func (f *fakeEvaluator) Evaluate(request *AccessRequest, result *AccessResult) {
	if f.panics {
		panic("boom")
	}
	if f.matches != nil && !f.matches(request) {
		return
	}

	if !f.auditOnly {
		result.PolicyID = f.policy.ID
		result.Reason = f.reason
		result.IsAllowed = f.allow
		result.IsAccessDetermined = true
	}

	if f.setsAudit {
		result.IsAudited = f.auditValue
		result.IsAuditedDetermined = true
	}
}

func (f *fakeEvaluator) IsAccessAllowed(resource AccessResource, user string, groups map[string]struct{}, accessType string) bool {
	req := &AccessRequest{Resource: resource, User: user, UserGroups: groups, AccessType: accessType}
	if f.matches != nil && !f.matches(req) {
		return false
	}
	return f.allow
}

func (f *fakeEvaluator) IsSingleAndExactMatch(resource AccessResource) bool {
	if f.exactMatchResources == nil {
		return false
	}
	return f.exactMatchResources[resourceFingerprint(resource)]
}

func (f *fakeEvaluator) IsFinalDecider() bool { return f.finalDecider }

func (f *fakeEvaluator) GetPolicy() Policy { return f.policy }

// matchAction returns a matches function that fires when request.Action
// equals action.
func matchAction(action string) func(*AccessRequest) bool {
	return func(r *AccessRequest) bool { return r.Action == action }
}

// matchAlways always fires.
func matchAlways(*AccessRequest) bool { return true }
