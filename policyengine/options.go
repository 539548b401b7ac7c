package policyengine

// TagPolicies mirrors ServicePolicies.TagPolicies from spec.md §6: a tag
// family is described the same way a resource family is, just evaluated
// against the "tag" resource dimension.
type TagPolicies struct {
	ServiceName string
	ServiceDef  *ServiceDef
	Evaluators  []PolicyEvaluator
	Enrichers   []ContextEnricher
}

// ServicePolicies is the already-built policy set the engine consumes.
// Building it (fetching, parsing, versioning) is the named-interface
// collaborator spec.md §1 places out of scope; see package fetcher.
type ServicePolicies struct {
	ServiceName   string
	ServiceDef    *ServiceDef
	PolicyVersion int64
	Evaluators    []PolicyEvaluator
	Enrichers     []ContextEnricher

	TagPolicies *TagPolicies
}

// Options configures engine construction. Unknown/zero-value options are
// ignored rather than rejected, per spec.md §6.
type Options struct {
	// DisableTagPolicyEvaluation skips building a tag repository even if
	// ServicePolicies.TagPolicies is present.
	DisableTagPolicyEvaluation bool

	// AuditCacheSize bounds each repository's audit cache. Zero disables
	// caching without changing any decision (spec.md §8 property 6).
	AuditCacheSize int

	// TagAuditSink, if non-nil, receives the reduced per-tag audit event
	// list after each tag-stage evaluation whose reduced list is non-empty;
	// only tags whose access and audit were both determined produce an
	// event. See DESIGN.md Open Question 1. The engine's decision
	// behavior does not depend on whether a sink is installed.
	TagAuditSink func(requestUser string, events []TagAuditRecord)
}

// TagAuditRecord is the exported, read-only view of a tag audit event
// handed to an installed Options.TagAuditSink.
type TagAuditRecord struct {
	TagName  string
	PolicyID string
	Allowed  bool
	Reason   string
}
