package rulepolicy

// Document describes a collection of policies that can be serialized as JSON or YAML.
type Document struct {
	Version       string   `json:"version,omitempty" yaml:"version,omitempty"`
	DefaultEffect *Effect  `json:"default_effect,omitempty" yaml:"default_effect,omitempty"`
	Policies      []Policy `json:"policies" yaml:"policies"`
}

// Policy groups a list of rules under a logical name.
//
// ID, Resources, FinalDecider and AuditOnly are additions over the
// teacher's original shape (see DESIGN.md): they let a compiled Policy
// serve as a policyengine.PolicyEvaluator — a resource spec to report
// from IsSingleAndExactMatch/GetPolicy, a final-decider flag for the
// per-tag loop, and an audit-only mode for policies that only ever
// determine the audit flag (never access itself).
type Policy struct {
	ID            string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultEffect *Effect           `json:"default_effect,omitempty" yaml:"default_effect,omitempty"`
	Rules         []Rule            `json:"rules" yaml:"rules"`
	Tags          []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Resources     map[string]string `json:"resources,omitempty" yaml:"resources,omitempty"`
	FinalDecider  bool              `json:"final_decider,omitempty" yaml:"final_decider,omitempty"`
	AuditOnly     bool              `json:"audit_only,omitempty" yaml:"audit_only,omitempty"`
}

// Rule contains a single expression condition paired with an outcome.
type Rule struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      Effect            `json:"effect" yaml:"effect"`
	Condition   string            `json:"condition" yaml:"condition"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// Audit sets the value of the audit flag a match on this rule records
	// (a match always makes the audit flag determined). nil means
	// "audited", matching Ranger's default-audited policy behaviour.
	Audit *bool `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// EffectiveAudit reports whether a match on this rule should be treated
// as audited: true unless Audit explicitly says otherwise.
func (r Rule) EffectiveAudit() bool {
	if r.Audit == nil {
		return true
	}
	return *r.Audit
}
