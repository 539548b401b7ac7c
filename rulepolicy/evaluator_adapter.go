package rulepolicy

import (
	"fmt"
	"sort"

	"github.com/polyauthz/policyengine/policyengine"
)

// Evaluator adapts one compiled Policy to the policyengine.PolicyEvaluator
// contract, so a rule document compiles straight into evaluators a
// policyengine.Repository can hold: one Evaluator per Policy, run in
// repository order, instead of a single call folding every policy
// together.
type Evaluator struct {
	compiled  *compiledPolicy
	id        string
	resources policyengine.AccessResource
	final     bool
	auditOnly bool
}

// CompileEvaluators compiles every policy in doc into its own Evaluator.
// Compilation reuses compilePolicy, so condition syntax, default-effect
// resolution and rule validation are identical across all evaluators.
func CompileEvaluators(doc Document, opts ...EngineOption) ([]*Evaluator, error) {
	cfg := engineConfig{defaultEffect: EffectDeny}
	for _, opt := range opts {
		opt(&cfg)
	}
	if doc.DefaultEffect != nil {
		cfg.defaultEffect = *doc.DefaultEffect
	}
	if !cfg.defaultEffect.IsValid() {
		return nil, fmt.Errorf("invalid default effect %q", cfg.defaultEffect)
	}

	evaluators := make([]*Evaluator, 0, len(doc.Policies))
	for idx := range doc.Policies {
		policy := doc.Policies[idx]

		cp, err := compilePolicy(policy, cfg)
		if err != nil {
			return nil, fmt.Errorf("compile policy %q: %w", policy.Name, err)
		}

		resources := make(policyengine.AccessResource, len(policy.Resources))
		for k, v := range policy.Resources {
			resources[k] = v
		}

		evaluators = append(evaluators, &Evaluator{
			compiled:  cp,
			id:        policy.ID,
			resources: resources,
			final:     policy.FinalDecider,
			auditOnly: policy.AuditOnly,
		})
	}

	return evaluators, nil
}

// Evaluate runs this policy's rules in order and stops at the first match.
// A policy compiled with AuditOnly never sets IsAllowed/IsAccessDetermined,
// PolicyID or Reason; it only ever contributes an audit determination, the
// same role Ranger gives "audit-only" tag policies.
func (e *Evaluator) Evaluate(request *policyengine.AccessRequest, result *policyengine.AccessResult) {
	env := requestEnv(request)

	for _, rule := range e.compiled.rules {
		matched, err := rule.evaluate(env)
		if err != nil {
			// A broken condition is this rule's problem, not the whole
			// policy's: skip it and keep trying the rest.
			continue
		}
		if !matched {
			continue
		}

		if !e.auditOnly {
			result.PolicyID = e.id
			result.Reason = rule.rule.Description
			result.IsAllowed = rule.rule.Effect == EffectAllow
			result.IsAccessDetermined = true
		}
		result.IsAudited = rule.rule.EffectiveAudit()
		result.IsAuditedDetermined = true
		return
	}

	if e.compiled.hasLocalDefault {
		if !e.auditOnly {
			result.PolicyID = e.id
			result.Reason = "policy default effect applied"
			result.IsAllowed = e.compiled.defaultEffect == EffectAllow
			result.IsAccessDetermined = true
		}
		result.IsAudited = true
		result.IsAuditedDetermined = true
	}
}

// IsAccessAllowed runs the same rule set as Evaluate but reports only the
// boolean outcome, for the engine's direct "does X allow Y" queries.
func (e *Evaluator) IsAccessAllowed(resource policyengine.AccessResource, user string, groups map[string]struct{}, accessType string) bool {
	request := &policyengine.AccessRequest{
		Resource:   resource,
		User:       user,
		UserGroups: groups,
		AccessType: accessType,
	}
	env := requestEnv(request)

	for _, rule := range e.compiled.rules {
		matched, err := rule.evaluate(env)
		if err != nil || !matched {
			continue
		}
		return rule.rule.Effect == EffectAllow
	}

	if e.compiled.hasLocalDefault {
		return e.compiled.defaultEffect == EffectAllow
	}

	return false
}

// IsSingleAndExactMatch reports whether resource equals this policy's
// declared Resources map exactly: same keys, same values, nothing more,
// nothing less.
func (e *Evaluator) IsSingleAndExactMatch(resource policyengine.AccessResource) bool {
	if len(e.resources) == 0 || len(e.resources) != len(resource) {
		return false
	}
	for k, v := range e.resources {
		if resource[k] != v {
			return false
		}
	}
	return true
}

// IsFinalDecider reports whether this policy was declared to always
// terminate the per-tag evaluator loop once it runs.
func (e *Evaluator) IsFinalDecider() bool { return e.final }

// GetPolicy returns the opaque descriptor the engine forwards into
// AccessResult.PolicyID and the allowed-policies query results.
func (e *Evaluator) GetPolicy() policyengine.Policy {
	return policyengine.Policy{
		ID:        e.id,
		Name:      e.compiled.policy.Name,
		Resources: e.resources,
	}
}

// requestEnv builds the expr evaluation environment from an access
// request: resource dimensions, user/group/action facts, and anything an
// enricher attached to Context (notably the resolved tag list).
func requestEnv(request *policyengine.AccessRequest) map[string]any {
	groups := make([]string, 0, len(request.UserGroups))
	for g := range request.UserGroups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	env := map[string]any{
		"resource":   map[string]string(request.Resource),
		"user":       request.User,
		"groups":     groups,
		"action":     request.Action,
		"accessType": request.AccessType,
		"clientType": request.ClientType,
		"clientIP":   request.ClientIPAddress,
		"sessionID":  request.SessionID,
	}

	for k, v := range request.Context {
		env[k] = v
	}

	if tag, ok := request.Context[policyengine.ContextTagObject].(policyengine.ResourceTag); ok {
		env["tag"] = map[string]any{
			"name":       tag.Name,
			"attributes": tag.Attributes,
		}
	}

	return env
}
