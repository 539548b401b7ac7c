package policyengine

import (
	"testing"
)

func testServiceDef(name string) *ServiceDef {
	return &ServiceDef{Name: name, Kind: "test-service"}
}

func newTestEngine(t *testing.T, resourceEvaluators, tagEvaluators []PolicyEvaluator, opts *Options) *Engine {
	t.Helper()

	policies := ServicePolicies{
		ServiceName:   "sales-db",
		ServiceDef:    testServiceDef("sales-db"),
		PolicyVersion: 1,
		Evaluators:    resourceEvaluators,
	}
	if tagEvaluators != nil {
		policies.TagPolicies = &TagPolicies{
			ServiceName: "tag",
			ServiceDef:  testServiceDef("tag"),
			Evaluators:  tagEvaluators,
		}
	}

	engine, err := NewEngine(policies, opts, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func withTags(names ...string) *AccessRequest {
	tags := make([]ResourceTag, 0, len(names))
	for _, n := range names {
		tags = append(tags, ResourceTag{Name: n})
	}
	return &AccessRequest{
		Context: map[string]any{ContextTags: tags},
	}
}

// Scenario 1 from spec.md §8: no tags, resource policy allows and an
// audit-only evaluator sets audit. Expect allow, audited, policy E2.
func TestIsAccessAllowed_ResourceStageOnly_Allows(t *testing.T) {
	e2 := &fakeEvaluator{
		policy:  Policy{ID: "E2", Resources: AccessResource{"db": "sales"}},
		matches: matchAction("read"),
		allow:   true,
	}
	ae := &fakeEvaluator{
		policy:     Policy{ID: "AE"},
		matches:    matchAlways,
		setsAudit:  true,
		auditValue: true,
		auditOnly:  true,
	}

	engine := newTestEngine(t, []PolicyEvaluator{e2, ae}, nil, nil)

	req := &AccessRequest{
		User:       "alice",
		Action:     "read",
		Resource:   AccessResource{"db": "sales"},
		Context:    map[string]any{},
	}

	result := engine.IsAccessAllowed(req, nil)

	if !result.IsAllowed || !result.IsAccessDetermined {
		t.Fatalf("expected allow+determined, got %+v", result)
	}
	if result.PolicyID != "E2" {
		t.Fatalf("expected policyId E2, got %q", result.PolicyID)
	}
	if !result.IsAudited || !result.IsAuditedDetermined {
		t.Fatalf("expected audited, got %+v", result)
	}
}

// Scenario 2: a PII tag deny overrides the resource allow.
func TestIsAccessAllowed_TagDenyOverridesResourceAllow(t *testing.T) {
	e1 := &fakeEvaluator{
		policy:     Policy{ID: "E1"},
		matches:    func(r *AccessRequest) bool { return r.Resource["tag"] == "PII" },
		allow:      false,
		setsAudit:  true,
		auditValue: true,
	}
	e2 := &fakeEvaluator{
		policy:  Policy{ID: "E2", Resources: AccessResource{"db": "sales"}},
		matches: matchAction("read"),
		allow:   true,
	}

	engine := newTestEngine(t, []PolicyEvaluator{e2}, []PolicyEvaluator{e1}, nil)

	req := withTags("PII")
	req.User = "alice"
	req.Action = "read"
	req.Resource = AccessResource{"db": "sales"}

	result := engine.IsAccessAllowed(req, nil)

	if result.IsAllowed {
		t.Fatalf("expected deny, got %+v", result)
	}
	if !result.IsAccessDetermined {
		t.Fatalf("expected determined, got %+v", result)
	}
	if result.PolicyID != "E1" {
		t.Fatalf("expected policyId E1, got %q", result.PolicyID)
	}
	if !result.IsAudited {
		t.Fatalf("expected audited true at tag level, got %+v", result)
	}
}

// Scenario 3: PUBLIC allows, PII denies -> deny overrides, and the
// reduced audit events (captured via TagAuditSink) retain only the deny.
func TestIsAccessAllowed_DenyOverridesAcrossMultipleTags_PrunesAuditEvents(t *testing.T) {
	publicAllow := &fakeEvaluator{
		policy:     Policy{ID: "PUB"},
		matches:    func(r *AccessRequest) bool { return r.Resource["tag"] == "PUBLIC" },
		allow:      true,
		setsAudit:  true,
		auditValue: true,
	}
	piiDeny := &fakeEvaluator{
		policy:     Policy{ID: "E1"},
		matches:    func(r *AccessRequest) bool { return r.Resource["tag"] == "PII" },
		allow:      false,
		setsAudit:  true,
		auditValue: true,
	}

	var captured []TagAuditRecord
	opts := &Options{
		TagAuditSink: func(user string, events []TagAuditRecord) {
			captured = events
		},
	}

	engine := newTestEngine(t, nil, []PolicyEvaluator{publicAllow, piiDeny}, opts)

	req := withTags("PUBLIC", "PII")
	req.User = "alice"
	req.Action = "read"
	req.Resource = AccessResource{"db": "sales"}

	result := engine.IsAccessAllowed(req, nil)

	if result.IsAllowed {
		t.Fatalf("expected deny (deny overrides allow), got %+v", result)
	}

	for _, ev := range captured {
		if ev.Allowed {
			t.Fatalf("expected pruned audit events to contain no allow entries, got %+v", captured)
		}
	}
	if len(captured) != 1 || captured[0].TagName != "PII" {
		t.Fatalf("expected exactly the PII deny event retained, got %+v", captured)
	}
}

// Scenario 4: no access-determining evaluator, only an audit-only one.
func TestIsAccessAllowed_AuditOnlyLeavesAccessUndetermined(t *testing.T) {
	ae := &fakeEvaluator{
		policy:     Policy{ID: "AE"},
		matches:    matchAlways,
		setsAudit:  true,
		auditValue: true,
		auditOnly:  true,
	}

	engine := newTestEngine(t, []PolicyEvaluator{ae}, nil, nil)

	req := &AccessRequest{
		User:     "bob",
		Action:   "write",
		Resource: AccessResource{"db": "sales"},
		Context:  map[string]any{},
	}

	result := engine.IsAccessAllowed(req, nil)

	if result.IsAllowed {
		t.Fatalf("expected not allowed, got %+v", result)
	}
	if result.IsAccessDetermined {
		t.Fatalf("expected access undetermined, got %+v", result)
	}
	if !result.IsAudited || !result.IsAuditedDetermined {
		t.Fatalf("expected audited+determined, got %+v", result)
	}
}

// Audit monotonicity (spec.md §8 property 4): a tag policy that only ever
// determines the audit flag, never access, must still make the final
// result's IsAuditedDetermined true. Regression test for a bug where the
// anyRequiredAudit branch in evaluateTagPolicies set IsAudited but left
// IsAuditedDetermined false, silently dropping the tag-stage audit signal.
func TestIsAccessAllowed_TagAuditOnlyLeavesAccessUndeterminedButAuditsTrue(t *testing.T) {
	tagAuditOnly := &fakeEvaluator{
		policy:     Policy{ID: "TAG_AE"},
		matches:    matchAlways,
		setsAudit:  true,
		auditValue: true,
		auditOnly:  true,
	}

	engine := newTestEngine(t, nil, []PolicyEvaluator{tagAuditOnly}, nil)

	req := withTags("PII")
	req.User = "bob"
	req.Action = "write"
	req.Resource = AccessResource{"db": "sales"}

	result := engine.IsAccessAllowed(req, nil)

	if result.IsAllowed {
		t.Fatalf("expected not allowed, got %+v", result)
	}
	if result.IsAccessDetermined {
		t.Fatalf("expected access undetermined, got %+v", result)
	}
	if !result.IsAudited {
		t.Fatalf("expected audited true, got %+v", result)
	}
	if !result.IsAuditedDetermined {
		t.Fatalf("expected audited-determined true from the tag stage, got %+v", result)
	}
}

// Scenario 5: GetExactMatchPolicy returns the exact-match evaluator's policy.
func TestGetExactMatchPolicy(t *testing.T) {
	target := AccessResource{"db": "sales", "table": "orders"}
	exact := &fakeEvaluator{
		policy:              Policy{ID: "EXACT"},
		exactMatchResources: map[string]bool{resourceFingerprint(target): true},
	}
	other := &fakeEvaluator{policy: Policy{ID: "OTHER"}}

	engine := newTestEngine(t, []PolicyEvaluator{other, exact}, nil, nil)

	policy := engine.GetExactMatchPolicy(target)
	if policy == nil || policy.ID != "EXACT" {
		t.Fatalf("expected EXACT policy, got %+v", policy)
	}

	none := engine.GetExactMatchPolicy(AccessResource{"db": "other"})
	if none != nil {
		t.Fatalf("expected no exact match, got %+v", none)
	}
}

// Scenario 6: GetAllowedPolicies returns matching policies in order.
func TestGetAllowedPolicies(t *testing.T) {
	// Each evaluator matches only its own policy's resource, so the
	// engine-wide re-query for a policy's resources is answered by that
	// policy alone.
	p1 := &fakeEvaluator{policy: Policy{ID: "P1", Resources: AccessResource{"db": "sales"}}, matches: func(r *AccessRequest) bool { return r.Resource["db"] == "sales" }, allow: true}
	p2 := &fakeEvaluator{policy: Policy{ID: "P2", Resources: AccessResource{"db": "hr"}}, matches: func(r *AccessRequest) bool { return r.Resource["db"] == "hr" }, allow: false}
	p3 := &fakeEvaluator{policy: Policy{ID: "P3", Resources: AccessResource{"db": "finance"}}, matches: func(r *AccessRequest) bool { return r.Resource["db"] == "finance" }, allow: true}

	engine := newTestEngine(t, []PolicyEvaluator{p1, p2, p3}, nil, nil)

	groups := UserGroupSet("eng")
	policies := engine.GetAllowedPolicies("alice", groups, "read")

	if len(policies) != 2 || policies[0].ID != "P1" || policies[1].ID != "P3" {
		t.Fatalf("expected [P1 P3] in order, got %+v", policies)
	}
}

// Property 1: determinism.
func TestIsAccessAllowed_Deterministic(t *testing.T) {
	e2 := &fakeEvaluator{policy: Policy{ID: "E2"}, matches: matchAction("read"), allow: true, setsAudit: true, auditValue: true}
	engine := newTestEngine(t, []PolicyEvaluator{e2}, nil, nil)

	req := &AccessRequest{User: "alice", Action: "read", Resource: AccessResource{"db": "sales"}, Context: map[string]any{}}

	first := engine.IsAccessAllowed(req, nil)
	second := engine.IsAccessAllowed(req, nil)

	if *first != *second {
		t.Fatalf("expected identical results across calls, got %+v vs %+v", first, second)
	}
}

// Property 7: final-decider stops the per-tag loop even though it is
// reported after Evaluate runs, regardless of whether it determined
// anything.
func TestEvaluateTagPolicies_FinalDeciderStopsLoop(t *testing.T) {
	calledSecond := false
	final := &fakeEvaluator{
		policy:       Policy{ID: "FINAL"},
		matches:      func(*AccessRequest) bool { return false }, // leaves result undetermined
		finalDecider: true,
	}
	second := &fakeEvaluator{
		policy: Policy{ID: "SECOND"},
		matches: func(r *AccessRequest) bool {
			calledSecond = true
			return true
		},
		allow: true,
	}

	engine := newTestEngine(t, nil, []PolicyEvaluator{final, second}, nil)

	req := withTags("ANY")
	req.Action = "read"

	engine.IsAccessAllowed(req, nil)

	if calledSecond {
		t.Fatalf("expected evaluator after a final decider to not run")
	}
}

// Property 8: short-circuit once both determined flags are set.
func TestIsAccessAllowedNoAudit_ShortCircuitsResourceStage(t *testing.T) {
	calledThird := false
	first := &fakeEvaluator{policy: Policy{ID: "FIRST"}, matches: matchAlways, allow: true, setsAudit: true, auditValue: true}
	third := &fakeEvaluator{
		policy: Policy{ID: "THIRD"},
		matches: func(*AccessRequest) bool {
			calledThird = true
			return true
		},
	}

	engine := newTestEngine(t, []PolicyEvaluator{first, third}, nil, nil)

	req := &AccessRequest{Action: "read", Resource: AccessResource{"db": "sales"}, Context: map[string]any{}}
	engine.IsAccessAllowed(req, nil)

	if calledThird {
		t.Fatalf("expected evaluation to stop once access and audit are both determined")
	}
}

// Property 9: the tag-synthesised request shares the context map by
// reference with the original request.
func TestNewTagAccessRequest_SharesContextByReference(t *testing.T) {
	original := &AccessRequest{
		Action:  "read",
		Context: map[string]any{"k": "v"},
	}

	tagReq := newTagAccessRequest(ResourceTag{Name: "PII"}, "sales-db", original)
	tagReq.Context["added"] = "x"

	if original.Context["added"] != "x" {
		t.Fatalf("expected write through tag request context to be visible on original")
	}
	if _, ok := original.Context[ContextTagObject]; !ok {
		t.Fatalf("expected CONTEXT_TAG_OBJECT to be set on the shared context")
	}
}

// Property 6: cache transparency — disabling the audit cache (size 0)
// does not change any decision field.
func TestAuditCache_DisabledDoesNotChangeDecision(t *testing.T) {
	ae := &fakeEvaluator{policy: Policy{ID: "AE"}, matches: matchAlways, allow: true, setsAudit: true, auditValue: true}

	withCache := newTestEngine(t, []PolicyEvaluator{ae}, nil, &Options{AuditCacheSize: 10})
	withoutCache := newTestEngine(t, []PolicyEvaluator{ae}, nil, &Options{AuditCacheSize: 0})

	req := func() *AccessRequest {
		return &AccessRequest{Action: "read", Resource: AccessResource{"db": "sales"}, Context: map[string]any{}}
	}

	r1 := withCache.IsAccessAllowed(req(), nil)
	r2 := withCache.IsAccessAllowed(req(), nil)
	r3 := withoutCache.IsAccessAllowed(req(), nil)

	if r1.IsAllowed != r3.IsAllowed || r1.IsAudited != r3.IsAudited || r1.IsAuditedDetermined != r3.IsAuditedDetermined {
		t.Fatalf("expected cache to not change outcome: %+v vs %+v", r1, r3)
	}
	if r2.IsAllowed != r1.IsAllowed {
		t.Fatalf("expected repeated decisions to remain stable: %+v vs %+v", r1, r2)
	}
}

// A nil request returns an undetermined result rather than panicking.
func TestIsAccessAllowed_NilRequest(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	result := engine.IsAccessAllowed(nil, nil)
	if result == nil {
		t.Fatal("expected a non-nil undetermined result")
	}
	if result.IsAllowed || result.IsAccessDetermined {
		t.Fatalf("expected deny-by-default undetermined result, got %+v", result)
	}
}

// A panicking evaluator is treated as producing no determination, and
// evaluation continues with the next evaluator.
func TestIsAccessAllowed_PanickingEvaluatorIsRecovered(t *testing.T) {
	bad := &fakeEvaluator{policy: Policy{ID: "BAD"}, matches: matchAlways, panics: true}
	good := &fakeEvaluator{policy: Policy{ID: "GOOD"}, matches: matchAlways, allow: true, setsAudit: true, auditValue: true}

	engine := newTestEngine(t, []PolicyEvaluator{bad, good}, nil, nil)

	req := &AccessRequest{Action: "read", Resource: AccessResource{"db": "sales"}, Context: map[string]any{}}
	result := engine.IsAccessAllowed(req, nil)

	if !result.IsAllowed || result.PolicyID != "GOOD" {
		t.Fatalf("expected GOOD to still decide despite BAD panicking, got %+v", result)
	}
}

// EnrichContext runs enrichers in order and tolerates a panic from any one
// of them without aborting the chain.
func TestEnrichContext_TolerantOfPanickingEnricher(t *testing.T) {
	panicEnricher := ContextEnricherFunc(func(*AccessRequest) { panic("nope") })
	settingEnricher := ContextEnricherFunc(func(r *AccessRequest) {
		r.Context["set"] = true
	})

	policies := ServicePolicies{
		ServiceName: "svc",
		ServiceDef:  testServiceDef("svc"),
		Evaluators:  nil,
		Enrichers:   []ContextEnricher{panicEnricher, settingEnricher},
	}
	engine, err := NewEngine(policies, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	req := &AccessRequest{}
	engine.EnrichContext(req)

	if req.Context["set"] != true {
		t.Fatalf("expected the enricher after the panicking one to still run")
	}
}

func TestNewEngine_RequiresServiceNameAndDef(t *testing.T) {
	_, err := NewEngine(ServicePolicies{}, nil, nil)
	if err == nil {
		t.Fatal("expected a ConfigurationError for missing service name/def")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
}
