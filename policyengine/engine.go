package policyengine

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine is the top-level orchestrator: context enrichment, the two-stage
// (tag-first, then resource) evaluation, short-circuiting, combination of
// per-tag verdicts, and audit-decision caching. An Engine is built once
// from a ServicePolicies snapshot and is immutable thereafter; a policy
// update builds a new Engine and swaps the reference atomically at the
// host level.
type Engine struct {
	resourceRepo *Repository
	tagRepo      *Repository // nil when tag evaluation is absent/disabled

	allEnrichers []ContextEnricher

	opts Options
	log  *zap.Logger
}

// NewEngine builds an immutable Engine from policies and opts. opts may
// be nil, in which case defaults are used. Construction fails atomically
// with a *ConfigurationError; no partially built engine is returned.
func NewEngine(policies ServicePolicies, opts *Options, log *zap.Logger) (*Engine, error) {
	if policies.ServiceName == "" {
		return nil, newConfigurationError("service name is required")
	}
	if policies.ServiceDef == nil {
		return nil, newConfigurationError("service definition is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts == nil {
		opts = &Options{}
	}

	resourceRepo := NewRepository(policies.ServiceName, policies.ServiceDef, policies.PolicyVersion, policies.Evaluators, policies.Enrichers, opts.AuditCacheSize, log)

	var tagRepo *Repository
	tp := policies.TagPolicies
	if !opts.DisableTagPolicyEvaluation && tp != nil && tp.ServiceName != "" && tp.ServiceDef != nil && len(tp.Evaluators) > 0 {
		tagRepo = NewRepository(tp.ServiceName, tp.ServiceDef, policies.PolicyVersion, tp.Evaluators, tp.Enrichers, opts.AuditCacheSize, log)
	}

	allEnrichers := concatEnrichers(tagRepo, resourceRepo)

	return &Engine{
		resourceRepo: resourceRepo,
		tagRepo:      tagRepo,
		allEnrichers: allEnrichers,
		opts:         *opts,
		log:          log,
	}, nil
}

// concatEnrichers runs tag enrichers first so resource enrichers may
// observe tags.
func concatEnrichers(tagRepo, resourceRepo *Repository) []ContextEnricher {
	var tagEnrichers, resourceEnrichers []ContextEnricher
	if tagRepo != nil {
		tagEnrichers = tagRepo.Enrichers()
	}
	if resourceRepo != nil {
		resourceEnrichers = resourceRepo.Enrichers()
	}

	if len(tagEnrichers) == 0 {
		return resourceEnrichers
	}
	if len(resourceEnrichers) == 0 {
		return tagEnrichers
	}

	all := make([]ContextEnricher, 0, len(tagEnrichers)+len(resourceEnrichers))
	all = append(all, tagEnrichers...)
	all = append(all, resourceEnrichers...)
	return all
}

// GetServiceName returns the resource policy family's service name.
func (e *Engine) GetServiceName() string { return e.resourceRepo.ServiceName }

// GetServiceDef returns the resource policy family's service definition.
func (e *Engine) GetServiceDef() *ServiceDef { return e.resourceRepo.ServiceDef }

// GetPolicyVersion returns the resource policy family's version.
func (e *Engine) GetPolicyVersion() int64 { return e.resourceRepo.PolicyVersion }

// CreateAccessResult seeds a fresh AccessResult from request's service
// back-references.
func (e *Engine) CreateAccessResult(request *AccessRequest) *AccessResult {
	serviceName := e.GetServiceName()
	serviceDef := e.GetServiceDef()
	if request != nil {
		if request.ServiceName != "" {
			serviceName = request.ServiceName
		}
		if request.ServiceDef != nil {
			serviceDef = request.ServiceDef
		}
	}
	return newAccessResult(serviceName, serviceDef)
}

// EnrichContext runs every enricher, tag enrichers first, against
// request.Context in place. No enricher's panic aborts the chain.
func (e *Engine) EnrichContext(request *AccessRequest) {
	e.log.Debug("==> EnrichContext")
	defer e.log.Debug("<== EnrichContext")

	if request == nil {
		return
	}
	request.EnsureContext()
	for _, enricher := range e.allEnrichers {
		e.safeEnrich(enricher, request)
	}
}

// EnrichContexts enriches a batch of requests, running each enricher
// against every request before moving to the next enricher, mirroring
// RangerPolicyEngineImpl.enrichContext(Collection).
func (e *Engine) EnrichContexts(requests []*AccessRequest) {
	if len(requests) == 0 || len(e.allEnrichers) == 0 {
		return
	}
	for _, enricher := range e.allEnrichers {
		for _, request := range requests {
			if request == nil {
				continue
			}
			request.EnsureContext()
			e.safeEnrich(enricher, request)
		}
	}
}

func (e *Engine) safeEnrich(enricher ContextEnricher, request *AccessRequest) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("context enricher panicked; request continues unenriched by it", zap.Any("panic", r))
		}
	}()
	enricher.Enrich(request)
}

// IsAccessAllowed is the main decision entry point. It evaluates the tag
// stage first (when a tag repository exists); a determined tag verdict
// wins outright and the resource stage is not consulted. Otherwise the
// resource stage runs. resultProcessor, if non-nil, is invoked with the
// final result as an auditing side effect after the decision is made; its
// panics/errors never affect the returned decision.
//
// A nil request returns an undetermined (deny-by-default) result.
func (e *Engine) IsAccessAllowed(request *AccessRequest, resultProcessor AccessResultProcessor) *AccessResult {
	e.log.Debug("==> IsAccessAllowed")
	defer e.log.Debug("<== IsAccessAllowed")

	result := e.isAccessAllowedNoAudit(request)

	if resultProcessor != nil {
		e.safeProcess(func() { resultProcessor.ProcessResult(result) })
	}

	return result
}

// IsAccessAllowedBatch evaluates each request independently and invokes
// resultProcessor once with the full collection, mirroring
// RangerPolicyEngineImpl.isAccessAllowed(Collection, processor). A nil
// entry in requests is skipped.
func (e *Engine) IsAccessAllowedBatch(requests []*AccessRequest, resultProcessor AccessResultProcessor) []*AccessResult {
	results := make([]*AccessResult, 0, len(requests))
	for _, request := range requests {
		if request == nil {
			continue
		}
		results = append(results, e.isAccessAllowedNoAudit(request))
	}

	if resultProcessor != nil {
		e.safeProcess(func() { resultProcessor.ProcessResults(results) })
	}

	return results
}

func (e *Engine) safeProcess(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("access result processor panicked; decision already returned", zap.Any("panic", r))
		}
	}()
	fn()
}

// IsAccessAllowedDirect is the simple, short-circuiting "any" predicate:
// it returns true on the first resource evaluator whose direct predicate
// matches. It does not consult tag policies and does not update audit
// state.
func (e *Engine) IsAccessAllowedDirect(resource AccessResource, user string, groups map[string]struct{}, accessType string) bool {
	for _, evaluator := range e.resourceRepo.Evaluators() {
		if e.safeIsAccessAllowed(evaluator, resource, user, groups, accessType) {
			return true
		}
	}
	return false
}

func (e *Engine) safeIsAccessAllowed(evaluator PolicyEvaluator, resource AccessResource, user string, groups map[string]struct{}, accessType string) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("policy evaluator panicked during direct predicate", zap.Any("panic", r))
			allowed = false
		}
	}()
	return evaluator.IsAccessAllowed(resource, user, groups, accessType)
}

// GetExactMatchPolicy returns the first resource policy whose evaluator
// reports an exact, single match for resource, or nil.
func (e *Engine) GetExactMatchPolicy(resource AccessResource) *Policy {
	for _, evaluator := range e.resourceRepo.Evaluators() {
		if evaluator.IsSingleAndExactMatch(resource) {
			policy := evaluator.GetPolicy()
			return &policy
		}
	}
	return nil
}

// GetAllowedPolicies returns, in evaluator order, every resource policy
// whose resource spec the direct predicate allows for (user, groups,
// accessType).
func (e *Engine) GetAllowedPolicies(user string, groups map[string]struct{}, accessType string) []Policy {
	var allowed []Policy
	for _, evaluator := range e.resourceRepo.Evaluators() {
		policy := evaluator.GetPolicy()
		if e.IsAccessAllowedDirect(policy.Resources, user, groups, accessType) {
			allowed = append(allowed, policy)
		}
	}
	return allowed
}

func (e *Engine) isAccessAllowedNoAudit(request *AccessRequest) *AccessResult {
	result := e.CreateAccessResult(request)
	if request == nil {
		return result
	}

	if e.tagRepo != nil {
		tagResult := e.evaluateTagPolicies(request)
		if tagResult.IsAccessDetermined {
			return tagResult
		}
		// A determined audit flag from the tag stage is authoritative
		// even when access itself was not determined there.
		if tagResult.IsAuditedDetermined {
			result.IsAudited = tagResult.IsAudited
			result.IsAuditedDetermined = tagResult.IsAuditedDetermined
		}
	}

	foundInCache := e.resourceRepo.SetAuditEnabledFromCache(request, result)

	var evalErr error
	for _, evaluator := range e.resourceRepo.Evaluators() {
		evalErr = multierr.Append(evalErr, e.safeEvaluate(evaluator, request, result))
		if result.IsAccessDetermined && result.IsAuditedDetermined {
			break
		}
	}
	if evalErr != nil {
		e.log.Error("one or more resource evaluators recovered from a panic; evaluation continued", zap.Error(evalErr))
	}

	if !foundInCache {
		e.resourceRepo.StoreAuditEnabledInCache(request, result)
	}

	return result
}

// safeEvaluate recovers a panicking evaluator and reports it as an error
// instead of letting it escape: an offending evaluator is treated as
// producing no determination, and evaluation continues with the next
// one.
func (e *Engine) safeEvaluate(evaluator PolicyEvaluator, request *AccessRequest, result *AccessResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy evaluator panicked: %v", r)
		}
	}()
	evaluator.Evaluate(request, result)
	return nil
}

// evaluateTagPolicies runs the tag stage described in spec.md §4.2:
// for each tag in order, walk the tag repository's evaluators until a
// final decider runs or the per-tag result is fully determined; combine
// all tags' verdicts with deny-overrides-allow; and, if any tag required
// audit, reduce and optionally publish the accumulated audit events.
func (e *Engine) evaluateTagPolicies(request *AccessRequest) *AccessResult {
	e.log.Debug("==> evaluateTagPolicies")
	defer e.log.Debug("<== evaluateTagPolicies")

	result := e.CreateAccessResult(request)

	tags := request.Tags()
	if e.tagRepo == nil || len(tags) == 0 {
		return result
	}

	evaluators := e.tagRepo.Evaluators()
	if len(evaluators) == 0 {
		return result
	}

	var (
		anyDenied        bool
		anyAllowed       bool
		anyRequiredAudit bool
		allowedResult    = e.CreateAccessResult(request)
		deniedResult     = e.CreateAccessResult(request)
		events           []tagAuditEvent
		evalErr          error
	)

	componentName := e.GetServiceDef().Name

	for _, tag := range tags {
		tagRequest := newTagAccessRequest(tag, componentName, request)
		tagResult := e.CreateAccessResult(tagRequest)

		for _, evaluator := range evaluators {
			evalErr = multierr.Append(evalErr, e.safeEvaluate(evaluator, tagRequest, tagResult))

			if evaluator.IsFinalDecider() || (tagResult.IsAccessDetermined && tagResult.IsAuditedDetermined) {
				break
			}
		}

		if tagResult.IsAuditedDetermined {
			anyRequiredAudit = true
			if tagResult.IsAccessDetermined {
				events = append(events, tagAuditEvent{tagName: tag.Name, result: tagResult})
			}
		}

		if tagResult.IsAccessDetermined {
			if tagResult.IsAllowed {
				anyAllowed = true
				allowedResult.CopyFrom(tagResult)
			} else {
				anyDenied = true
				deniedResult.CopyFrom(tagResult)
			}
		}
	}

	if evalErr != nil {
		e.log.Error("one or more tag evaluators recovered from a panic; evaluation continued", zap.Error(evalErr))
	}

	switch {
	case anyDenied:
		result.CopyFrom(deniedResult)
	case anyAllowed:
		result.CopyFrom(allowedResult)
	}

	if anyRequiredAudit {
		result.IsAudited = true
		result.IsAuditedDetermined = true
		events = reduceTagAuditEvents(events, anyDenied)
		e.publishTagAuditEvents(request.User, events)
	}

	return result
}

func (e *Engine) publishTagAuditEvents(user string, events []tagAuditEvent) {
	if e.opts.TagAuditSink == nil || len(events) == 0 {
		return
	}
	records := make([]TagAuditRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, TagAuditRecord{
			TagName:  ev.tagName,
			PolicyID: ev.result.PolicyID,
			Allowed:  ev.result.IsAllowed,
			Reason:   ev.result.Reason,
		})
	}
	e.opts.TagAuditSink(user, records)
}

func (e *Engine) String() string {
	return fmt.Sprintf("Engine={serviceName=%s %s}", e.GetServiceName(), e.resourceRepo)
}
