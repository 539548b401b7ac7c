package policyengine

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/polyauthz/policyengine/auditcache"
)

// Repository holds the ordered evaluator and enricher lists for one
// policy family (resource or tag), plus its audit-enabled cache. It is
// immutable after construction except for the cache, which is the only
// mutable shared structure the engine owns.
type Repository struct {
	ServiceName   string
	ServiceDef    *ServiceDef
	PolicyVersion int64

	evaluators []PolicyEvaluator
	enrichers  []ContextEnricher
	cache      *auditcache.Cache

	log *zap.Logger
}

// NewRepository builds a Repository from an ordered evaluator list
// (ordering must already reflect the desired policy priority; the
// repository does not re-sort), an ordered enricher list, and the audit
// cache size from Options.
func NewRepository(serviceName string, serviceDef *ServiceDef, policyVersion int64, evaluators []PolicyEvaluator, enrichers []ContextEnricher, cacheSize int, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{
		ServiceName:   serviceName,
		ServiceDef:    serviceDef,
		PolicyVersion: policyVersion,
		evaluators:    evaluators,
		enrichers:     enrichers,
		cache:         auditcache.New(cacheSize),
		log:           log,
	}
}

// Evaluators returns the ordered evaluator list.
func (r *Repository) Evaluators() []PolicyEvaluator { return r.evaluators }

// Enrichers returns the ordered enricher list.
func (r *Repository) Enrichers() []ContextEnricher { return r.enrichers }

// SetAuditEnabledFromCache copies a cached (isAudited, isAuditedDetermined)
// pair for request's resource into result, returning true on a hit.
func (r *Repository) SetAuditEnabledFromCache(request *AccessRequest, result *AccessResult) bool {
	entry, ok := r.cache.Get(resourceFingerprint(request.Resource))
	if !ok {
		return false
	}
	result.IsAudited = entry.IsAudited
	result.IsAuditedDetermined = entry.IsAuditedDetermined
	return true
}

// StoreAuditEnabledInCache records result's audit pair under request's
// resource fingerprint, but only when IsAuditedDetermined is true —
// an undetermined audit flag is not safe to remember.
func (r *Repository) StoreAuditEnabledInCache(request *AccessRequest, result *AccessResult) {
	if !result.IsAuditedDetermined {
		return
	}
	r.cache.Set(resourceFingerprint(request.Resource), auditcache.Entry{
		IsAudited:           result.IsAudited,
		IsAuditedDetermined: result.IsAuditedDetermined,
	})
}

// CacheStats exposes the audit cache's hit/miss counters for diagnostics.
func (r *Repository) CacheStats() auditcache.Stats {
	return r.cache.Stats()
}

func (r *Repository) String() string {
	return "Repository={serviceName=" + r.ServiceName +
		" evaluators=" + strconv.Itoa(len(r.evaluators)) +
		" enrichers=" + strconv.Itoa(len(r.enrichers)) + "}"
}
