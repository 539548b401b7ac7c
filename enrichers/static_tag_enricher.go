package enrichers

import "github.com/polyauthz/policyengine/policyengine"

// StaticTagEnricher resolves tags from an in-memory map keyed by the same
// resourceTagKey form RedisTagEnricher uses. It exists for tests and the
// demo binary, where standing up Redis is unnecessary.
type StaticTagEnricher struct {
	tags map[string][]policyengine.ResourceTag
}

// NewStaticTagEnricher builds an enricher with no tags registered.
func NewStaticTagEnricher() *StaticTagEnricher {
	return &StaticTagEnricher{tags: make(map[string][]policyengine.ResourceTag)}
}

// Register associates resource with the given tags.
func (e *StaticTagEnricher) Register(resource policyengine.AccessResource, tags ...policyengine.ResourceTag) {
	e.tags[resourceTagKey(resource)] = tags
}

// Enrich attaches any registered tags for request.Resource.
func (e *StaticTagEnricher) Enrich(request *policyengine.AccessRequest) {
	tags, ok := e.tags[resourceTagKey(request.Resource)]
	if !ok {
		return
	}
	request.EnsureContext()[policyengine.ContextTags] = tags
}
