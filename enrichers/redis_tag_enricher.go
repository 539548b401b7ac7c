// Package enrichers supplies concrete policyengine.ContextEnricher
// implementations: the collaborators that attach a resource's resolved
// tag list to a request's Context before tag-stage evaluation runs.
package enrichers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/polyauthz/policyengine/policyengine"
)

// RedisTagEnricher resolves a resource's tags from a Redis-backed tag
// store, grounded on dev-mohitbeniwal-echo/api/db/redis.go's client
// construction and cache-lookup shape.
type RedisTagEnricher struct {
	client     *redis.Client
	logger     *zap.Logger
	lookupTime time.Duration
}

// RedisTagEnricherOptions configures client construction.
type RedisTagEnricherOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewRedisTagEnricher builds a RedisTagEnricher and verifies connectivity
// with a ping.
func NewRedisTagEnricher(opts RedisTagEnricherOptions, logger *zap.Logger) (*RedisTagEnricher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	logger.Info("connected to redis tag store", zap.String("addr", opts.Addr))
	return &RedisTagEnricher{client: client, logger: logger, lookupTime: 2 * time.Second}, nil
}

// resourceTagKey builds the tag-store key for a resource: "tags:" followed
// by "name=value;" for each dimension, in sorted name order. It is
// independent of the fingerprint the engine uses for its audit cache.
func resourceTagKey(resource policyengine.AccessResource) string {
	keys := make([]string, 0, len(resource))
	for k := range resource {
		keys = append(keys, k)
	}
	// Small maps; simple insertion sort keeps this file free of a sort
	// import for a handful of keys.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}

	key := "tags:"
	for _, k := range keys {
		key += k + "=" + resource[k] + ";"
	}
	return key
}

// Enrich looks up the resource's tags and, on a cache hit, attaches them
// under policyengine.ContextTags. A lookup failure or cache miss leaves
// the request's Context untouched: per spec.md §4.1 an enricher is
// expected to be total and never abort the chain.
func (e *RedisTagEnricher) Enrich(request *policyengine.AccessRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), e.lookupTime)
	defer cancel()

	key := resourceTagKey(request.Resource)
	raw, err := e.client.Get(ctx, key).Result()
	if err == redis.Nil {
		e.logger.Debug("no cached tags for resource", zap.String("key", key))
		return
	}
	if err != nil {
		e.logger.Warn("tag lookup failed", zap.String("key", key), zap.Error(err))
		return
	}

	var tags []policyengine.ResourceTag
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		e.logger.Warn("tag payload decode failed", zap.String("key", key), zap.Error(err))
		return
	}

	request.EnsureContext()[policyengine.ContextTags] = tags
}

// Close releases the underlying client.
func (e *RedisTagEnricher) Close() error {
	return e.client.Close()
}
