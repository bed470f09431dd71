package permissions

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hubgate/hubgate/pkg/observability"
	"github.com/hubgate/hubgate/pkg/provider"
)

// Resolver ties cache misses to the external provider. A provider failure of
// any kind collapses to LevelNone and is cached exactly like a successful
// result: fail-closed, and rate-limit friendly under an unreliable upstream,
// at the cost of a sticky denial for one TTL after a transient outage.
type Resolver struct {
	cache    *Cache
	provider provider.Provider
	logger   *logrus.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a permission resolver. Logger and metrics may be nil.
func NewResolver(cache *Cache, p provider.Provider, logger *logrus.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		cache:    cache,
		provider: p,
		logger:   logger,
		metrics:  metrics,
	}
}

// Cache exposes the underlying cache for invalidation endpoints and stats
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the subject's permission entry for the resource, serving
// from cache when fresh. With forceRefresh the cache is bypassed (but still
// repopulated). The returned entry is never nil.
func (r *Resolver) Resolve(ctx context.Context, credential string, subjectID int64, subjectLogin, owner, resource string, forceRefresh bool) *Entry {
	if !forceRefresh {
		if entry, ok := r.cache.Get(subjectID, owner, resource); ok {
			if r.metrics != nil {
				r.metrics.CacheHitsTotal.Inc()
			}
			return entry
		}
		if r.metrics != nil {
			r.metrics.CacheMissesTotal.Inc()
		}
	}

	level := r.fetchLevel(ctx, credential, subjectLogin, owner, resource)
	return r.cache.Set(subjectID, owner, resource, level, 0)
}

// fetchLevel queries the provider and maps the outcome to a level. The
// provider call carries its own timeout; a timed-out call is abandoned and
// treated like any other failure.
func (r *Resolver) fetchLevel(ctx context.Context, credential, subjectLogin, owner, resource string) Level {
	start := time.Now()
	label, err := r.provider.GetPermission(ctx, credential, owner, resource, subjectLogin)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ProviderCallsTotal.WithLabelValues("get_permission", "failure").Inc()
		}
		r.logger.WithFields(logrus.Fields{
			"owner":    owner,
			"resource": resource,
			"subject":  subjectLogin,
			"duration": time.Since(start).String(),
			"error":    err.Error(),
		}).Warn("permission lookup failed, denying")
		return LevelNone
	}

	if r.metrics != nil {
		r.metrics.ProviderCallsTotal.WithLabelValues("get_permission", "success").Inc()
	}
	return ParseLevel(label)
}
