// Package permissions implements the permission-resolution cache and the
// resolver that ties cache misses to the external provider.
//
// # Levels
//
// Permission levels form a fixed total order:
//
//	none(0) < read(1) < write(2) < maintain(3) < admin(4)
//
// CanPerform is a rank comparison over this order; there are no other
// permission dimensions.
//
// # Cache
//
// The cache is bounded two ways: entries expire after a TTL (default 5
// minutes), and the total entry count is capped (default 10,000). At
// capacity, the entry with the smallest insertion time is evicted. Reads do
// not refresh insertion time, so this is oldest-inserted eviction rather
// than LRU; the simplification is deliberate.
//
// # Fail-closed resolution
//
// The resolver never returns an error: a provider failure (network error,
// non-2xx, timeout) resolves to level none, and that denial is cached for
// the standard TTL like any other result. Callers that need to recover
// faster after an upstream outage can force a refresh or invalidate the
// pair.
package permissions
