package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage paths reported by the refresh token facade
const (
	PathCache           = "cache"
	PathDurable         = "durable"
	PathCacheAndDurable = "cache_and_durable"
)

var (
	// TokenStoreOperationsTotal counts refresh token storage operations by the path that served them.
	TokenStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_token_store_operations_total",
			Help: "Refresh token storage operations by operation and serving path",
		},
		[]string{"operation", "path"},
	)

	// DenylistFallbackTotal counts denylist operations answered by the in-process fallback.
	DenylistFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denylist_fallback_total",
			Help: "Denylist operations that used the in-process fallback",
		},
		[]string{"operation"},
	)

	// DenylistSweptTotal counts fallback entries dropped by the sweeper.
	DenylistSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_denylist_swept_total",
			Help: "Expired denylist entries removed from the in-process fallback",
		},
	)

	// PermissionCacheTotal counts permission cache lookups by result (hit, miss, error).
	PermissionCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_permission_cache_total",
			Help: "Permission cache lookups by result",
		},
		[]string{"result"},
	)

	// DecisionsTotal counts authorization decisions.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization middleware decisions",
		},
		[]string{"decision"},
	)
)

// RecordTokenStore records a refresh token storage operation
func RecordTokenStore(operation, path string) {
	TokenStoreOperationsTotal.WithLabelValues(operation, path).Inc()
}

// RecordDenylistFallback records a denylist operation served by the fallback
func RecordDenylistFallback(operation string) {
	DenylistFallbackTotal.WithLabelValues(operation).Inc()
}

// RecordPermissionCache records a permission cache lookup result
func RecordPermissionCache(result string) {
	PermissionCacheTotal.WithLabelValues(result).Inc()
}

// RecordDecision records an authorization outcome
func RecordDecision(allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	DecisionsTotal.WithLabelValues(decision).Inc()
}
