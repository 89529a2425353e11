// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts API requests by operation and outcome code
	// ("ok" for successful responses).
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemail_api_requests_total",
			Help: "API requests by operation and result code.",
		},
		[]string{"op", "code"},
	)

	// UsageReadsDegraded counts detail views served with zeroed usage
	// windows because the counter store batch read failed.
	UsageReadsDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivemail_usage_reads_degraded_total",
			Help: "Limit views degraded to zero usage after a counter store failure.",
		},
	)

	// StoredKeyUnreadable counts detail views where the stored public key
	// no longer parses or encrypts. The view reports keyInfo=false instead
	// of failing, so this counter is the only loud signal.
	StoredKeyUnreadable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivemail_stored_key_unreadable_total",
			Help: "Stored public keys that failed verification during a read.",
		},
	)
)
