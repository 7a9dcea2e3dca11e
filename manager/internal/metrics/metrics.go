package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager metrics collectors
var (
	// Key sync

	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_sync_requests_total",
			Help: "Total number of key sync requests by outcome",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manager_sync_duration_seconds",
			Help:    "Key sync request duration in seconds, including deliberate delays",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	NonceInsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_nonce_inserts_total",
			Help: "Total number of nonce ledger inserts",
		},
		[]string{"result"},
	)

	NoncesPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manager_nonces_pruned_total",
			Help: "Total number of expired nonces removed from the ledger",
		},
	)

	// Key links

	KeyLinkOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_key_link_operations_total",
			Help: "Total number of key link operations",
		},
		[]string{"operation", "result"},
	)

	// Fleet and topology

	ServersTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "manager_servers_total",
			Help: "Total number of VPN servers by status",
		},
		[]string{"status"},
	)

	LinkEdgesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manager_link_edges_total",
			Help: "Total number of link edges across all servers",
		},
	)

	OrganizationsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manager_organizations_total",
			Help: "Total number of organizations",
		},
	)

	ServerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_server_operations_total",
			Help: "Total number of server operations",
		},
		[]string{"operation", "status"},
	)

	LinkOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_link_operations_total",
			Help: "Total number of link and unlink operations",
		},
		[]string{"operation", "result"},
	)

	// Database

	DBConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manager_db_connections",
			Help: "Number of open database connections",
		},
	)

	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manager_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manager_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// Result returns the label value for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
