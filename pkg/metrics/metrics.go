package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	NodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_nodes_total",
			Help: "Total number of registered nodes",
		},
	)

	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_servers_total",
			Help: "Total number of servers by status",
		},
		[]string{"status"},
	)

	TransfersPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_transfers_pending",
			Help: "Number of transfers waiting for the destination daemon",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_api_requests_total",
			Help: "Total number of HTTP API requests by surface and status",
		},
		[]string{"surface", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface"},
	)

	// Daemon RPC metrics
	DaemonRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_daemon_requests_total",
			Help: "Total number of daemon RPCs by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DaemonRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_daemon_request_duration_seconds",
			Help:    "Daemon RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Remote callback metrics
	RemoteCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_remote_callbacks_total",
			Help: "Total number of daemon callbacks by callback and outcome",
		},
		[]string{"callback", "outcome"},
	)

	RemoteRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_remote_rate_limited_total",
			Help: "Total number of daemon callbacks rejected by the rate limiter",
		},
	)

	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_activity_events_total",
			Help: "Daemon activity log items by outcome",
		},
		[]string{"outcome"},
	)

	// Lifecycle metrics
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_transfers_total",
			Help: "Total number of transfers by outcome",
		},
		[]string{"outcome"},
	)

	ProvisionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_provision_jobs_total",
			Help: "Total number of background provisioning jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	NodeOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_node_online",
			Help: "Whether the node's daemon answers probes (1 = online, 0 = offline)",
		},
		[]string{"node"},
	)

	// Sink metrics
	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_audit_write_failures_total",
			Help: "Audit events that could not be written, by sink",
		},
		[]string{"sink"},
	)

	EventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_events_forwarded_total",
			Help: "Events forwarded to NATS by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(TransfersPending)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(DaemonRequests)
	prometheus.MustRegister(DaemonRequestDuration)
	prometheus.MustRegister(RemoteCallbacks)
	prometheus.MustRegister(RemoteRateLimited)
	prometheus.MustRegister(ActivityEvents)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(ProvisionJobs)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(NodeOnline)
	prometheus.MustRegister(AuditWriteFailures)
	prometheus.MustRegister(EventsForwarded)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Outcome is the label value for an error result
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
