/*
Package metrics provides Prometheus metrics and component health tracking
for the Paddock control plane.

All collectors are package-level variables registered with the default
registry in init(), and exposed by Handler() on /metrics.

# Metric Families

Inventory (refreshed every 15s by manager.MetricsCollector):

	paddock_nodes_total
	paddock_servers_total{status}
	paddock_transfers_pending
	paddock_raft_is_leader, paddock_raft_peers_total,
	paddock_raft_log_index, paddock_raft_applied_index

Traffic:

	paddock_api_requests_total{surface,status}
	paddock_api_request_duration_seconds{surface}
	paddock_daemon_requests_total{operation,outcome}
	paddock_daemon_request_duration_seconds{operation}
	paddock_remote_callbacks_total{callback,outcome}
	paddock_remote_rate_limited_total
	paddock_activity_events_total{outcome}

Lifecycle and sinks:

	paddock_transfers_total{outcome}
	paddock_provision_jobs_total{outcome}
	paddock_audit_write_failures_total{sink}
	paddock_events_forwarded_total{outcome}

# Timing

	timer := metrics.NewTimer()
	err := doCall()
	timer.ObserveDurationVec(metrics.DaemonRequestDuration, "power")
	metrics.DaemonRequests.WithLabelValues("power", metrics.Outcome(err)).Inc()

# Health

Components report their state with RegisterComponent / UpdateComponent.
GetHealth is unhealthy when a critical component is (raft, storage, api by
default, see SetCriticalComponents) and degraded when anything else is.
Node daemons report under NodeComponent(id) and are summarized as online and
offline counts instead of listed one by one. GetReadiness only looks at the
critical set.
*/
package metrics
