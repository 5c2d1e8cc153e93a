/*
Package reconciler runs the control plane's periodic housekeeping.

Every cycle it:

 1. probes each node daemon with GetSystemInformation and keeps a
    health.Status per node. A node goes offline after the configured
    number of consecutive failed probes; each flip is logged, published
    as node.online or node.offline and exported as paddock_node_online.
 2. on the Raft leader only, fails transfers that stayed pending longer
    than the transfer timeout. Failing goes through the transfer
    orchestrator, so destination allocations are released and the
    server:transfer.failed audit event is written as if the destination
    daemon had reported the failure.

Node probing is read-only and runs on every control plane node.

# Usage

	rec := reconciler.NewReconciler(mgr, registry, orchestrator, reconciler.Config{
		Interval:        30 * time.Second,
		TransferTimeout: 2 * time.Hour,
		IsLeader:        mgr.IsLeader,
		Broker:          broker,
	})
	rec.Start()
	defer rec.Stop()
*/
package reconciler
