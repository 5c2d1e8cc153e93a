package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Daemons hands out node daemon clients
type Daemons interface {
	Client(ctx context.Context, nodeID string) (registry.Daemon, error)
}

// Transfers resolves transfers the destination never reported on
type Transfers interface {
	Fail(ctx context.Context, serverUUID string) (*types.Transfer, error)
}

// Config configures a Reconciler
type Config struct {
	// Interval between reconciliation cycles
	Interval time.Duration
	// TransferTimeout is how long a transfer may stay pending
	TransferTimeout time.Duration
	// Health controls node probing
	Health health.Config
	// IsLeader gates the cycles that write; nil means always
	IsLeader func() bool
	Clock    clock.Clock
	Broker   *events.Broker
}

// Reconciler probes node daemons and expires transfers that stalled
type Reconciler struct {
	store     storage.Store
	daemons   Daemons
	transfers Transfers
	cfg       Config
	logger    zerolog.Logger

	mu       sync.Mutex
	statuses map[string]*health.Status
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, daemons Daemons, transfers Transfers, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Health.Retries <= 0 {
		cfg.Health = health.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Reconciler{
		store:     store,
		daemons:   daemons,
		transfers: transfers,
		cfg:       cfg,
		logger:    log.WithComponent("reconciler"),
		statuses:  make(map[string]*health.Status),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop stops the reconciler and waits for the running cycle
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
			r.Reconcile(ctx)
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reconcileNodes(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile nodes")
	}

	if r.cfg.IsLeader != nil && !r.cfg.IsLeader() {
		return
	}
	if err := r.reconcileTransfers(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reconcile transfers")
	}
}

// NodeOnline reports the last known daemon health of nodeID. Nodes never
// probed count as online.
func (r *Reconciler) NodeOnline(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[nodeID]
	return !ok || status.Healthy
}

// reconcileNodes probes every daemon and publishes online/offline flips
func (r *Reconciler) reconcileNodes(ctx context.Context) error {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		seen[node.ID] = true
		nodeID := node.ID

		checker := health.NewDaemonChecker(func(ctx context.Context) error {
			client, err := r.daemons.Client(ctx, nodeID)
			if err != nil {
				return err
			}
			_, err = client.GetSystemInformation(ctx)
			return err
		}, r.cfg.Health.Timeout)
		checker.Clock = r.cfg.Clock

		status, ok := r.statuses[nodeID]
		if !ok {
			status = health.NewStatus()
			r.statuses[nodeID] = status
		}

		result := checker.Check(ctx)
		if status.Update(result, r.cfg.Health) {
			r.nodeFlipped(node, status)
		}

		online := 0.0
		if status.Healthy {
			online = 1
		}
		metrics.NodeOnline.WithLabelValues(nodeID).Set(online)
		metrics.UpdateComponent(metrics.NodeComponent(nodeID), status.Healthy, status.LastResult.Message)
	}

	for nodeID := range r.statuses {
		if !seen[nodeID] {
			delete(r.statuses, nodeID)
			metrics.NodeOnline.DeleteLabelValues(nodeID)
			metrics.RemoveComponent(metrics.NodeComponent(nodeID))
		}
	}
	return nil
}

func (r *Reconciler) nodeFlipped(node *types.Node, status *health.Status) {
	eventType := events.EventNodeOnline
	logEvent := r.logger.Info()
	msg := "Node daemon is back online"
	if !status.Healthy {
		eventType = events.EventNodeOffline
		logEvent = r.logger.Warn()
		msg = "Node daemon is offline"
	}

	logEvent.Str("node_id", node.ID).
		Int("consecutive_failures", status.ConsecutiveFailures).
		Str("last_result", status.LastResult.Message).
		Msg(msg)

	event := events.NewEvent(eventType, "", status.LastResult.Message)
	event.NodeID = node.ID
	r.cfg.Broker.Publish(event)
}

// reconcileTransfers fails transfers pending for longer than the timeout,
// which releases their destination allocations
func (r *Reconciler) reconcileTransfers(ctx context.Context) error {
	if r.cfg.TransferTimeout <= 0 {
		return nil
	}

	servers, err := r.store.ListServers()
	if err != nil {
		return err
	}

	now := r.cfg.Clock.Now()
	for _, server := range servers {
		transfer, err := r.store.GetActiveTransfer(server.ID)
		if errors.Is(err, errdefs.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("server", server.UUID).Msg("Failed to load transfer")
			continue
		}

		age := now.Sub(transfer.CreatedAt)
		if age <= r.cfg.TransferTimeout {
			continue
		}

		r.logger.Warn().
			Str("server", server.UUID).
			Str("transfer_id", transfer.ID).
			Dur("age", age).
			Msg("Transfer timed out, failing it")
		if _, err := r.transfers.Fail(ctx, server.UUID); err != nil {
			r.logger.Error().Err(err).Str("server", server.UUID).Msg("Failed to fail stalled transfer")
		}
	}
	return nil
}
