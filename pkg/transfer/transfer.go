package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/provision"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Connections resolves nodes to daemon connections and clients
type Connections interface {
	Resolve(ctx context.Context, nodeID string) (*registry.Connection, error)
	ClientFor(conn *registry.Connection) (registry.Daemon, error)
	Invalidate(nodeID string)
}

// Request starts a transfer
type Request struct {
	ServerID                string   `json:"server_id"`
	TargetNodeID            string   `json:"node_id"`
	AllocationID            string   `json:"allocation_id"`
	AdditionalAllocationIDs []string `json:"additional_allocation_ids,omitempty"`
	StartOnCompletion       bool     `json:"start_on_completion"`
}

// Result describes a transfer the destination daemon accepted
type Result struct {
	TransferID      string        `json:"transfer_id"`
	Server          *types.Server `json:"server"`
	SourceNodeID    string        `json:"source_node_id"`
	TargetNodeID    string        `json:"target_node_id"`
	NewAllocationID string        `json:"new_allocation_id"`
}

// Options configures an Orchestrator
type Options struct {
	// Issuer is stamped on transfer tokens, normally the control plane URL
	Issuer   string
	Clock    clock.Clock
	Recorder *audit.Recorder
	Broker   *events.Broker
}

// Orchestrator moves servers between nodes
type Orchestrator struct {
	store       storage.Store
	connections Connections
	scheduler   *scheduler.Scheduler
	issuer      string
	clock       clock.Clock
	recorder    *audit.Recorder
	broker      *events.Broker
	logger      zerolog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store storage.Store, connections Connections, opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Orchestrator{
		store:       store,
		connections: connections,
		scheduler:   scheduler.NewScheduler(store),
		issuer:      opts.Issuer,
		clock:       clk,
		recorder:    opts.Recorder,
		broker:      opts.Broker,
		logger:      log.WithComponent("transfer"),
	}
}

// Start reserves the destination allocations, records the transfer and asks
// the destination daemon to pull the server from the source. The server
// stays on its source node until the destination reports success.
//
// Any failure after the reservation releases it and marks the transfer
// failed before the error is returned.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Result, error) {
	server, err := o.store.GetServer(req.ServerID)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With().Str("server", server.UUID).Str("target_node", req.TargetNodeID).Logger()

	if err := o.validate(server, &req); err != nil {
		return nil, err
	}

	target, err := o.store.GetNode(req.TargetNodeID)
	if err != nil {
		return nil, err
	}
	if err := o.scheduler.CheckNode(target, scheduler.UsageOf(server), server.ID); err != nil {
		return nil, err
	}

	// Source allocations are read before the reservation adds the new ones
	held, err := o.store.ListAllocationsByServer(server.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations for server %s: %w", server.UUID, err)
	}
	var oldAdditional []string
	for _, a := range held {
		if a.ID != server.AllocationID && a.NodeID == server.NodeID {
			oldAdditional = append(oldAdditional, a.ID)
		}
	}

	newIDs := append([]string{req.AllocationID}, req.AdditionalAllocationIDs...)
	if err := o.store.ReserveAllocations(target.ID, server.ID, newIDs); err != nil {
		return nil, err
	}

	now := o.clock.Now().UTC()
	transfer := &types.Transfer{
		ServerID:                 server.ID,
		OldNode:                  server.NodeID,
		NewNode:                  target.ID,
		OldAllocation:            server.AllocationID,
		NewAllocation:            req.AllocationID,
		OldAdditionalAllocations: oldAdditional,
		NewAdditionalAllocations: req.AdditionalAllocationIDs,
		Status:                   types.TransferStatusPending,
		StartOnCompletion:        req.StartOnCompletion,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := o.store.CreateTransfer(transfer); err != nil {
		if rerr := o.store.ReleaseAllocations(server.ID, newIDs); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to release reserved allocations")
		}
		return nil, err
	}

	if err := o.handshake(ctx, server, transfer); err != nil {
		o.rollback(ctx, server, transfer, err)
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("started").Inc()
	_ = o.recorder.Record(ctx, "server:transfer.started", audit.ServerSubject(server), map[string]string{
		"transfer_id": transfer.ID,
		"old_node":    transfer.OldNode,
		"new_node":    transfer.NewNode,
	})
	o.publish(events.EventTransferStarted, server, transfer, "")
	logger.Info().Str("transfer_id", transfer.ID).Msg("Transfer started")

	return &Result{
		TransferID:      transfer.ID,
		Server:          server,
		SourceNodeID:    transfer.OldNode,
		TargetNodeID:    transfer.NewNode,
		NewAllocationID: transfer.NewAllocation,
	}, nil
}

func (o *Orchestrator) validate(server *types.Server, req *Request) error {
	if req.TargetNodeID == "" {
		return errdefs.InvalidArgument("target node is required")
	}
	if req.AllocationID == "" {
		return errdefs.InvalidArgument("destination allocation is required")
	}
	req.AdditionalAllocationIDs = uniqueAdditional(req.AllocationID, req.AdditionalAllocationIDs)
	if server.NodeID == "" {
		return errdefs.InvalidState("server %s is not assigned to a node", server.UUID)
	}
	if req.TargetNodeID == server.NodeID {
		return errdefs.InvalidState("server %s is already on node %s", server.UUID, server.NodeID)
	}
	if server.Status == types.ServerStatusArchived || server.Status.IsTransitional() {
		return errdefs.InvalidState("server %s is %s", server.UUID, server.Status)
	}

	active, err := o.store.GetActiveTransfer(server.ID)
	switch {
	case err == nil && active != nil:
		return errdefs.InvalidState("server %s already has a transfer in progress", server.UUID)
	case err != nil && !errors.Is(err, errdefs.ErrNotFound):
		return err
	}
	return nil
}

// uniqueAdditional drops empty and repeated IDs and the primary allocation
func uniqueAdditional(primary string, ids []string) []string {
	seen := map[string]bool{primary: true}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// handshake asks the destination daemon to pull the server from the source
func (o *Orchestrator) handshake(ctx context.Context, server *types.Server, transfer *types.Transfer) error {
	source, err := o.connections.Resolve(ctx, transfer.OldNode)
	if err != nil {
		return err
	}
	destination, err := o.connections.Resolve(ctx, transfer.NewNode)
	if err != nil {
		return err
	}

	token, err := security.SignTransferToken(source.Token, o.issuer, source.BaseURL, server.UUID, o.clock.Now())
	if err != nil {
		return err
	}

	mapping, err := o.destinationMapping(transfer)
	if err != nil {
		return err
	}

	client, err := o.connections.ClientFor(destination)
	if err != nil {
		return err
	}
	return client.TransferServer(ctx, server.UUID, daemon.TransferRequest{
		URL:   source.BaseURL + "/servers/" + server.UUID + "/archive",
		Token: token,
		Server: daemon.TransferServer{
			UUID:              server.UUID,
			StartOnCompletion: transfer.StartOnCompletion,
		},
		Allocations: *mapping,
	})
}

func (o *Orchestrator) destinationMapping(transfer *types.Transfer) (*daemon.AllocationMapping, error) {
	var allocations []*types.Allocation
	for _, id := range transfer.NewAllocations() {
		a, err := o.store.GetAllocation(id)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return provision.MappingFor(allocations[0], allocations), nil
}

// rollback releases the reservation and fails the transfer. The server row
// was never changed, so it still points at its source node.
func (o *Orchestrator) rollback(ctx context.Context, server *types.Server, transfer *types.Transfer, cause error) {
	logger := o.logger.With().Str("server", server.UUID).Str("transfer_id", transfer.ID).Logger()

	if _, err := o.store.FailTransfer(transfer.ID, o.clock.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark transfer failed, releasing allocations directly")
		if rerr := o.store.ReleaseAllocations(server.ID, transfer.NewAllocations()); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to release reserved allocations")
		}
	}

	metrics.TransfersTotal.WithLabelValues("failed").Inc()
	_ = o.recorder.Record(ctx, "server:transfer.failed", audit.ServerSubject(server), map[string]string{
		"transfer_id": transfer.ID,
		"error":       errdefs.PublicMessage(cause),
	})
	o.publish(events.EventTransferFailed, server, transfer, errdefs.PublicMessage(cause))
	logger.Warn().Err(cause).Msg("Transfer rolled back")
}

// Complete commits a transfer the destination daemon reported as done: the
// server moves to the destination node and allocation and the source
// allocations are released. Starting the server on the destination and
// deleting it from the source are best effort.
func (o *Orchestrator) Complete(ctx context.Context, serverUUID string) (*types.Transfer, error) {
	server, transfer, err := o.active(serverUUID)
	if err != nil {
		return nil, err
	}

	committed, err := o.store.CommitTransfer(transfer.ID, o.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	o.connections.Invalidate(committed.OldNode)
	o.connections.Invalidate(committed.NewNode)

	logger := o.logger.With().Str("server", server.UUID).Str("transfer_id", committed.ID).Logger()

	if committed.StartOnCompletion {
		if err := o.withClient(ctx, committed.NewNode, func(c registry.Daemon) error {
			return c.SendPowerAction(ctx, server.UUID, daemon.PowerStart)
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to start server on destination")
		}
	}
	if err := o.withClient(ctx, committed.OldNode, func(c registry.Daemon) error {
		return c.DeleteServer(ctx, server.UUID)
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete server from source node")
	}

	metrics.TransfersTotal.WithLabelValues("completed").Inc()
	_ = o.recorder.Record(ctx, "server:transfer.completed", audit.ServerSubject(server), map[string]string{
		"transfer_id": committed.ID,
		"old_node":    committed.OldNode,
		"new_node":    committed.NewNode,
	})
	o.publish(events.EventTransferCompleted, server, committed, "")
	logger.Info().Msg("Transfer completed")
	return committed, nil
}

// Fail resolves a transfer the destination daemon reported as failed. The
// destination allocations are released and the server stays on its source.
func (o *Orchestrator) Fail(ctx context.Context, serverUUID string) (*types.Transfer, error) {
	server, transfer, err := o.active(serverUUID)
	if err != nil {
		return nil, err
	}

	failed, err := o.store.FailTransfer(transfer.ID, o.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("failed").Inc()
	_ = o.recorder.Record(ctx, "server:transfer.failed", audit.ServerSubject(server), map[string]string{
		"transfer_id": failed.ID,
	})
	o.publish(events.EventTransferFailed, server, failed, "reported by daemon")
	o.logger.Warn().Str("server", server.UUID).Str("transfer_id", failed.ID).Msg("Transfer failed")
	return failed, nil
}

// Active returns the server and its pending transfer
func (o *Orchestrator) active(serverUUID string) (*types.Server, *types.Transfer, error) {
	server, err := o.store.GetServerByUUID(serverUUID)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := o.store.GetActiveTransfer(server.ID)
	if err != nil {
		return nil, nil, err
	}
	return server, transfer, nil
}

func (o *Orchestrator) withClient(ctx context.Context, nodeID string, fn func(registry.Daemon) error) error {
	conn, err := o.connections.Resolve(ctx, nodeID)
	if err != nil {
		return err
	}
	client, err := o.connections.ClientFor(conn)
	if err != nil {
		return err
	}
	return fn(client)
}

func (o *Orchestrator) publish(t events.EventType, server *types.Server, transfer *types.Transfer, message string) {
	event := events.NewEvent(t, server.UUID, message)
	event.NodeID = transfer.NewNode
	event.Metadata = map[string]string{
		"transfer_id": transfer.ID,
		"old_node":    transfer.OldNode,
		"new_node":    transfer.NewNode,
	}
	o.broker.Publish(event)
}
