package provision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Clients hands out daemon clients by node
type Clients interface {
	Client(ctx context.Context, nodeID string) (registry.Daemon, error)
}

// Trigger pushes server lifecycle changes to node daemons
type Trigger struct {
	store    storage.Store
	clients  Clients
	recorder *audit.Recorder
	broker   *events.Broker
	logger   zerolog.Logger
}

// NewTrigger creates a trigger. recorder and broker may be nil.
func NewTrigger(store storage.Store, clients Clients, recorder *audit.Recorder, broker *events.Broker) *Trigger {
	return &Trigger{
		store:    store,
		clients:  clients,
		recorder: recorder,
		broker:   broker,
		logger:   log.WithComponent("provision"),
	}
}

func (t *Trigger) serverAndClient(ctx context.Context, serverID string) (*types.Server, registry.Daemon, error) {
	server, err := t.store.GetServer(serverID)
	if err != nil {
		return nil, nil, err
	}
	if server.NodeID == "" {
		return nil, nil, errdefs.InvalidState("server %s is not assigned to a node", server.UUID)
	}
	client, err := t.clients.Client(ctx, server.NodeID)
	if err != nil {
		return nil, nil, err
	}
	return server, client, nil
}

// Provision asks the server's daemon to create it. If the daemon call
// fails the server is marked install_failed and the error is returned.
func (t *Trigger) Provision(ctx context.Context, serverID string) error {
	server, client, err := t.serverAndClient(ctx, serverID)
	if err != nil {
		return err
	}

	cfg, err := BuildServerConfig(t.store, server)
	if err != nil {
		return err
	}
	cfg.StartOnCompletion = true

	if err := client.CreateServer(ctx, *cfg); err != nil {
		if serr := t.store.SetServerStatus(server.ID, types.ServerStatusInstallFailed); serr != nil {
			t.logger.Error().Err(serr).Str("server", server.UUID).Msg("Failed to mark server install_failed")
		}
		t.broker.Publish(events.NewEvent(events.EventServerInstallFailed, server.UUID, err.Error()))
		return fmt.Errorf("failed to create server %s on daemon: %w", server.UUID, err)
	}

	t.logger.Info().Str("server", server.UUID).Str("node_id", server.NodeID).Msg("Server creation requested")
	return nil
}

// Reinstall asks the daemon to rerun the install script. It does not
// change the server status.
func (t *Trigger) Reinstall(ctx context.Context, serverID string) error {
	server, client, err := t.serverAndClient(ctx, serverID)
	if err != nil {
		return err
	}
	return client.ReinstallServer(ctx, server.UUID)
}

// RequestReinstall marks the server installing and triggers a reinstall,
// restoring the previous status if the daemon refuses
func (t *Trigger) RequestReinstall(ctx context.Context, serverID string) error {
	server, err := t.store.GetServer(serverID)
	if err != nil {
		return err
	}
	if server.Status.IsTransitional() || server.Status == types.ServerStatusArchived {
		return errdefs.InvalidState("server %s is %s", server.UUID, server.Status)
	}
	if active, err := t.store.GetActiveTransfer(server.ID); err == nil && active != nil {
		return errdefs.InvalidState("server %s is being transferred", server.UUID)
	}

	if err := t.store.SetServerStatus(server.ID, types.ServerStatusInstalling); err != nil {
		return err
	}
	if err := t.Reinstall(ctx, server.ID); err != nil {
		if serr := t.store.SetServerStatus(server.ID, server.Status); serr != nil {
			t.logger.Error().Err(serr).Str("server", server.UUID).Msg("Failed to restore status after reinstall failure")
		}
		return err
	}

	_ = t.recorder.Record(ctx, "server:reinstall", audit.ServerSubject(server), nil)
	return nil
}

// Suspend stores the suspended flag, then kills the server process. If the
// daemon call fails the flag is put back.
func (t *Trigger) Suspend(ctx context.Context, serverID string) error {
	return t.setSuspended(ctx, serverID, true, func(client registry.Daemon, server *types.Server) error {
		return client.SendPowerAction(ctx, server.UUID, daemon.PowerKill)
	})
}

// Unsuspend clears the suspended flag, then tells the daemon. If the
// daemon call fails the flag is put back.
func (t *Trigger) Unsuspend(ctx context.Context, serverID string) error {
	return t.setSuspended(ctx, serverID, false, func(client registry.Daemon, server *types.Server) error {
		suspended := false
		return client.UpdateServer(ctx, server.UUID, daemon.ServerPatch{Suspended: &suspended})
	})
}

func (t *Trigger) setSuspended(ctx context.Context, serverID string, suspended bool, notify func(registry.Daemon, *types.Server) error) error {
	server, client, err := t.serverAndClient(ctx, serverID)
	if err != nil {
		return err
	}

	previous, err := t.store.SetServerSuspended(server.ID, suspended)
	if err != nil {
		return err
	}
	if previous == suspended {
		return errdefs.InvalidState("server %s suspended is already %t", server.UUID, suspended)
	}

	if err := notify(client, server); err != nil {
		if _, rerr := t.store.SetServerSuspended(server.ID, previous); rerr != nil {
			t.logger.Error().Err(rerr).Str("server", server.UUID).Msg("Failed to revert suspended flag")
		}
		return err
	}

	name, eventType := "server:suspend", events.EventServerSuspended
	if !suspended {
		name, eventType = "server:unsuspend", events.EventServerUnsuspended
	}
	_ = t.recorder.Record(ctx, name, audit.ServerSubject(server), map[string]string{
		"previous": strconv.FormatBool(previous),
	})
	t.broker.Publish(events.NewEvent(eventType, server.UUID, ""))
	return nil
}
