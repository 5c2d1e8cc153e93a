package remote

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/provision"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Transfers resolves transfers the destination daemon reports on
type Transfers interface {
	Complete(ctx context.Context, serverUUID string) (*types.Transfer, error)
	Fail(ctx context.Context, serverUUID string) (*types.Transfer, error)
}

// Options configures a Service
type Options struct {
	Transfers Transfers
	// Uploader presigns s3 backup uploads; nil rejects s3 backups
	Uploader BackupUploader
	Backups  *BackupListing
	Recorder *audit.Recorder
	Broker   *events.Broker
	Clock    clock.Clock
}

// Service applies the state transitions daemons report. Every operation
// takes the authenticated node and refuses to touch servers it does not own.
type Service struct {
	store     storage.Store
	transfers Transfers
	uploader  BackupUploader
	backups   *BackupListing
	recorder  *audit.Recorder
	broker    *events.Broker
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewService creates a remote callback service
func NewService(store storage.Store, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	uploader := opts.Uploader
	if uploader == nil {
		uploader = unconfiguredUploader{}
	}
	return &Service{
		store:     store,
		transfers: opts.Transfers,
		uploader:  uploader,
		backups:   opts.Backups,
		recorder:  opts.Recorder,
		broker:    opts.Broker,
		clock:     clk,
		logger:    log.WithComponent("remote"),
	}
}

// ownedServer loads a server and checks that node runs it
func (s *Service) ownedServer(node *types.Node, serverUUID string) (*types.Server, error) {
	server, err := s.store.GetServerByUUID(serverUUID)
	if err != nil {
		return nil, err
	}
	if server.NodeID != node.ID {
		return nil, errdefs.Forbidden("server %s does not belong to node %s", serverUUID, node.ID)
	}
	return server, nil
}

// ServerConfiguration returns the configuration a daemon needs to boot a server
func (s *Service) ServerConfiguration(ctx context.Context, node *types.Node, serverUUID string) (*daemon.ServerConfig, error) {
	server, err := s.ownedServer(node, serverUUID)
	if err != nil {
		return nil, err
	}
	return provision.BuildServerConfig(s.store, server)
}

// ListServerConfigurations returns the configuration of every server on node
func (s *Service) ListServerConfigurations(ctx context.Context, node *types.Node) ([]*daemon.ServerConfig, error) {
	servers, err := s.store.ListServersByNode(node.ID)
	if err != nil {
		return nil, err
	}
	configs := make([]*daemon.ServerConfig, 0, len(servers))
	for _, server := range servers {
		cfg, err := provision.BuildServerConfig(s.store, server)
		if err != nil {
			s.logger.Warn().Err(err).Str("server", server.UUID).Msg("Skipping server with incomplete configuration")
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// InstallScript is what a daemon runs to install a server
type InstallScript struct {
	ContainerImage string `json:"container_image"`
	Entrypoint     string `json:"entrypoint"`
	Script         string `json:"script"`
}

// GetInstallScript returns the install script of the server's egg
func (s *Service) GetInstallScript(ctx context.Context, node *types.Node, serverUUID string) (*InstallScript, error) {
	server, err := s.ownedServer(node, serverUUID)
	if err != nil {
		return nil, err
	}
	egg, err := s.store.GetEgg(server.EggID)
	if err != nil {
		return nil, err
	}
	return &InstallScript{
		ContainerImage: egg.ScriptContainer,
		Entrypoint:     egg.ScriptEntry,
		Script:         egg.ScriptInstall,
	}, nil
}

// InstallStatus is the install outcome a daemon reports
type InstallStatus struct {
	Successful bool `json:"successful"`
	Reinstall  bool `json:"reinstall"`
}

// SetInstallStatus records the outcome of an install. Reporting the same
// outcome twice leaves the server as it is.
func (s *Service) SetInstallStatus(ctx context.Context, node *types.Node, serverUUID string, status InstallStatus) (types.ServerStatus, error) {
	server, err := s.ownedServer(node, serverUUID)
	if err != nil {
		return "", err
	}

	if status.Successful {
		if server.Status == types.ServerStatusHealthy && !server.InstalledAt.IsZero() {
			return server.Status, nil
		}
		if err := s.store.MarkServerInstalled(server.ID, s.clock.Now().UTC()); err != nil {
			return "", err
		}
		_ = s.recorder.Record(ctx, "server:install.completed", audit.ServerSubject(server), map[string]string{
			"reinstall": strconv.FormatBool(status.Reinstall),
		})
		s.publish(events.EventServerInstalled, server, "")
		return types.ServerStatusHealthy, nil
	}

	failed := types.ServerStatusInstallFailed
	if status.Reinstall {
		failed = types.ServerStatusReinstallFailed
	}
	if server.Status == failed {
		return failed, nil
	}
	if err := s.store.SetServerStatus(server.ID, failed); err != nil {
		return "", err
	}
	_ = s.recorder.Record(ctx, "server:install.failed", audit.ServerSubject(server), map[string]string{
		"reinstall": strconv.FormatBool(status.Reinstall),
	})
	s.publish(events.EventServerInstallFailed, server, "")
	return failed, nil
}

// SetRestoreStatus records the outcome of a backup restore. The backup row
// is not changed.
func (s *Service) SetRestoreStatus(ctx context.Context, node *types.Node, backupUUID string, successful bool) error {
	backup, server, err := s.ownedBackup(node, backupUUID)
	if err != nil {
		return err
	}

	status, name, eventType := types.ServerStatusHealthy, "server:backup.restore-complete", events.EventRestoreCompleted
	if !successful {
		status, name, eventType = types.ServerStatusRestoreFailed, "server:backup.restore-failed", events.EventRestoreFailed
	}
	if err := s.store.SetServerStatus(server.ID, status); err != nil {
		return err
	}
	_ = s.recorder.Record(ctx, name, audit.ServerSubject(server), map[string]string{
		"backup": backup.UUID,
		"name":   backup.Name,
	})
	s.publish(eventType, server, backup.Name)
	return nil
}

// SetArchiveStatus records the outcome of the source daemon archiving a
// server for transfer. On failure the pending transfer is failed and its
// destination allocations released.
func (s *Service) SetArchiveStatus(ctx context.Context, node *types.Node, serverUUID string, successful bool) error {
	server, err := s.ownedServer(node, serverUUID)
	if err != nil {
		return err
	}

	if !successful {
		if s.transfers == nil {
			return errdefs.Configuration("transfers are not configured")
		}
		if _, err := s.transfers.Fail(ctx, serverUUID); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
			return err
		}
		_ = s.recorder.Record(ctx, "server:archive.failed", audit.ServerSubject(server), nil)
		return nil
	}

	if err := s.store.SetServerStatus(server.ID, types.ServerStatusArchived); err != nil {
		return err
	}
	transfer, err := s.store.GetActiveTransfer(server.ID)
	switch {
	case err == nil:
		if err := s.store.MarkTransferArchived(transfer.ID); err != nil {
			return err
		}
	case !errors.Is(err, errdefs.ErrNotFound):
		return err
	}

	_ = s.recorder.Record(ctx, "server:archive.completed", audit.ServerSubject(server), nil)
	s.publish(events.EventServerArchived, server, "")
	return nil
}

// SetTransferStatus resolves the server's pending transfer. Only the
// destination node may report.
func (s *Service) SetTransferStatus(ctx context.Context, node *types.Node, serverUUID string, successful bool) error {
	if s.transfers == nil {
		return errdefs.Configuration("transfers are not configured")
	}
	server, err := s.store.GetServerByUUID(serverUUID)
	if err != nil {
		return err
	}
	transfer, err := s.store.GetActiveTransfer(server.ID)
	if err != nil {
		return err
	}
	if transfer.NewNode != node.ID {
		return errdefs.Forbidden("node %s is not the destination of transfer %s", node.ID, transfer.ID)
	}

	if successful {
		_, err = s.transfers.Complete(ctx, serverUUID)
	} else {
		_, err = s.transfers.Fail(ctx, serverUUID)
	}
	return err
}

// ResetStuckServers returns every server on node that is still installing
// or restoring to healthy. Daemons call it on boot because work that was in
// flight when they stopped will never report back.
func (s *Service) ResetStuckServers(ctx context.Context, node *types.Node) ([]string, error) {
	changes, err := s.store.ResetStuckServers(node.ID, []types.ServerStatus{
		types.ServerStatusInstalling,
		types.ServerStatusRestoringBackup,
	})
	if err != nil {
		return nil, err
	}

	uuids := make([]string, 0, len(changes))
	for _, change := range changes {
		uuids = append(uuids, change.UUID)
		_ = s.recorder.Record(ctx, "server:status.reset", audit.Subject{Type: "server", ID: change.UUID}, map[string]string{
			"previous_status": string(change.PreviousStatus),
		})

		event := events.NewEvent(events.EventServerStatusReset, change.UUID, "")
		event.NodeID = node.ID
		event.Metadata = map[string]string{"previous_status": string(change.PreviousStatus)}
		s.broker.Publish(event)
	}
	if len(uuids) > 0 {
		s.logger.Info().Str("node_id", node.ID).Int("count", len(uuids)).Msg("Reset stuck servers")
	}
	return uuids, nil
}

func (s *Service) publish(t events.EventType, server *types.Server, message string) {
	event := events.NewEvent(t, server.UUID, message)
	event.NodeID = server.NodeID
	s.broker.Publish(event)
}
