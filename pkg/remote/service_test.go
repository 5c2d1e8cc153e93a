package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

type fakeTransfers struct {
	completed []string
	failed    []string
}

func (f *fakeTransfers) Complete(_ context.Context, uuid string) (*types.Transfer, error) {
	f.completed = append(f.completed, uuid)
	return &types.Transfer{Status: types.TransferStatusSucceeded}, nil
}

func (f *fakeTransfers) Fail(_ context.Context, uuid string) (*types.Transfer, error) {
	f.failed = append(f.failed, uuid)
	return &types.Transfer{Status: types.TransferStatusFailed}, nil
}

type fakeUploader struct {
	completed []CompletedPart
	aborted   bool
}

func (f *fakeUploader) PresignParts(_ context.Context, backup *types.Backup, size int64) (*UploadParts, error) {
	return &UploadParts{Parts: []string{"https://s3.example.com/" + backup.UUID + "?part=1"}, PartSize: size}, nil
}

func (f *fakeUploader) Complete(_ context.Context, _ *types.Backup, parts []CompletedPart) error {
	f.completed = parts
	return nil
}

func (f *fakeUploader) Abort(context.Context, *types.Backup) error {
	f.aborted = true
	return nil
}

type fixture struct {
	store     *storage.BoltStore
	codec     *security.TokenCodec
	clock     *clock.Fake
	transfers *fakeTransfers
	uploader  *fakeUploader
	backups   *BackupListing
	service   *Service
	n1        *types.Node
	n2        *types.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec, err := security.NewTokenCodec("test-application-key")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC))
	f := &fixture{
		store:     store,
		codec:     codec,
		clock:     clk,
		transfers: &fakeTransfers{},
		uploader:  &fakeUploader{},
		backups:   NewBackupListing(store, time.Minute, clk),
	}
	f.n1 = f.addNode(t, "n1", "tok1", "secret-1")
	f.n2 = f.addNode(t, "n2", "tok2", "secret-2")

	require.NoError(t, store.CreateEgg(&types.Egg{
		ID:              "egg-1",
		DockerImage:     "ghcr.io/games/minecraft:java21",
		Startup:         "java -jar server.jar",
		ScriptContainer: "ghcr.io/installers/debian:bookworm",
		ScriptEntry:     "bash",
		ScriptInstall:   "curl -o server.jar https://example.com/server.jar",
	}))
	require.NoError(t, store.CreateAllocation(&types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 25565}))
	f.addServer(t, "s1", "uuid-1", "n1", types.ServerStatusInstalling)
	require.NoError(t, store.ReserveAllocations("n1", "s1", []string{"a1"}))

	f.service = NewService(store, Options{
		Transfers: f.transfers,
		Uploader:  f.uploader,
		Backups:   f.backups,
		Recorder:  audit.NewRecorder(audit.NewStoreSink(store), clk),
		Clock:     clk,
	})
	return f
}

func (f *fixture) addNode(t *testing.T, id, tokenID, secret string) *types.Node {
	t.Helper()
	encrypted, err := f.codec.Encrypt(secret)
	require.NoError(t, err)
	node := &types.Node{
		ID:            id,
		Scheme:        "https",
		FQDN:          id + ".example.com",
		DaemonListen:  8080,
		DaemonTokenID: tokenID,
		DaemonToken:   encrypted,
	}
	require.NoError(t, f.store.CreateNode(node))
	return node
}

func (f *fixture) addServer(t *testing.T, id, uuid, nodeID string, status types.ServerStatus) {
	t.Helper()
	require.NoError(t, f.store.CreateServer(&types.Server{
		ID:           id,
		UUID:         uuid,
		NodeID:       nodeID,
		AllocationID: "a1",
		EggID:        "egg-1",
		Status:       status,
	}))
}

func (f *fixture) addBackup(t *testing.T, uuid, disk string, locked bool) {
	t.Helper()
	require.NoError(t, f.store.CreateBackup(&types.Backup{
		ServerID: "s1",
		UUID:     uuid,
		Name:     "nightly",
		Disk:     disk,
		IsLocked: locked,
	}))
}

func (f *fixture) server(t *testing.T, id string) *types.Server {
	t.Helper()
	server, err := f.store.GetServer(id)
	require.NoError(t, err)
	return server
}

func (f *fixture) auditEvents(t *testing.T) []*types.AuditEvent {
	t.Helper()
	events, err := f.store.ListAuditEvents(100)
	require.NoError(t, err)
	return events
}

func ctx() context.Context {
	return context.Background()
}

func TestServerConfiguration(t *testing.T) {
	f := newFixture(t)

	cfg, err := f.service.ServerConfiguration(ctx(), f.n1, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", cfg.UUID)
	assert.Equal(t, "ghcr.io/games/minecraft:java21", cfg.Container.Image)
	assert.Equal(t, 25565, cfg.Allocations.Default.Port)

	_, err = f.service.ServerConfiguration(ctx(), f.n2, "uuid-1")
	assert.True(t, errors.Is(err, errdefs.ErrForbidden))

	configs, err := f.service.ListServerConfigurations(ctx(), f.n1)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}

func TestGetInstallScript(t *testing.T) {
	f := newFixture(t)

	script, err := f.service.GetInstallScript(ctx(), f.n1, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/installers/debian:bookworm", script.ContainerImage)
	assert.Equal(t, "bash", script.Entrypoint)
	assert.Contains(t, script.Script, "server.jar")

	_, err = f.service.GetInstallScript(ctx(), f.n1, "missing")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestSetInstallStatusIsIdempotent(t *testing.T) {
	f := newFixture(t)

	daemonCtx := audit.WithActor(ctx(), audit.Actor{ID: "n1", Type: types.ActorDaemon})
	for i := 0; i < 2; i++ {
		status, err := f.service.SetInstallStatus(daemonCtx, f.n1, "uuid-1", InstallStatus{Successful: true})
		require.NoError(t, err)
		assert.Equal(t, types.ServerStatusHealthy, status)
		f.clock.Advance(time.Minute)
	}

	server := f.server(t, "s1")
	assert.Equal(t, types.ServerStatusHealthy, server.Status)
	assert.Equal(t, time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC), server.InstalledAt.UTC())

	events := f.auditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "server:install.completed", events[0].Event)
	assert.Equal(t, "n1", events[0].Actor)
}

func TestSetInstallStatusFailure(t *testing.T) {
	tests := []struct {
		name      string
		reinstall bool
		want      types.ServerStatus
	}{
		{name: "install", want: types.ServerStatusInstallFailed},
		{name: "reinstall", reinstall: true, want: types.ServerStatusReinstallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			for i := 0; i < 2; i++ {
				status, err := f.service.SetInstallStatus(ctx(), f.n1, "uuid-1", InstallStatus{Reinstall: tt.reinstall})
				require.NoError(t, err)
				assert.Equal(t, tt.want, status)
			}
			assert.Equal(t, tt.want, f.server(t, "s1").Status)
			assert.Len(t, f.auditEvents(t), 1)
		})
	}
}

func TestSetInstallStatusForbiddenForOtherNode(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SetInstallStatus(ctx(), f.n2, "uuid-1", InstallStatus{Successful: true})
	assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	assert.Equal(t, types.ServerStatusInstalling, f.server(t, "s1").Status)
}

func TestSetArchiveStatusForbiddenForOtherNode(t *testing.T) {
	f := newFixture(t)

	err := f.service.SetArchiveStatus(ctx(), f.n2, "uuid-1", true)
	assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	assert.Equal(t, types.ServerStatusInstalling, f.server(t, "s1").Status)
	assert.Empty(t, f.auditEvents(t))
}

func TestSetArchiveStatus(t *testing.T) {
	f := newFixture(t)
	transfer := &types.Transfer{ServerID: "s1", OldNode: "n1", NewNode: "n2"}
	require.NoError(t, f.store.CreateTransfer(transfer))

	require.NoError(t, f.service.SetArchiveStatus(ctx(), f.n1, "uuid-1", true))
	assert.Equal(t, types.ServerStatusArchived, f.server(t, "s1").Status)

	stored, err := f.store.GetTransfer(transfer.ID)
	require.NoError(t, err)
	assert.True(t, stored.Archived)
	assert.True(t, stored.IsActive())
}

func TestSetArchiveStatusFailureFailsTransfer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.SetArchiveStatus(ctx(), f.n1, "uuid-1", false))
	assert.Equal(t, []string{"uuid-1"}, f.transfers.failed)
	assert.Equal(t, types.ServerStatusInstalling, f.server(t, "s1").Status)
}

func TestSetTransferStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateTransfer(&types.Transfer{ServerID: "s1", OldNode: "n1", NewNode: "n2"}))

	// Only the destination may report
	err := f.service.SetTransferStatus(ctx(), f.n1, "uuid-1", true)
	assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	assert.Empty(t, f.transfers.completed)

	require.NoError(t, f.service.SetTransferStatus(ctx(), f.n2, "uuid-1", true))
	assert.Equal(t, []string{"uuid-1"}, f.transfers.completed)

	require.NoError(t, f.service.SetTransferStatus(ctx(), f.n2, "uuid-1", false))
	assert.Equal(t, []string{"uuid-1"}, f.transfers.failed)
}

func TestSetTransferStatusWithoutTransfer(t *testing.T) {
	f := newFixture(t)

	err := f.service.SetTransferStatus(ctx(), f.n2, "uuid-1", true)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestGetBackupUploadParts(t *testing.T) {
	tests := []struct {
		name string
		disk string
		size int64
		kind error
	}{
		{name: "s3", disk: types.BackupAdapterS3, size: 1 << 30},
		{name: "local adapter", disk: types.BackupAdapterWings, size: 1 << 30, kind: errdefs.ErrInvalidArgument},
		{name: "zero size", disk: types.BackupAdapterS3, size: 0, kind: errdefs.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addBackup(t, "backup-1", tt.disk, false)

			parts, err := f.service.GetBackupUploadParts(ctx(), f.n1, "backup-1", tt.size)
			if tt.kind != nil {
				assert.True(t, errors.Is(err, tt.kind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parts.Parts, 1)
			assert.Equal(t, tt.size, parts.PartSize)
		})
	}
}

func TestGetBackupUploadPartsUnconfigured(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterS3, false)
	service := NewService(f.store, Options{Clock: f.clock})

	_, err := service.GetBackupUploadParts(ctx(), f.n1, "backup-1", 1024)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestSetBackupStatus(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterWings, true)

	// Prime the listing cache
	listed, err := f.backups.List("s1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsCompleted())

	backup, err := f.service.SetBackupStatus(ctx(), f.n1, "backup-1", BackupStatus{
		Checksum:     "9f86d081884c7d65",
		ChecksumType: "sha1",
		Size:         4096,
		Successful:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "sha1:9f86d081884c7d65", backup.Checksum)
	assert.Equal(t, int64(4096), backup.Bytes)
	assert.True(t, backup.IsSuccessful)
	assert.True(t, backup.IsLocked)

	listed, err = f.backups.List("s1")
	require.NoError(t, err)
	assert.True(t, listed[0].IsCompleted())

	_, err = f.service.SetBackupStatus(ctx(), f.n1, "backup-1", BackupStatus{Successful: true})
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))

	events := f.auditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "server:backup.complete", events[0].Event)
}

func TestSetBackupStatusFailureUnlocks(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterS3, true)

	backup, err := f.service.SetBackupStatus(ctx(), f.n1, "backup-1", BackupStatus{Successful: false})
	require.NoError(t, err)
	assert.False(t, backup.IsSuccessful)
	assert.False(t, backup.IsLocked)
	assert.True(t, f.uploader.aborted)
	assert.Equal(t, "server:backup.fail", f.auditEvents(t)[0].Event)
}

func TestSetBackupStatusCompletesUpload(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterS3, false)
	parts := []CompletedPart{{ETag: `"abc"`, PartNumber: 1}}

	_, err := f.service.SetBackupStatus(ctx(), f.n1, "backup-1", BackupStatus{Successful: true, Parts: parts})
	require.NoError(t, err)
	assert.Equal(t, parts, f.uploader.completed)
}

func TestSetBackupStatusForbiddenForOtherNode(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterWings, false)

	_, err := f.service.SetBackupStatus(ctx(), f.n2, "backup-1", BackupStatus{Successful: true})
	assert.True(t, errors.Is(err, errdefs.ErrForbidden))
}

func TestSetRestoreStatus(t *testing.T) {
	f := newFixture(t)
	f.addBackup(t, "backup-1", types.BackupAdapterWings, false)
	require.NoError(t, f.store.SetServerStatus("s1", types.ServerStatusRestoringBackup))

	require.NoError(t, f.service.SetRestoreStatus(ctx(), f.n1, "backup-1", false))
	assert.Equal(t, types.ServerStatusRestoreFailed, f.server(t, "s1").Status)

	require.NoError(t, f.service.SetRestoreStatus(ctx(), f.n1, "backup-1", true))
	assert.Equal(t, types.ServerStatusHealthy, f.server(t, "s1").Status)

	backup, err := f.store.GetBackupByUUID("backup-1")
	require.NoError(t, err)
	assert.False(t, backup.IsCompleted())
}

func TestIngestActivity(t *testing.T) {
	f := newFixture(t)
	f.addServer(t, "s2", "uuid-2", "n2", types.ServerStatusHealthy)

	result := f.service.IngestActivity(ctx(), f.n1, ActivityBatch{Data: []ActivityItem{
		{Event: "server:console.command", Timestamp: "2025-04-01T09:00:00Z", Server: "uuid-1", User: "user-7", Metadata: map[string]interface{}{"command": "say hi"}},
		{Event: "server:sftp.write", Timestamp: "2025-04-01T09:01:00Z", Server: "uuid-1", IP: "203.0.113.9"},
		{Event: "daemon:boot", Timestamp: "2025-04-01T09:02:00Z"},
		{Timestamp: "2025-04-01T09:03:00Z", Server: "uuid-1"},
		{Event: "server:power.start", Timestamp: "yesterday", Server: "uuid-1"},
		{Event: "server:power.start", Timestamp: "2025-04-01T09:04:00Z", Server: "uuid-2"},
		{Event: "server:power.start", Timestamp: "2025-04-01T09:05:00Z", Server: "missing"},
	}})

	assert.Equal(t, ActivityResult{Received: 7, Processed: 3, Failed: 4}, result)

	events := f.auditEvents(t)
	require.Len(t, events, 3)
	byName := make(map[string]*types.AuditEvent)
	for _, e := range events {
		byName[e.Event] = e
	}

	command := byName["server:console.command"]
	require.NotNil(t, command)
	assert.Equal(t, "user-7", command.Actor)
	assert.Equal(t, types.ActorUser, command.ActorType)
	assert.Equal(t, "uuid-1", command.SubjectID)
	assert.Equal(t, "say hi", command.Metadata["command"])

	write := byName["server:sftp.write"]
	require.NotNil(t, write)
	assert.Equal(t, "n1", write.Actor)
	assert.Equal(t, types.ActorDaemon, write.ActorType)
	assert.Equal(t, "203.0.113.9", write.IP)

	boot := byName["daemon:boot"]
	require.NotNil(t, boot)
	assert.Empty(t, boot.SubjectID)
	assert.Equal(t, time.Date(2025, 4, 1, 9, 2, 0, 0, time.UTC), boot.Timestamp.UTC())
}

func TestResetStuckServers(t *testing.T) {
	f := newFixture(t)
	f.addServer(t, "s2", "uuid-2", "n1", types.ServerStatusRestoringBackup)
	f.addServer(t, "s3", "uuid-3", "n1", types.ServerStatusInstallFailed)
	f.addServer(t, "s4", "uuid-4", "n2", types.ServerStatusInstalling)

	uuids, err := f.service.ResetStuckServers(ctx(), f.n1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uuid-1", "uuid-2"}, uuids)

	assert.Equal(t, types.ServerStatusHealthy, f.server(t, "s1").Status)
	assert.Equal(t, types.ServerStatusHealthy, f.server(t, "s2").Status)
	assert.Equal(t, types.ServerStatusInstallFailed, f.server(t, "s3").Status)
	assert.Equal(t, types.ServerStatusInstalling, f.server(t, "s4").Status)

	previous := make(map[string]string)
	for _, e := range f.auditEvents(t) {
		assert.Equal(t, "server:status.reset", e.Event)
		previous[e.SubjectID] = e.Metadata["previous_status"]
	}
	assert.Equal(t, map[string]string{
		"uuid-1": string(types.ServerStatusInstalling),
		"uuid-2": string(types.ServerStatusRestoringBackup),
	}, previous)
}

func newCredentials(f *fixture) Credentials {
	return registry.New(f.store, f.codec, registry.Options{Clock: f.clock})
}
