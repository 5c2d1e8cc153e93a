package remote

import (
	"context"
	"time"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/cache"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// DefaultBackupListingTTL is how long a server's backup list is reused
const DefaultBackupListingTTL = 60 * time.Second

// UploadParts are the presigned URLs a daemon uploads an s3 backup to
type UploadParts struct {
	Parts    []string `json:"parts"`
	PartSize int64    `json:"part_size"`
}

// CompletedPart is one uploaded part of an s3 backup
type CompletedPart struct {
	ETag       string `json:"etag"`
	PartNumber int    `json:"part_number"`
}

// BackupUploader manages multipart uploads of s3 backups
type BackupUploader interface {
	// PresignParts starts an upload of size bytes and presigns its parts
	PresignParts(ctx context.Context, backup *types.Backup, size int64) (*UploadParts, error)
	// Complete finishes an upload from its uploaded parts
	Complete(ctx context.Context, backup *types.Backup, parts []CompletedPart) error
	// Abort discards an upload
	Abort(ctx context.Context, backup *types.Backup) error
}

// unconfiguredUploader is used when no object storage is configured
type unconfiguredUploader struct{}

func (unconfiguredUploader) PresignParts(context.Context, *types.Backup, int64) (*UploadParts, error) {
	return nil, errdefs.Configuration("s3 backups are not configured")
}

func (unconfiguredUploader) Complete(context.Context, *types.Backup, []CompletedPart) error {
	return errdefs.Configuration("s3 backups are not configured")
}

func (unconfiguredUploader) Abort(context.Context, *types.Backup) error {
	return errdefs.Configuration("s3 backups are not configured")
}

// BackupListing caches each server's backup list
type BackupListing struct {
	store   storage.Store
	entries *cache.Cache[string, []*types.Backup]
}

// NewBackupListing creates a listing cache. A zero ttl uses DefaultBackupListingTTL.
func NewBackupListing(store storage.Store, ttl time.Duration, clk clock.Clock) *BackupListing {
	if ttl <= 0 {
		ttl = DefaultBackupListingTTL
	}
	return &BackupListing{
		store:   store,
		entries: cache.New[string, []*types.Backup](ttl, clk),
	}
}

// List returns the backups of serverID
func (l *BackupListing) List(serverID string) ([]*types.Backup, error) {
	if backups, ok := l.entries.Get(serverID); ok {
		return backups, nil
	}
	backups, err := l.store.ListBackupsByServer(serverID)
	if err != nil {
		return nil, err
	}
	l.entries.Set(serverID, backups)
	return backups, nil
}

// Invalidate drops the cached list of serverID
func (l *BackupListing) Invalidate(serverID string) {
	if l == nil {
		return
	}
	l.entries.Delete(serverID)
}

// ownedBackup loads a backup and its server and checks that node runs it
func (s *Service) ownedBackup(node *types.Node, backupUUID string) (*types.Backup, *types.Server, error) {
	backup, err := s.store.GetBackupByUUID(backupUUID)
	if err != nil {
		return nil, nil, err
	}
	server, err := s.store.GetServer(backup.ServerID)
	if err != nil {
		return nil, nil, err
	}
	if server.NodeID != node.ID {
		return nil, nil, errdefs.Forbidden("backup %s does not belong to node %s", backupUUID, node.ID)
	}
	return backup, server, nil
}

// GetBackupUploadParts presigns the upload of an s3 backup of size bytes
func (s *Service) GetBackupUploadParts(ctx context.Context, node *types.Node, backupUUID string, size int64) (*UploadParts, error) {
	backup, _, err := s.ownedBackup(node, backupUUID)
	if err != nil {
		return nil, err
	}
	if backup.IsCompleted() {
		return nil, errdefs.InvalidState("backup %s is already marked as completed", backupUUID)
	}
	if backup.Disk != types.BackupAdapterS3 {
		return nil, errdefs.InvalidArgument("backup %s does not use the s3 adapter", backupUUID)
	}
	if size <= 0 {
		return nil, errdefs.InvalidArgument("backup size must be positive")
	}
	return s.uploader.PresignParts(ctx, backup, size)
}

// BackupStatus is the backup outcome a daemon reports
type BackupStatus struct {
	Checksum     string          `json:"checksum"`
	ChecksumType string          `json:"checksum_type"`
	Size         int64           `json:"size"`
	Successful   bool            `json:"successful"`
	Parts        []CompletedPart `json:"parts"`
}

// SetBackupStatus finalizes a backup. For s3 backups the multipart upload
// is completed or aborted first.
func (s *Service) SetBackupStatus(ctx context.Context, node *types.Node, backupUUID string, status BackupStatus) (*types.Backup, error) {
	backup, server, err := s.ownedBackup(node, backupUUID)
	if err != nil {
		return nil, err
	}
	if backup.IsCompleted() {
		return nil, errdefs.InvalidState("backup %s is already marked as completed", backupUUID)
	}

	if backup.Disk == types.BackupAdapterS3 {
		if status.Successful {
			if err := s.uploader.Complete(ctx, backup, status.Parts); err != nil {
				return nil, err
			}
		} else if err := s.uploader.Abort(ctx, backup); err != nil {
			s.logger.Warn().Err(err).Str("backup", backupUUID).Msg("Failed to abort backup upload")
		}
	}

	checksum := ""
	if status.Checksum != "" {
		checksum = status.ChecksumType + ":" + status.Checksum
	}
	completed, err := s.store.CompleteBackup(backupUUID, storage.BackupResult{
		Successful:  status.Successful,
		Checksum:    checksum,
		Bytes:       status.Size,
		CompletedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.backups.Invalidate(server.ID)

	name, eventType := "server:backup.complete", events.EventBackupCompleted
	if !status.Successful {
		name, eventType = "server:backup.fail", events.EventBackupFailed
	}
	_ = s.recorder.Record(ctx, name, audit.ServerSubject(server), map[string]string{
		"backup": completed.UUID,
		"name":   completed.Name,
	})
	s.publish(eventType, server, completed.Name)
	return completed, nil
}
