package registry

import (
	"context"

	"github.com/cuemby/paddock/pkg/daemon"
)

// Daemon is the node daemon API as the rest of the control plane sees it.
// *daemon.Client implements it; tests substitute fakes.
type Daemon interface {
	BaseURL() string

	SendPowerAction(ctx context.Context, uuid string, action daemon.PowerAction) error
	SendCommand(ctx context.Context, uuid, command string) error
	GetServerResources(ctx context.Context, uuid string) (*daemon.ResourceSnapshot, error)

	CreateServer(ctx context.Context, cfg daemon.ServerConfig) error
	UpdateServer(ctx context.Context, uuid string, patch daemon.ServerPatch) error
	DeleteServer(ctx context.Context, uuid string) error
	ReinstallServer(ctx context.Context, uuid string) error
	SyncServer(ctx context.Context, uuid string) error
	TransferServer(ctx context.Context, uuid string, req daemon.TransferRequest) error

	ListFiles(ctx context.Context, uuid, directory string) ([]daemon.FileObject, error)
	GetFileContents(ctx context.Context, uuid, file string, maxBytes int64) ([]byte, error)
	WriteFileContents(ctx context.Context, uuid, file string, content []byte) error
	CreateDirectory(ctx context.Context, uuid, name, path string) error
	DeleteFiles(ctx context.Context, uuid, root string, files []string) error
	RenameFiles(ctx context.Context, uuid, root string, files []daemon.RenamePair) error
	CopyFile(ctx context.Context, uuid, location string) error
	CompressFiles(ctx context.Context, uuid, root string, files []string) (*daemon.FileObject, error)
	DecompressFile(ctx context.Context, uuid, root, file string) error
	ChmodFiles(ctx context.Context, uuid, root string, files []daemon.ChmodEntry) error
	PullFile(ctx context.Context, uuid string, req daemon.PullRequest) error
	GetFileDownloadURL(ctx context.Context, uuid, file string) (string, error)
	GetFileUploadURL(ctx context.Context, uuid string) (string, error)

	CreateBackup(ctx context.Context, uuid, backupUUID, adapter string, ignored []string) error
	DeleteBackup(ctx context.Context, uuid, backupUUID string) error
	RestoreBackup(ctx context.Context, uuid, backupUUID string, req daemon.RestoreRequest) error
	GetBackupDownloadURL(ctx context.Context, uuid, backupUUID string) (string, error)
	ListBackups(ctx context.Context, uuid string) ([]daemon.BackupDescriptor, error)

	GetWebSocketToken(ctx context.Context, uuid string) (*daemon.WebSocketToken, error)
	GetSystemInformation(ctx context.Context) (*daemon.SystemInformation, error)
}

var _ Daemon = (*daemon.Client)(nil)
