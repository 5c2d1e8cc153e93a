package daemon

import (
	"context"
	"net/http"
	"net/url"
)

// CreateBackup starts a backup; the result arrives later on the remote API
func (c *Client) CreateBackup(ctx context.Context, uuid, backupUUID, adapter string, ignored []string) error {
	return c.do(ctx, call{
		op:     "create_backup",
		method: http.MethodPost,
		path:   serverPath(uuid, "backup"),
		body: map[string]interface{}{
			"adapter": adapter,
			"uuid":    backupUUID,
			"ignore":  ignored,
		},
	})
}

// DeleteBackup removes a locally stored backup
func (c *Client) DeleteBackup(ctx context.Context, uuid, backupUUID string) error {
	return c.do(ctx, call{
		op:     "delete_backup",
		method: http.MethodDelete,
		path:   serverPath(uuid, "backup", url.PathEscape(backupUUID)),
	})
}

// RestoreBackup restores a backup; the result arrives later on the remote API
func (c *Client) RestoreBackup(ctx context.Context, uuid, backupUUID string, req RestoreRequest) error {
	return c.do(ctx, call{
		op:     "restore_backup",
		method: http.MethodPost,
		path:   serverPath(uuid, "backup", url.PathEscape(backupUUID), "restore"),
		body:   req,
	})
}

// GetBackupDownloadURL returns a signed download URL for a local backup
func (c *Client) GetBackupDownloadURL(ctx context.Context, uuid, backupUUID string) (string, error) {
	var signed SignedURL
	err := c.do(ctx, call{
		op:     "backup_download_url",
		method: http.MethodGet,
		path:   serverPath(uuid, "backup", url.PathEscape(backupUUID), "download-url"),
		out:    &signed,
	})
	return signed.URL, err
}

// ListBackups returns the backups the daemon holds for a server
func (c *Client) ListBackups(ctx context.Context, uuid string) ([]BackupDescriptor, error) {
	var backups []BackupDescriptor
	err := c.do(ctx, call{
		op:     "list_backups",
		method: http.MethodGet,
		path:   serverPath(uuid, "backup"),
		out:    &backups,
	})
	return backups, err
}
