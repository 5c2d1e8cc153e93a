package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/types"
)

// CreateBackupRequest starts a backup
type CreateBackupRequest struct {
	Name    string   `json:"name"`
	Adapter string   `json:"adapter,omitempty"`
	Ignored []string `json:"ignored,omitempty"`
	Locked  bool     `json:"is_locked"`
}

// RestoreRequest restores a backup onto its server
type RestoreRequest struct {
	Truncate bool `json:"truncate"`
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	server, err := s.lookupServer(r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	backups, err := s.backups.List(server.ID)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, backups)
}

// createBackup records the backup before asking the daemon to take it; the
// daemon reports the result on the remote API
func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	adapter := req.Adapter
	if adapter == "" {
		adapter = types.BackupAdapterWings
	}
	if adapter != types.BackupAdapterWings && adapter != types.BackupAdapterS3 {
		httpapi.Error(w, errdefs.InvalidArgument("unknown backup adapter %q", adapter))
		return
	}

	server, client, err := s.serverClient(r)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	if server.Status != types.ServerStatusHealthy {
		httpapi.Error(w, errdefs.InvalidState("server %s is %s", server.UUID, server.Status))
		return
	}

	backup := &types.Backup{
		ServerID:     server.ID,
		UUID:         uuid.NewString(),
		Name:         req.Name,
		IgnoredFiles: req.Ignored,
		Disk:         adapter,
		IsLocked:     req.Locked,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if backup.Name == "" {
		backup.Name = "Backup at " + backup.CreatedAt.Format("2006-01-02 15:04:05")
	}
	if err := s.store.CreateBackup(backup); err != nil {
		httpapi.Error(w, err)
		return
	}
	s.backups.Invalidate(server.ID)

	if err := client.CreateBackup(r.Context(), server.UUID, backup.UUID, adapter, req.Ignored); err != nil {
		if derr := s.store.DeleteBackup(backup.ID); derr != nil {
			s.logger.Error().Err(derr).Str("backup", backup.UUID).Msg("Failed to remove backup the daemon rejected")
		}
		s.backups.Invalidate(server.ID)
		httpapi.Error(w, err)
		return
	}

	_ = s.recorder.Record(r.Context(), "server:backup.start", audit.ServerSubject(server), map[string]string{
		"backup": backup.UUID,
		"name":   backup.Name,
	})
	httpapi.JSON(w, http.StatusAccepted, backup)
}

// restoreBackup marks the server as restoring and asks the daemon to
// restore. The status is put back if the daemon refuses.
func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	server, client, err := s.serverClient(r)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	backup, err := s.store.GetBackupByUUID(r.PathValue("backup"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	switch {
	case backup.ServerID != server.ID:
		httpapi.Error(w, errdefs.NotFound("backup not found: %s", backup.UUID))
		return
	case !backup.IsCompleted() || !backup.IsSuccessful:
		httpapi.Error(w, errdefs.InvalidState("backup %s has not completed successfully", backup.UUID))
		return
	case server.Status.IsTransitional() || server.Status == types.ServerStatusArchived:
		httpapi.Error(w, errdefs.InvalidState("server %s is %s", server.UUID, server.Status))
		return
	}

	previous := server.Status
	if err := s.store.SetServerStatus(server.ID, types.ServerStatusRestoringBackup); err != nil {
		httpapi.Error(w, err)
		return
	}

	err = client.RestoreBackup(r.Context(), server.UUID, backup.UUID, daemon.RestoreRequest{
		Adapter:  backup.Disk,
		Truncate: req.Truncate,
	})
	if err != nil {
		if serr := s.store.SetServerStatus(server.ID, previous); serr != nil {
			s.logger.Error().Err(serr).Str("server", server.UUID).Msg("Failed to restore server status")
		}
		httpapi.Error(w, err)
		return
	}

	_ = s.recorder.Record(r.Context(), "server:backup.restore", audit.ServerSubject(server), map[string]string{
		"backup":   backup.UUID,
		"truncate": strconv.FormatBool(req.Truncate),
	})
	w.WriteHeader(http.StatusAccepted)
}

