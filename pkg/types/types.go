package types

import (
	"time"
)

// Node represents a machine running the node daemon
type Node struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Scheme             string    `json:"scheme"` // "http" or "https"
	FQDN               string    `json:"fqdn"`
	DaemonListen       int       `json:"daemon_listen"`
	Memory             int64     `json:"memory"`              // MiB
	MemoryOverallocate int64     `json:"memory_overallocate"` // percent, -1 = unlimited
	Disk               int64     `json:"disk"`                // MiB
	DiskOverallocate   int64     `json:"disk_overallocate"`   // percent, -1 = unlimited
	DaemonTokenID      string    `json:"daemon_token_id"`
	DaemonToken        string    `json:"daemon_token"` // Encrypted with the application key
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Unlimited marks an overallocation percentage with no upper bound
const Unlimited int64 = -1

// Allocation is an IP:port pair on a node that can be bound to a server
type Allocation struct {
	ID       string `json:"id"`
	NodeID   string `json:"node_id"`
	ServerID string `json:"server_id,omitempty"` // Empty = free pool
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Alias    string `json:"ip_alias,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// IsAssigned reports whether the allocation is bound to a server
func (a *Allocation) IsAssigned() bool {
	return a.ServerID != ""
}

// ServerStatus is the control-plane view of whether a server is mid-operation
type ServerStatus string

const (
	ServerStatusHealthy         ServerStatus = "healthy"
	ServerStatusInstalling      ServerStatus = "installing"
	ServerStatusInstallFailed   ServerStatus = "install_failed"
	ServerStatusReinstallFailed ServerStatus = "reinstall_failed"
	ServerStatusRestoringBackup ServerStatus = "restoring_backup"
	ServerStatusRestoreFailed   ServerStatus = "restore_failed"
	ServerStatusArchived        ServerStatus = "archived"
)

// IsTransitional reports whether an operation is in flight for the server
func (s ServerStatus) IsTransitional() bool {
	switch s {
	case ServerStatusInstalling, ServerStatusRestoringBackup:
		return true
	}
	return false
}

// IsFailed reports whether the last operation on the server failed
func (s ServerStatus) IsFailed() bool {
	switch s {
	case ServerStatusInstallFailed, ServerStatusReinstallFailed, ServerStatusRestoreFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s ServerStatus) Valid() bool {
	switch s {
	case ServerStatusHealthy,
		ServerStatusInstalling,
		ServerStatusInstallFailed,
		ServerStatusReinstallFailed,
		ServerStatusRestoringBackup,
		ServerStatusRestoreFailed,
		ServerStatusArchived:
		return true
	}
	return false
}

// Limits are the resources a server is allowed to consume on its node
type Limits struct {
	Memory  int64  `json:"memory"` // MiB
	Swap    int64  `json:"swap"`   // MiB
	Disk    int64  `json:"disk"`   // MiB
	IO      int64  `json:"io"`
	CPU     int64  `json:"cpu"` // percent of one core
	Threads string `json:"threads,omitempty"`
}

// Server is the desired-state record for a game server
type Server struct {
	ID           string            `json:"id"`
	UUID         string            `json:"uuid"`
	Identifier   string            `json:"identifier"`
	Name         string            `json:"name"`
	NodeID       string            `json:"node_id"`
	AllocationID string            `json:"allocation_id"`
	EggID        string            `json:"egg_id"`
	Status       ServerStatus      `json:"status"`
	Suspended    bool              `json:"suspended"`
	Limits       Limits            `json:"limits"`
	Image        string            `json:"image"`
	Startup      string            `json:"startup"`
	Environment  map[string]string `json:"environment,omitempty"`
	InstalledAt  time.Time         `json:"installed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Backup adapters supported by the daemon
const (
	BackupAdapterWings = "wings"
	BackupAdapterS3    = "s3"
)

// Backup is a point-in-time archive of a server's files held by the daemon
type Backup struct {
	ID           string    `json:"id"`
	ServerID     string    `json:"server_id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	IgnoredFiles []string  `json:"ignored_files,omitempty"`
	Disk         string    `json:"disk"`
	Checksum     string    `json:"checksum,omitempty"` // "<type>:<hash>"
	Bytes        int64     `json:"bytes"`
	IsSuccessful bool      `json:"is_successful"`
	IsLocked     bool      `json:"is_locked"`
	UploadID     string    `json:"upload_id,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsCompleted reports whether the daemon has reported a result for the backup
func (b *Backup) IsCompleted() bool {
	return !b.CompletedAt.IsZero()
}

// TransferStatus tracks the outcome of a server transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusFailed    TransferStatus = "failed"
)

// Transfer records the move of a server from one node to another
type Transfer struct {
	ID                       string         `json:"id"`
	ServerID                 string         `json:"server_id"`
	OldNode                  string         `json:"old_node"`
	NewNode                  string         `json:"new_node"`
	OldAllocation            string         `json:"old_allocation"`
	NewAllocation            string         `json:"new_allocation"`
	OldAdditionalAllocations []string       `json:"old_additional_allocations,omitempty"`
	NewAdditionalAllocations []string       `json:"new_additional_allocations,omitempty"`
	Status                   TransferStatus `json:"status"`
	Archived                 bool           `json:"archived"`
	StartOnCompletion        bool           `json:"start_on_completion"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// Successful reports whether the transfer was confirmed by the destination
func (t *Transfer) Successful() bool {
	return t.Status == TransferStatusSucceeded
}

// IsActive reports whether the transfer has not been resolved yet
func (t *Transfer) IsActive() bool {
	return t.Status == TransferStatusPending
}

// NewAllocations returns the primary and additional destination allocations
func (t *Transfer) NewAllocations() []string {
	ids := make([]string, 0, 1+len(t.NewAdditionalAllocations))
	if t.NewAllocation != "" {
		ids = append(ids, t.NewAllocation)
	}
	return append(ids, t.NewAdditionalAllocations...)
}

// OldAllocations returns the primary and additional source allocations
func (t *Transfer) OldAllocations() []string {
	ids := make([]string, 0, 1+len(t.OldAdditionalAllocations))
	if t.OldAllocation != "" {
		ids = append(ids, t.OldAllocation)
	}
	return append(ids, t.OldAdditionalAllocations...)
}

// Egg describes how to install and start a game server image
type Egg struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description,omitempty" yaml:"description"`
	DockerImage     string `json:"docker_image" yaml:"docker_image"`
	Startup         string `json:"startup" yaml:"startup"`
	ScriptContainer string `json:"script_container" yaml:"script_container"`
	ScriptEntry     string `json:"script_entry" yaml:"script_entry"`
	ScriptInstall   string `json:"script_install" yaml:"script_install"`
}

// ActorType identifies who performed an audited action
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorDaemon ActorType = "daemon"
)

// AuditEvent is an append-only record of something that happened
type AuditEvent struct {
	ID          uint64            `json:"id"`
	Actor       string            `json:"actor"`
	ActorType   ActorType         `json:"actor_type"`
	Event       string            `json:"event"`
	SubjectType string            `json:"subject_type,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
