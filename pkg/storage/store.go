package storage

import (
	"time"

	"github.com/cuemby/paddock/pkg/types"
)

// Store defines the interface for control plane state storage.
// Implemented by BoltStore (local) and manager.Manager (Raft-replicated).
//
// Methods documented as conditional check and write inside one transaction;
// they are the only way the transfer and callback code mutates shared rows.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	GetNodeByTokenID(tokenID string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Allocations
	CreateAllocation(allocation *types.Allocation) error
	GetAllocation(id string) (*types.Allocation, error)
	ListAllocationsByNode(nodeID string) ([]*types.Allocation, error)
	ListAllocationsByServer(serverID string) ([]*types.Allocation, error)
	// ReserveAllocations assigns every id to serverID only if all of them
	// belong to nodeID and are unassigned. Conditional, all-or-nothing.
	ReserveAllocations(nodeID, serverID string, ids []string) error
	// ReleaseAllocations unassigns the ids still held by serverID. Conditional.
	ReleaseAllocations(serverID string, ids []string) error

	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	GetServerByUUID(uuid string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	ListServersByNode(nodeID string) ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	DeleteServer(id string) error
	SetServerStatus(id string, status types.ServerStatus) error
	MarkServerInstalled(id string, at time.Time) error
	// SetServerSuspended stores the flag and returns its previous value
	SetServerSuspended(id string, suspended bool) (bool, error)
	// ResetStuckServers clears the status of every server on nodeID whose
	// status is one of from. Conditional.
	ResetStuckServers(nodeID string, from []types.ServerStatus) ([]StatusChange, error)

	// Backups
	CreateBackup(backup *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	GetBackupByUUID(uuid string) (*types.Backup, error)
	ListBackupsByServer(serverID string) ([]*types.Backup, error)
	DeleteBackup(id string) error
	// CompleteBackup records the daemon's result, only if not completed yet
	CompleteBackup(uuid string, result BackupResult) (*types.Backup, error)

	// Transfers
	// CreateTransfer inserts a transfer only if the server has no pending one
	CreateTransfer(transfer *types.Transfer) error
	GetTransfer(id string) (*types.Transfer, error)
	GetActiveTransfer(serverID string) (*types.Transfer, error)
	ListTransfersByServer(serverID string) ([]*types.Transfer, error)
	// CommitTransfer moves the server to the destination node and allocation,
	// releases the source allocations and marks the transfer succeeded
	CommitTransfer(id string, at time.Time) (*types.Transfer, error)
	// FailTransfer releases the destination allocations and marks the
	// transfer failed
	FailTransfer(id string, at time.Time) (*types.Transfer, error)
	MarkTransferArchived(id string) error

	// Eggs
	CreateEgg(egg *types.Egg) error
	GetEgg(id string) (*types.Egg, error)
	ListEggs() ([]*types.Egg, error)

	// Audit log
	AppendAuditEvent(event *types.AuditEvent) error
	ListAuditEvents(limit int) ([]*types.AuditEvent, error)

	// Utility
	Close() error
}

// StatusChange describes a server whose status was reset
type StatusChange struct {
	ServerID       string             `json:"server_id"`
	UUID           string             `json:"uuid"`
	PreviousStatus types.ServerStatus `json:"previous_status"`
}

// BackupResult is the outcome a daemon reports for a backup
type BackupResult struct {
	Successful  bool      `json:"successful"`
	Checksum    string    `json:"checksum"`
	Bytes       int64     `json:"bytes"`
	CompletedAt time.Time `json:"completed_at"`
}
