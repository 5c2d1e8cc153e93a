package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
)

// Command ops
const (
	opCreateNode           = "create_node"
	opUpdateNode           = "update_node"
	opDeleteNode           = "delete_node"
	opCreateAllocation     = "create_allocation"
	opReserveAllocations   = "reserve_allocations"
	opReleaseAllocations   = "release_allocations"
	opCreateServer         = "create_server"
	opUpdateServer         = "update_server"
	opDeleteServer         = "delete_server"
	opSetServerStatus      = "set_server_status"
	opMarkServerInstalled  = "mark_server_installed"
	opSetServerSuspended   = "set_server_suspended"
	opResetStuckServers    = "reset_stuck_servers"
	opCreateBackup         = "create_backup"
	opDeleteBackup         = "delete_backup"
	opCompleteBackup       = "complete_backup"
	opCreateTransfer       = "create_transfer"
	opCommitTransfer       = "commit_transfer"
	opFailTransfer         = "fail_transfer"
	opMarkTransferArchived = "mark_transfer_archived"
	opCreateEgg            = "create_egg"
	opAppendAuditEvent     = "append_audit_event"
)

// PaddockFSM implements the Raft Finite State Machine for Paddock's control plane state.
// It applies log entries to the local store and handles snapshots.
type PaddockFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewPaddockFSM creates a new FSM instance
func NewPaddockFSM(store storage.Store) *PaddockFSM {
	return &PaddockFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type allocationsPayload struct {
	NodeID   string   `json:"node_id,omitempty"`
	ServerID string   `json:"server_id"`
	IDs      []string `json:"ids"`
}

type serverStatusPayload struct {
	ID     string             `json:"id"`
	Status types.ServerStatus `json:"status"`
}

type serverSuspendedPayload struct {
	ID        string `json:"id"`
	Suspended bool   `json:"suspended"`
}

type stuckServersPayload struct {
	NodeID string               `json:"node_id"`
	From   []types.ServerStatus `json:"from"`
}

type completeBackupPayload struct {
	UUID   string               `json:"uuid"`
	Result storage.BackupResult `json:"result"`
}

// timedPayload carries an id plus the leader's timestamp so every replica
// writes the same value
type timedPayload struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Apply applies a Raft log entry to the FSM.
// This is called by Raft when a log entry is committed. The return value is
// either an error or the result of the operation.
func (f *PaddockFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Node operations
	case opCreateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		if err := f.store.CreateNode(&node); err != nil {
			return err
		}
		return &node

	case opUpdateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case opDeleteNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	// Allocation operations
	case opCreateAllocation:
		var allocation types.Allocation
		if err := json.Unmarshal(cmd.Data, &allocation); err != nil {
			return err
		}
		if err := f.store.CreateAllocation(&allocation); err != nil {
			return err
		}
		return &allocation

	case opReserveAllocations:
		var p allocationsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.ReserveAllocations(p.NodeID, p.ServerID, p.IDs)

	case opReleaseAllocations:
		var p allocationsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.ReleaseAllocations(p.ServerID, p.IDs)

	// Server operations
	case opCreateServer:
		var server types.Server
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		if err := f.store.CreateServer(&server); err != nil {
			return err
		}
		return &server

	case opUpdateServer:
		var server types.Server
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		return f.store.UpdateServer(&server)

	case opDeleteServer:
		var serverID string
		if err := json.Unmarshal(cmd.Data, &serverID); err != nil {
			return err
		}
		return f.store.DeleteServer(serverID)

	case opSetServerStatus:
		var p serverStatusPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.SetServerStatus(p.ID, p.Status)

	case opMarkServerInstalled:
		var p timedPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.MarkServerInstalled(p.ID, p.At)

	case opSetServerSuspended:
		var p serverSuspendedPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		previous, err := f.store.SetServerSuspended(p.ID, p.Suspended)
		if err != nil {
			return err
		}
		return previous

	case opResetStuckServers:
		var p stuckServersPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		changes, err := f.store.ResetStuckServers(p.NodeID, p.From)
		if err != nil {
			return err
		}
		return changes

	// Backup operations
	case opCreateBackup:
		var backup types.Backup
		if err := json.Unmarshal(cmd.Data, &backup); err != nil {
			return err
		}
		if err := f.store.CreateBackup(&backup); err != nil {
			return err
		}
		return &backup

	case opDeleteBackup:
		var backupID string
		if err := json.Unmarshal(cmd.Data, &backupID); err != nil {
			return err
		}
		return f.store.DeleteBackup(backupID)

	case opCompleteBackup:
		var p completeBackupPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		backup, err := f.store.CompleteBackup(p.UUID, p.Result)
		if err != nil {
			return err
		}
		return backup

	// Transfer operations
	case opCreateTransfer:
		var transfer types.Transfer
		if err := json.Unmarshal(cmd.Data, &transfer); err != nil {
			return err
		}
		if err := f.store.CreateTransfer(&transfer); err != nil {
			return err
		}
		return &transfer

	case opCommitTransfer:
		var p timedPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		transfer, err := f.store.CommitTransfer(p.ID, p.At)
		if err != nil {
			return err
		}
		return transfer

	case opFailTransfer:
		var p timedPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		transfer, err := f.store.FailTransfer(p.ID, p.At)
		if err != nil {
			return err
		}
		return transfer

	case opMarkTransferArchived:
		var transferID string
		if err := json.Unmarshal(cmd.Data, &transferID); err != nil {
			return err
		}
		return f.store.MarkTransferArchived(transferID)

	// Egg operations
	case opCreateEgg:
		var egg types.Egg
		if err := json.Unmarshal(cmd.Data, &egg); err != nil {
			return err
		}
		if err := f.store.CreateEgg(&egg); err != nil {
			return err
		}
		return &egg

	// Audit operations
	case opAppendAuditEvent:
		var event types.AuditEvent
		if err := json.Unmarshal(cmd.Data, &event); err != nil {
			return err
		}
		if err := f.store.AppendAuditEvent(&event); err != nil {
			return err
		}
		return &event

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM.
// This is called periodically by Raft to compact the log.
func (f *PaddockFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Collect all state
	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %v", err)
	}

	var allocations []*types.Allocation
	for _, node := range nodes {
		list, err := f.store.ListAllocationsByNode(node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list allocations: %v", err)
		}
		allocations = append(allocations, list...)
	}

	servers, err := f.store.ListServers()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %v", err)
	}

	var backups []*types.Backup
	var transfers []*types.Transfer
	for _, server := range servers {
		bl, err := f.store.ListBackupsByServer(server.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %v", err)
		}
		backups = append(backups, bl...)

		tl, err := f.store.ListTransfersByServer(server.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list transfers: %v", err)
		}
		transfers = append(transfers, tl...)
	}

	eggs, err := f.store.ListEggs()
	if err != nil {
		return nil, fmt.Errorf("failed to list eggs: %v", err)
	}

	audit, err := f.store.ListAuditEvents(0)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %v", err)
	}

	snapshot := &PaddockSnapshot{
		Nodes:       nodes,
		Allocations: allocations,
		Servers:     servers,
		Backups:     backups,
		Transfers:   transfers,
		Eggs:        eggs,
		AuditEvents: audit,
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot.
// This is called when a node restarts or joins the cluster.
func (f *PaddockFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot PaddockSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Parents before children: allocations need nodes, backups need servers
	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %v", err)
		}
	}

	for _, allocation := range snapshot.Allocations {
		if err := f.store.CreateAllocation(allocation); err != nil {
			return fmt.Errorf("failed to restore allocation: %v", err)
		}
	}

	for _, server := range snapshot.Servers {
		if err := f.store.CreateServer(server); err != nil {
			return fmt.Errorf("failed to restore server: %v", err)
		}
	}

	for _, backup := range snapshot.Backups {
		if err := f.store.CreateBackup(backup); err != nil {
			return fmt.Errorf("failed to restore backup: %v", err)
		}
	}

	for _, transfer := range snapshot.Transfers {
		if err := f.store.CreateTransfer(transfer); err != nil {
			return fmt.Errorf("failed to restore transfer: %v", err)
		}
	}

	for _, egg := range snapshot.Eggs {
		if err := f.store.CreateEgg(egg); err != nil {
			return fmt.Errorf("failed to restore egg: %v", err)
		}
	}

	// The audit log is append-only; skip what this replica already holds
	var lastID uint64
	if latest, err := f.store.ListAuditEvents(1); err == nil && len(latest) > 0 {
		lastID = latest[0].ID
	}
	for i := len(snapshot.AuditEvents) - 1; i >= 0; i-- {
		event := snapshot.AuditEvents[i]
		if event.ID <= lastID {
			continue
		}
		if err := f.store.AppendAuditEvent(event); err != nil {
			return fmt.Errorf("failed to restore audit event: %v", err)
		}
	}

	return nil
}

// PaddockSnapshot represents a point-in-time snapshot of control plane state
type PaddockSnapshot struct {
	Nodes       []*types.Node
	Allocations []*types.Allocation
	Servers     []*types.Server
	Backups     []*types.Backup
	Transfers   []*types.Transfer
	Eggs        []*types.Egg
	AuditEvents []*types.AuditEvent
}

// Persist writes the snapshot to the given SnapshotSink
func (s *PaddockSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		// Encode snapshot as JSON
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *PaddockSnapshot) Release() {}
