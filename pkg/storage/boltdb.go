package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes       = []byte("nodes")
	bucketAllocations = []byte("allocations")
	bucketServers     = []byte("servers")
	bucketBackups     = []byte("backups")
	bucketTransfers   = []byte("transfers")
	bucketEggs        = []byte("eggs")
	bucketAudit       = []byte("audit_events")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "paddock.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes,
			bucketAllocations,
			bucketServers,
			bucketBackups,
			bucketTransfers,
			bucketEggs,
			bucketAudit,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func nextID(b *bolt.Bucket) (string, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(seq, 10), nil
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// getJSON decodes key into v and reports whether it existed
func getJSON(b *bolt.Bucket, key string, v interface{}) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func listJSON[T any](b *bolt.Bucket, keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := b.ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		if keep == nil || keep(&item) {
			out = append(out, &item)
		}
		return nil
	})
	return out, err
}

func findJSON[T any](b *bolt.Bucket, match func(*T) bool) (*T, error) {
	var found *T
	err := b.ForEach(func(k, v []byte) error {
		if found != nil {
			return nil
		}
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		if match(&item) {
			found = &item
		}
		return nil
	})
	return found, err
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if node.DaemonTokenID != "" {
			existing, err := findJSON(b, func(n *types.Node) bool {
				return n.DaemonTokenID == node.DaemonTokenID && n.ID != node.ID
			})
			if err != nil {
				return err
			}
			if existing != nil {
				return errdefs.InvalidArgument("daemon token id already in use")
			}
		}
		if node.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			node.ID = id
		}
		return putJSON(b, node.ID, node)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketNodes), id, &node)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("node not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) GetNodeByTokenID(tokenID string) (*types.Node, error) {
	var found *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = findJSON(tx.Bucket(bucketNodes), func(n *types.Node) bool {
			return n.DaemonTokenID == tokenID
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("node not found for token")
	}
	return found, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		nodes, err = listJSON[types.Node](tx.Bucket(bucketNodes), nil)
		return err
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	if _, err := s.GetNode(node.ID); err != nil {
		return err
	}
	return s.CreateNode(node) // Same as create (upsert)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Allocation operations
func (s *BoltStore) CreateAllocation(allocation *types.Allocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get([]byte(allocation.NodeID)) == nil {
			return errdefs.NotFound("node not found: %s", allocation.NodeID)
		}

		b := tx.Bucket(bucketAllocations)
		dup, err := findJSON(b, func(a *types.Allocation) bool {
			return a.NodeID == allocation.NodeID && a.IP == allocation.IP &&
				a.Port == allocation.Port && a.ID != allocation.ID
		})
		if err != nil {
			return err
		}
		if dup != nil {
			return errdefs.AllocationConflict("allocation %s:%d already exists on node %s",
				allocation.IP, allocation.Port, allocation.NodeID)
		}

		if allocation.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			allocation.ID = id
		}
		return putJSON(b, allocation.ID, allocation)
	})
}

func (s *BoltStore) GetAllocation(id string) (*types.Allocation, error) {
	var allocation types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketAllocations), id, &allocation)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("allocation not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (s *BoltStore) ListAllocationsByNode(nodeID string) ([]*types.Allocation, error) {
	var allocations []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		allocations, err = listJSON(tx.Bucket(bucketAllocations), func(a *types.Allocation) bool {
			return a.NodeID == nodeID
		})
		return err
	})
	return allocations, err
}

func (s *BoltStore) ListAllocationsByServer(serverID string) ([]*types.Allocation, error) {
	var allocations []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		allocations, err = listJSON(tx.Bucket(bucketAllocations), func(a *types.Allocation) bool {
			return a.ServerID == serverID
		})
		return err
	})
	return allocations, err
}

func (s *BoltStore) ReserveAllocations(nodeID, serverID string, ids []string) error {
	if len(ids) == 0 {
		return errdefs.InvalidArgument("no allocations to reserve")
	}
	if serverID == "" {
		return errdefs.InvalidArgument("server id is required to reserve allocations")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		seen := make(map[string]bool, len(ids))
		reserved := make([]*types.Allocation, 0, len(ids))

		// Check everything before writing anything
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			var allocation types.Allocation
			ok, err := getJSON(b, id, &allocation)
			if err != nil {
				return err
			}
			if !ok {
				return errdefs.NotFound("allocation not found: %s", id)
			}
			if allocation.NodeID != nodeID {
				return errdefs.AllocationConflict("allocation %s does not belong to node %s", id, nodeID)
			}
			if allocation.IsAssigned() {
				return errdefs.AllocationConflict("allocation %s is already assigned", id)
			}
			reserved = append(reserved, &allocation)
		}

		for _, allocation := range reserved {
			allocation.ServerID = serverID
			if err := putJSON(b, allocation.ID, allocation); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ReleaseAllocations(serverID string, ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return releaseAllocations(tx.Bucket(bucketAllocations), serverID, ids)
	})
}

func releaseAllocations(b *bolt.Bucket, serverID string, ids []string) error {
	for _, id := range ids {
		var allocation types.Allocation
		ok, err := getJSON(b, id, &allocation)
		if err != nil {
			return err
		}
		// Only release what this server still holds
		if !ok || allocation.ServerID != serverID {
			continue
		}
		allocation.ServerID = ""
		if err := putJSON(b, allocation.ID, &allocation); err != nil {
			return err
		}
	}
	return nil
}

// Server operations
func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		dup, err := findJSON(b, func(sv *types.Server) bool {
			return sv.UUID == server.UUID && sv.ID != server.ID
		})
		if err != nil {
			return err
		}
		if dup != nil {
			return errdefs.InvalidArgument("server uuid already exists: %s", server.UUID)
		}
		if server.Status == "" {
			server.Status = types.ServerStatusHealthy
		}
		if server.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			server.ID = id
		}
		return putJSON(b, server.ID, server)
	})
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketServers), id, &server)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("server not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) GetServerByUUID(uuid string) (*types.Server, error) {
	var found *types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = findJSON(tx.Bucket(bucketServers), func(sv *types.Server) bool {
			return sv.UUID == uuid
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("server not found: %s", uuid)
	}
	return found, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		servers, err = listJSON[types.Server](tx.Bucket(bucketServers), nil)
		return err
	})
	return servers, err
}

func (s *BoltStore) ListServersByNode(nodeID string) ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		servers, err = listJSON(tx.Bucket(bucketServers), func(sv *types.Server) bool {
			return sv.NodeID == nodeID
		})
		return err
	})
	return servers, err
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	if _, err := s.GetServer(server.ID); err != nil {
		return err
	}
	return s.CreateServer(server)
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).Delete([]byte(id))
	})
}

// updateServer applies fn to the stored server inside a write transaction
func (s *BoltStore) updateServer(id string, fn func(*types.Server) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		var server types.Server
		ok, err := getJSON(b, id, &server)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("server not found: %s", id)
		}
		if err := fn(&server); err != nil {
			return err
		}
		return putJSON(b, server.ID, &server)
	})
}

func (s *BoltStore) SetServerStatus(id string, status types.ServerStatus) error {
	if !status.Valid() {
		return errdefs.InvalidArgument("unknown server status %q", status)
	}
	return s.updateServer(id, func(server *types.Server) error {
		server.Status = status
		return nil
	})
}

func (s *BoltStore) MarkServerInstalled(id string, at time.Time) error {
	return s.updateServer(id, func(server *types.Server) error {
		server.Status = types.ServerStatusHealthy
		server.InstalledAt = at
		return nil
	})
}

func (s *BoltStore) SetServerSuspended(id string, suspended bool) (bool, error) {
	var previous bool
	err := s.updateServer(id, func(server *types.Server) error {
		previous = server.Suspended
		server.Suspended = suspended
		return nil
	})
	return previous, err
}

func (s *BoltStore) ResetStuckServers(nodeID string, from []types.ServerStatus) ([]StatusChange, error) {
	var changes []StatusChange
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		servers, err := listJSON(b, func(sv *types.Server) bool {
			if sv.NodeID != nodeID {
				return false
			}
			for _, st := range from {
				if sv.Status == st {
					return true
				}
			}
			return false
		})
		if err != nil {
			return err
		}

		for _, server := range servers {
			changes = append(changes, StatusChange{
				ServerID:       server.ID,
				UUID:           server.UUID,
				PreviousStatus: server.Status,
			})
			server.Status = types.ServerStatusHealthy
			if err := putJSON(b, server.ID, server); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// Backup operations
func (s *BoltStore) CreateBackup(backup *types.Backup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketServers).Get([]byte(backup.ServerID)) == nil {
			return errdefs.NotFound("server not found: %s", backup.ServerID)
		}
		b := tx.Bucket(bucketBackups)
		if backup.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			backup.ID = id
		}
		return putJSON(b, backup.ID, backup)
	})
}

func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var backup types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketBackups), id, &backup)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("backup not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &backup, nil
}

func (s *BoltStore) GetBackupByUUID(uuid string) (*types.Backup, error) {
	var found *types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = findJSON(tx.Bucket(bucketBackups), func(bk *types.Backup) bool {
			return bk.UUID == uuid
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("backup not found: %s", uuid)
	}
	return found, nil
}

func (s *BoltStore) ListBackupsByServer(serverID string) ([]*types.Backup, error) {
	var backups []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		backups, err = listJSON(tx.Bucket(bucketBackups), func(bk *types.Backup) bool {
			return bk.ServerID == serverID
		})
		return err
	})
	return backups, err
}

func (s *BoltStore) DeleteBackup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Delete([]byte(id))
	})
}

func (s *BoltStore) CompleteBackup(uuid string, result BackupResult) (*types.Backup, error) {
	var completed *types.Backup
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		backup, err := findJSON(b, func(bk *types.Backup) bool {
			return bk.UUID == uuid
		})
		if err != nil {
			return err
		}
		if backup == nil {
			return errdefs.NotFound("backup not found: %s", uuid)
		}
		if backup.IsCompleted() {
			return errdefs.InvalidState("backup %s is already marked as completed", uuid)
		}

		backup.IsSuccessful = result.Successful
		backup.Checksum = result.Checksum
		backup.Bytes = result.Bytes
		backup.CompletedAt = result.CompletedAt
		if !result.Successful {
			// A failed backup cannot stay locked
			backup.IsLocked = false
		}

		completed = backup
		return putJSON(b, backup.ID, backup)
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// Transfer operations
func (s *BoltStore) CreateTransfer(transfer *types.Transfer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		if transfer.Status == "" {
			transfer.Status = types.TransferStatusPending
		}
		active, err := findJSON(b, func(t *types.Transfer) bool {
			return t.ServerID == transfer.ServerID && t.IsActive() && t.ID != transfer.ID
		})
		if err != nil {
			return err
		}
		if active != nil && transfer.IsActive() {
			return errdefs.InvalidState("server %s already has a transfer in progress", transfer.ServerID)
		}

		if transfer.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			transfer.ID = id
		}
		return putJSON(b, transfer.ID, transfer)
	})
}

func (s *BoltStore) GetTransfer(id string) (*types.Transfer, error) {
	var transfer types.Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketTransfers), id, &transfer)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("transfer not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *BoltStore) GetActiveTransfer(serverID string) (*types.Transfer, error) {
	var found *types.Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = findJSON(tx.Bucket(bucketTransfers), func(t *types.Transfer) bool {
			return t.ServerID == serverID && t.IsActive()
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("no transfer in progress for server %s", serverID)
	}
	return found, nil
}

func (s *BoltStore) ListTransfersByServer(serverID string) ([]*types.Transfer, error) {
	var transfers []*types.Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		transfers, err = listJSON(tx.Bucket(bucketTransfers), func(t *types.Transfer) bool {
			return t.ServerID == serverID
		})
		return err
	})
	return transfers, err
}

// resolveTransfer loads a pending transfer and its server for a state change
func resolveTransfer(tx *bolt.Tx, id string) (*types.Transfer, *types.Server, error) {
	var transfer types.Transfer
	ok, err := getJSON(tx.Bucket(bucketTransfers), id, &transfer)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errdefs.NotFound("transfer not found: %s", id)
	}
	if !transfer.IsActive() {
		return nil, nil, errdefs.InvalidState("transfer %s is already %s", id, transfer.Status)
	}

	var server types.Server
	ok, err = getJSON(tx.Bucket(bucketServers), transfer.ServerID, &server)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errdefs.NotFound("server not found: %s", transfer.ServerID)
	}
	return &transfer, &server, nil
}

func (s *BoltStore) CommitTransfer(id string, at time.Time) (*types.Transfer, error) {
	var committed *types.Transfer
	err := s.db.Update(func(tx *bolt.Tx) error {
		transfer, server, err := resolveTransfer(tx, id)
		if err != nil {
			return err
		}

		if err := releaseAllocations(tx.Bucket(bucketAllocations), server.ID, transfer.OldAllocations()); err != nil {
			return err
		}

		server.NodeID = transfer.NewNode
		server.AllocationID = transfer.NewAllocation
		server.UpdatedAt = at
		// The source archived the server for the move; it is live again on the destination
		if server.Status == types.ServerStatusArchived {
			server.Status = types.ServerStatusHealthy
		}
		if err := putJSON(tx.Bucket(bucketServers), server.ID, server); err != nil {
			return err
		}

		transfer.Status = types.TransferStatusSucceeded
		transfer.UpdatedAt = at
		committed = transfer
		return putJSON(tx.Bucket(bucketTransfers), transfer.ID, transfer)
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *BoltStore) FailTransfer(id string, at time.Time) (*types.Transfer, error) {
	var failed *types.Transfer
	err := s.db.Update(func(tx *bolt.Tx) error {
		transfer, server, err := resolveTransfer(tx, id)
		if err != nil {
			return err
		}

		if err := releaseAllocations(tx.Bucket(bucketAllocations), server.ID, transfer.NewAllocations()); err != nil {
			return err
		}

		// The source may have archived the server before the move failed; it stays on the source
		if server.Status == types.ServerStatusArchived {
			server.Status = types.ServerStatusHealthy
			server.UpdatedAt = at
			if err := putJSON(tx.Bucket(bucketServers), server.ID, server); err != nil {
				return err
			}
		}

		transfer.Status = types.TransferStatusFailed
		transfer.UpdatedAt = at
		failed = transfer
		return putJSON(tx.Bucket(bucketTransfers), transfer.ID, transfer)
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func (s *BoltStore) MarkTransferArchived(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		var transfer types.Transfer
		ok, err := getJSON(b, id, &transfer)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("transfer not found: %s", id)
		}
		transfer.Archived = true
		return putJSON(b, transfer.ID, &transfer)
	})
}

// Egg operations
func (s *BoltStore) CreateEgg(egg *types.Egg) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEggs)
		if egg.ID == "" {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			egg.ID = id
		}
		return putJSON(b, egg.ID, egg)
	})
}

func (s *BoltStore) GetEgg(id string) (*types.Egg, error) {
	var egg types.Egg
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketEggs), id, &egg)
		if err != nil {
			return err
		}
		if !ok {
			return errdefs.NotFound("egg not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &egg, nil
}

func (s *BoltStore) ListEggs() ([]*types.Egg, error) {
	var eggs []*types.Egg
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		eggs, err = listJSON[types.Egg](tx.Bucket(bucketEggs), nil)
		return err
	})
	return eggs, err
}

// Audit operations

// AppendAuditEvent stores the event under a big-endian sequence key so the
// bucket iterates in insertion order
func (s *BoltStore) AppendAuditEvent(event *types.AuditEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.ID = seq

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// ListAuditEvents returns up to limit events, newest first. limit <= 0 returns all.
func (s *BoltStore) ListAuditEvents(limit int) ([]*types.AuditEvent, error) {
	var events []*types.AuditEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var event types.AuditEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
		}
		return nil
	})
	return events, err
}
