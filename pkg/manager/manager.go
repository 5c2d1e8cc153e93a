package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is a control plane node. It replicates every write through Raft
// and serves reads from its local BoltStore, so it satisfies storage.Store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *PaddockFSM
	store storage.Store
}

var _ storage.Store = (*Manager)(nil)

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	// The FSM state is rebuilt from the Raft snapshot and log on every
	// start, so a stale local copy must not survive a restart
	if err := os.Remove(filepath.Join(cfg.DataDir, "paddock.db")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to reset state database: %v", err)
	}

	// Create BoltDB store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	m := &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewPaddockFSM(store),
		store:    store,
	}

	return m, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Control plane peers sit on a LAN; fail over in a few seconds rather
	// than the WAN-friendly defaults
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

// startRaft creates the TCP transport and BoltDB-backed log stores and
// starts the Raft instance
func (m *Manager) startRaft() (raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %v", err)
	}

	if err := m.startRaftWith(transport, logStore, stableStore, snapshotStore); err != nil {
		return nil, err
	}
	return transport, nil
}

func (m *Manager) startRaftWith(transport raft.Transport, logs raft.LogStore, stable raft.StableStore, snaps raft.SnapshotStore) error {
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logs, stable, snaps, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	m.raft = r
	return nil
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	transport, err := m.startRaft()
	if err != nil {
		return err
	}
	return m.bootstrapCluster(transport)
}

func (m *Manager) bootstrapCluster(transport raft.Transport) error {
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("node_id", m.nodeID).
		Str("bind_addr", m.bindAddr).
		Msg("Raft cluster bootstrapped")
	return nil
}

// JoinRequest is the body a joining manager posts to the leader
type JoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// Join starts Raft on this manager and asks the leader's admin API to add
// it as a voter
func (m *Manager) Join(ctx context.Context, leaderURL, apiKey string) error {
	if _, err := m.startRaft(); err != nil {
		return err
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("leader", leaderURL).
		Str("node_id", m.nodeID).
		Msg("Contacting leader to join cluster")

	body, err := json.Marshal(JoinRequest{NodeID: m.nodeID, Address: m.bindAddr})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, leaderURL+"/api/admin/cluster/voters", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("leader rejected join request: HTTP %d", resp.StatusCode)
	}

	logger = log.WithComponent("manager")
	logger.Info().Msg("Successfully joined cluster")
	return nil
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return errdefs.InvalidState("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("voter_id", nodeID).
		Str("address", address).
		Msg("Added voter to cluster")
	return nil
}

// RemoveVoter removes a control plane member from the Raft cluster
func (m *Manager) RemoveVoter(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return errdefs.InvalidState("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader blocks until the cluster has elected a leader or the
// timeout expires
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.LeaderAddr() != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leader elected after %s", timeout)
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()

	if servers, err := m.GetClusterServers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}

	return stats
}

// Apply submits a command to the Raft cluster and returns the FSM's result
func (m *Manager) Apply(cmd Command) (interface{}, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %v", err)
	}

	// Check if apply returned an error
	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}

	return resp, nil
}

// command marshals payload into a Command for op and applies it
func (m *Manager) command(op string, payload interface{}) (interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return m.Apply(Command{Op: op, Data: data})
}

func (m *Manager) exec(op string, payload interface{}) error {
	_, err := m.command(op, payload)
	return err
}

// Node operations

// CreateNode adds a node. The ID assigned by the FSM is written back.
func (m *Manager) CreateNode(node *types.Node) error {
	resp, err := m.command(opCreateNode, node)
	if err != nil {
		return err
	}
	*node = *resp.(*types.Node)
	return nil
}

func (m *Manager) UpdateNode(node *types.Node) error {
	return m.exec(opUpdateNode, node)
}

func (m *Manager) DeleteNode(id string) error {
	return m.exec(opDeleteNode, id)
}

// Allocation operations

func (m *Manager) CreateAllocation(allocation *types.Allocation) error {
	resp, err := m.command(opCreateAllocation, allocation)
	if err != nil {
		return err
	}
	*allocation = *resp.(*types.Allocation)
	return nil
}

func (m *Manager) ReserveAllocations(nodeID, serverID string, ids []string) error {
	return m.exec(opReserveAllocations, allocationsPayload{NodeID: nodeID, ServerID: serverID, IDs: ids})
}

func (m *Manager) ReleaseAllocations(serverID string, ids []string) error {
	return m.exec(opReleaseAllocations, allocationsPayload{ServerID: serverID, IDs: ids})
}

// Server operations

func (m *Manager) CreateServer(server *types.Server) error {
	resp, err := m.command(opCreateServer, server)
	if err != nil {
		return err
	}
	*server = *resp.(*types.Server)
	return nil
}

func (m *Manager) UpdateServer(server *types.Server) error {
	return m.exec(opUpdateServer, server)
}

func (m *Manager) DeleteServer(id string) error {
	return m.exec(opDeleteServer, id)
}

func (m *Manager) SetServerStatus(id string, status types.ServerStatus) error {
	return m.exec(opSetServerStatus, serverStatusPayload{ID: id, Status: status})
}

func (m *Manager) MarkServerInstalled(id string, at time.Time) error {
	return m.exec(opMarkServerInstalled, timedPayload{ID: id, At: at})
}

func (m *Manager) SetServerSuspended(id string, suspended bool) (bool, error) {
	resp, err := m.command(opSetServerSuspended, serverSuspendedPayload{ID: id, Suspended: suspended})
	if err != nil {
		return false, err
	}
	return resp.(bool), nil
}

func (m *Manager) ResetStuckServers(nodeID string, from []types.ServerStatus) ([]storage.StatusChange, error) {
	resp, err := m.command(opResetStuckServers, stuckServersPayload{NodeID: nodeID, From: from})
	if err != nil {
		return nil, err
	}
	changes, _ := resp.([]storage.StatusChange)
	return changes, nil
}

// Backup operations

func (m *Manager) CreateBackup(backup *types.Backup) error {
	resp, err := m.command(opCreateBackup, backup)
	if err != nil {
		return err
	}
	*backup = *resp.(*types.Backup)
	return nil
}

func (m *Manager) DeleteBackup(id string) error {
	return m.exec(opDeleteBackup, id)
}

func (m *Manager) CompleteBackup(uuid string, result storage.BackupResult) (*types.Backup, error) {
	resp, err := m.command(opCompleteBackup, completeBackupPayload{UUID: uuid, Result: result})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Backup), nil
}

// Transfer operations

func (m *Manager) CreateTransfer(transfer *types.Transfer) error {
	resp, err := m.command(opCreateTransfer, transfer)
	if err != nil {
		return err
	}
	*transfer = *resp.(*types.Transfer)
	return nil
}

func (m *Manager) CommitTransfer(id string, at time.Time) (*types.Transfer, error) {
	resp, err := m.command(opCommitTransfer, timedPayload{ID: id, At: at})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Transfer), nil
}

func (m *Manager) FailTransfer(id string, at time.Time) (*types.Transfer, error) {
	resp, err := m.command(opFailTransfer, timedPayload{ID: id, At: at})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Transfer), nil
}

func (m *Manager) MarkTransferArchived(id string) error {
	return m.exec(opMarkTransferArchived, id)
}

// Egg operations

func (m *Manager) CreateEgg(egg *types.Egg) error {
	resp, err := m.command(opCreateEgg, egg)
	if err != nil {
		return err
	}
	*egg = *resp.(*types.Egg)
	return nil
}

// Audit operations

func (m *Manager) AppendAuditEvent(event *types.AuditEvent) error {
	resp, err := m.command(opAppendAuditEvent, event)
	if err != nil {
		return err
	}
	*event = *resp.(*types.AuditEvent)
	return nil
}

// Reads are served from the local store

func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

func (m *Manager) GetNodeByTokenID(tokenID string) (*types.Node, error) {
	return m.store.GetNodeByTokenID(tokenID)
}

func (m *Manager) ListNodes() ([]*types.Node, error) {
	return m.store.ListNodes()
}

func (m *Manager) GetAllocation(id string) (*types.Allocation, error) {
	return m.store.GetAllocation(id)
}

func (m *Manager) ListAllocationsByNode(nodeID string) ([]*types.Allocation, error) {
	return m.store.ListAllocationsByNode(nodeID)
}

func (m *Manager) ListAllocationsByServer(serverID string) ([]*types.Allocation, error) {
	return m.store.ListAllocationsByServer(serverID)
}

func (m *Manager) GetServer(id string) (*types.Server, error) {
	return m.store.GetServer(id)
}

func (m *Manager) GetServerByUUID(uuid string) (*types.Server, error) {
	return m.store.GetServerByUUID(uuid)
}

func (m *Manager) ListServers() ([]*types.Server, error) {
	return m.store.ListServers()
}

func (m *Manager) ListServersByNode(nodeID string) ([]*types.Server, error) {
	return m.store.ListServersByNode(nodeID)
}

func (m *Manager) GetBackup(id string) (*types.Backup, error) {
	return m.store.GetBackup(id)
}

func (m *Manager) GetBackupByUUID(uuid string) (*types.Backup, error) {
	return m.store.GetBackupByUUID(uuid)
}

func (m *Manager) ListBackupsByServer(serverID string) ([]*types.Backup, error) {
	return m.store.ListBackupsByServer(serverID)
}

func (m *Manager) GetTransfer(id string) (*types.Transfer, error) {
	return m.store.GetTransfer(id)
}

func (m *Manager) GetActiveTransfer(serverID string) (*types.Transfer, error) {
	return m.store.GetActiveTransfer(serverID)
}

func (m *Manager) ListTransfersByServer(serverID string) ([]*types.Transfer, error) {
	return m.store.ListTransfersByServer(serverID)
}

func (m *Manager) GetEgg(id string) (*types.Egg, error) {
	return m.store.GetEgg(id)
}

func (m *Manager) ListEggs() ([]*types.Egg, error) {
	return m.store.ListEggs()
}

func (m *Manager) ListAuditEvents(limit int) ([]*types.AuditEvent, error) {
	return m.store.ListAuditEvents(limit)
}

// Close shuts the manager down; it satisfies storage.Store
func (m *Manager) Close() error {
	return m.Shutdown()
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
