package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*PaddockFSM, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewPaddockFSM(store), store
}

func applyCmd(t *testing.T, fsm *PaddockFSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: raw})
}

func TestFSMApplyCreateReturnsAssignedID(t *testing.T) {
	fsm, store := newTestFSM(t)

	resp := applyCmd(t, fsm, opCreateNode, &types.Node{Name: "node-1"})
	node, ok := resp.(*types.Node)
	require.True(t, ok, "expected *types.Node, got %T", resp)
	assert.Equal(t, "1", node.ID)

	stored, err := store.GetNode("1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", stored.Name)
}

func TestFSMApplyEachCommand(t *testing.T) {
	fsm, store := newTestFSM(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		op      string
		payload interface{}
	}{
		{opCreateNode, &types.Node{ID: "n1"}},
		{opCreateNode, &types.Node{ID: "n2"}},
		{opUpdateNode, &types.Node{ID: "n2", Name: "renamed"}},
		{opCreateAllocation, &types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 1}},
		{opCreateAllocation, &types.Allocation{ID: "b1", NodeID: "n2", IP: "10.0.0.2", Port: 1}},
		{opCreateEgg, &types.Egg{ID: "e1", Name: "paper"}},
		{opCreateServer, &types.Server{ID: "s1", UUID: "u1", NodeID: "n1", AllocationID: "a1", EggID: "e1"}},
		{opReserveAllocations, allocationsPayload{NodeID: "n1", ServerID: "s1", IDs: []string{"a1"}}},
		{opSetServerStatus, serverStatusPayload{ID: "s1", Status: types.ServerStatusInstalling}},
		{opMarkServerInstalled, timedPayload{ID: "s1", At: at}},
		{opSetServerSuspended, serverSuspendedPayload{ID: "s1", Suspended: true}},
		{opCreateBackup, &types.Backup{ID: "bk1", ServerID: "s1", UUID: "bu1"}},
		{opCompleteBackup, completeBackupPayload{UUID: "bu1", Result: storage.BackupResult{Successful: true, CompletedAt: at}}},
		{opReserveAllocations, allocationsPayload{NodeID: "n2", ServerID: "s1", IDs: []string{"b1"}}},
		{opCreateTransfer, &types.Transfer{ID: "t1", ServerID: "s1", OldNode: "n1", NewNode: "n2", OldAllocation: "a1", NewAllocation: "b1"}},
		{opMarkTransferArchived, "t1"},
		{opCommitTransfer, timedPayload{ID: "t1", At: at}},
		{opAppendAuditEvent, &types.AuditEvent{Event: "server:transfer.success"}},
	}

	for _, step := range steps {
		resp := applyCmd(t, fsm, step.op, step.payload)
		if err, ok := resp.(error); ok {
			t.Fatalf("%s failed: %v", step.op, err)
		}
	}

	server, err := store.GetServer("s1")
	require.NoError(t, err)
	assert.Equal(t, "n2", server.NodeID)
	assert.Equal(t, "b1", server.AllocationID)
	assert.Equal(t, types.ServerStatusHealthy, server.Status)
	assert.Equal(t, at, server.InstalledAt.UTC())
	assert.True(t, server.Suspended)

	transfer, err := store.GetTransfer("t1")
	require.NoError(t, err)
	assert.True(t, transfer.Successful())
	assert.True(t, transfer.Archived)

	node, err := store.GetNode("n2")
	require.NoError(t, err)
	assert.Equal(t, "renamed", node.Name)

	events, err := store.ListAuditEvents(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFSMApplyReturnsConditionalErrors(t *testing.T) {
	fsm, _ := newTestFSM(t)

	applyCmd(t, fsm, opCreateNode, &types.Node{ID: "n1"})
	applyCmd(t, fsm, opCreateAllocation, &types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 1})
	require.Nil(t, applyCmd(t, fsm, opReserveAllocations, allocationsPayload{NodeID: "n1", ServerID: "s1", IDs: []string{"a1"}}))

	resp := applyCmd(t, fsm, opReserveAllocations, allocationsPayload{NodeID: "n1", ServerID: "s2", IDs: []string{"a1"}})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, errdefs.ErrAllocationConflict))
}

func TestFSMApplyUnknownCommand(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp := applyCmd(t, fsm, "launch_rockets", nil)
	_, ok := resp.(error)
	assert.True(t, ok)

	resp = fsm.Apply(&raft.Log{Data: []byte("not json")})
	_, ok = resp.(error)
	assert.True(t, ok)
}

func TestFSMApplyResetStuckServers(t *testing.T) {
	fsm, _ := newTestFSM(t)

	applyCmd(t, fsm, opCreateNode, &types.Node{ID: "n1"})
	applyCmd(t, fsm, opCreateServer, &types.Server{ID: "s1", UUID: "u1", NodeID: "n1", Status: types.ServerStatusInstalling})

	resp := applyCmd(t, fsm, opResetStuckServers, stuckServersPayload{
		NodeID: "n1",
		From:   []types.ServerStatus{types.ServerStatusInstalling},
	})
	changes, ok := resp.([]storage.StatusChange)
	require.True(t, ok)
	require.Len(t, changes, 1)
	assert.Equal(t, types.ServerStatusInstalling, changes[0].PreviousStatus)
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Close() error  { return nil }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	source, _ := newTestFSM(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	applyCmd(t, source, opCreateNode, &types.Node{ID: "n1", DaemonTokenID: "tok"})
	applyCmd(t, source, opCreateNode, &types.Node{ID: "n2"})
	applyCmd(t, source, opCreateAllocation, &types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 1})
	applyCmd(t, source, opCreateAllocation, &types.Allocation{ID: "b1", NodeID: "n2", IP: "10.0.0.2", Port: 1})
	applyCmd(t, source, opCreateServer, &types.Server{ID: "s1", UUID: "u1", NodeID: "n1", AllocationID: "a1"})
	applyCmd(t, source, opCreateBackup, &types.Backup{ID: "bk1", ServerID: "s1", UUID: "bu1"})
	applyCmd(t, source, opCreateTransfer, &types.Transfer{ID: "t1", ServerID: "s1", NewNode: "n2", NewAllocation: "b1", CreatedAt: at})
	applyCmd(t, source, opCreateEgg, &types.Egg{ID: "e1"})
	applyCmd(t, source, opAppendAuditEvent, &types.AuditEvent{Event: "first"})
	applyCmd(t, source, opAppendAuditEvent, &types.AuditEvent{Event: "second"})

	snap, err := source.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	target, store := newTestFSM(t)
	require.NoError(t, target.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	node, err := store.GetNodeByTokenID("tok")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)

	allocations, err := store.ListAllocationsByNode("n2")
	require.NoError(t, err)
	assert.Len(t, allocations, 1)

	_, err = store.GetBackupByUUID("bu1")
	assert.NoError(t, err)

	active, err := store.GetActiveTransfer("s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", active.ID)

	events, err := store.ListAuditEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].Event)

	// Restoring the same snapshot twice does not duplicate the audit log
	require.NoError(t, target.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	events, err = store.ListAuditEvents(0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
