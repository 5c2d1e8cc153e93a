package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seed creates two nodes, a server on node 1 holding one allocation, and
// three free allocations on node 2
func seed(t *testing.T, store *BoltStore) (*types.Server, []*types.Allocation) {
	t.Helper()

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", Name: "node-1", DaemonTokenID: "tok1"}))
	require.NoError(t, store.CreateNode(&types.Node{ID: "n2", Name: "node-2", DaemonTokenID: "tok2"}))

	source := &types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 25565}
	require.NoError(t, store.CreateAllocation(source))

	server := &types.Server{ID: "s1", UUID: "uuid-1", NodeID: "n1", AllocationID: "a1"}
	require.NoError(t, store.CreateServer(server))
	require.NoError(t, store.ReserveAllocations("n1", "s1", []string{"a1"}))

	var free []*types.Allocation
	for i, id := range []string{"b1", "b2", "b3"} {
		a := &types.Allocation{ID: id, NodeID: "n2", IP: "10.0.0.2", Port: 25565 + i}
		require.NoError(t, store.CreateAllocation(a))
		free = append(free, a)
	}
	return server, free
}

func TestCreateAllocationRejectsDuplicateAddress(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(&types.Node{ID: "n1"}))
	require.NoError(t, store.CreateAllocation(&types.Allocation{NodeID: "n1", IP: "10.0.0.1", Port: 2000}))

	err := store.CreateAllocation(&types.Allocation{NodeID: "n1", IP: "10.0.0.1", Port: 2000})
	assert.True(t, errors.Is(err, errdefs.ErrAllocationConflict))

	// Same address on another node is fine
	require.NoError(t, store.CreateNode(&types.Node{ID: "n2"}))
	assert.NoError(t, store.CreateAllocation(&types.Allocation{NodeID: "n2", IP: "10.0.0.1", Port: 2000}))
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)

	a := &types.Node{Name: "a"}
	b := &types.Node{Name: "b"}
	require.NoError(t, store.CreateNode(a))
	require.NoError(t, store.CreateNode(b))

	assert.Equal(t, "1", a.ID)
	assert.Equal(t, "2", b.ID)
}

func TestGetNodeByTokenID(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	node, err := store.GetNodeByTokenID("tok2")
	require.NoError(t, err)
	assert.Equal(t, "n2", node.ID)

	_, err = store.GetNodeByTokenID("missing")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestReserveAllocations(t *testing.T) {
	tests := []struct {
		name     string
		nodeID   string
		serverID string
		ids      []string
		wantKind errdefs.Kind
	}{
		{name: "all free", nodeID: "n2", serverID: "s1", ids: []string{"b1", "b2"}},
		{name: "already assigned", nodeID: "n1", serverID: "s2", ids: []string{"a1"}, wantKind: errdefs.KindAllocationConflict},
		{name: "wrong node", nodeID: "n1", serverID: "s1", ids: []string{"b1"}, wantKind: errdefs.KindAllocationConflict},
		{name: "missing allocation", nodeID: "n2", serverID: "s1", ids: []string{"b1", "zz"}, wantKind: errdefs.KindNotFound},
		{name: "empty list", nodeID: "n2", serverID: "s1", ids: nil, wantKind: errdefs.KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			seed(t, store)

			err := store.ReserveAllocations(tt.nodeID, tt.serverID, tt.ids)
			if tt.wantKind == "" {
				require.NoError(t, err)
				for _, id := range tt.ids {
					a, err := store.GetAllocation(id)
					require.NoError(t, err)
					assert.Equal(t, tt.serverID, a.ServerID)
				}
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errdefs.KindOf(err))
		})
	}
}

func TestReserveAllocationsIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	require.NoError(t, store.ReserveAllocations("n2", "other", []string{"b2"}))

	err := store.ReserveAllocations("n2", "s1", []string{"b1", "b2", "b3"})
	require.True(t, errors.Is(err, errdefs.ErrAllocationConflict))

	for _, id := range []string{"b1", "b3"} {
		a, err := store.GetAllocation(id)
		require.NoError(t, err)
		assert.False(t, a.IsAssigned(), "allocation %s should still be free", id)
	}
}

func TestReleaseAllocationsOnlyReleasesOwned(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	require.NoError(t, store.ReserveAllocations("n2", "other", []string{"b1"}))
	require.NoError(t, store.ReserveAllocations("n2", "s1", []string{"b2"}))

	require.NoError(t, store.ReleaseAllocations("s1", []string{"b1", "b2", "missing"}))

	b1, _ := store.GetAllocation("b1")
	b2, _ := store.GetAllocation("b2")
	assert.Equal(t, "other", b1.ServerID)
	assert.Empty(t, b2.ServerID)
}

func TestCreateTransferRejectsSecondPending(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	first := &types.Transfer{ServerID: "s1", OldNode: "n1", NewNode: "n2", NewAllocation: "b1"}
	require.NoError(t, store.CreateTransfer(first))
	assert.Equal(t, types.TransferStatusPending, first.Status)

	second := &types.Transfer{ServerID: "s1", OldNode: "n1", NewNode: "n2", NewAllocation: "b2"}
	err := store.CreateTransfer(second)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))

	active, err := store.GetActiveTransfer("s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestCommitTransfer(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.ReserveAllocations("n2", "s1", []string{"b1", "b2"}))
	transfer := &types.Transfer{
		ServerID:                 "s1",
		OldNode:                  "n1",
		NewNode:                  "n2",
		OldAllocation:            "a1",
		NewAllocation:            "b1",
		NewAdditionalAllocations: []string{"b2"},
	}
	require.NoError(t, store.CreateTransfer(transfer))

	committed, err := store.CommitTransfer(transfer.ID, at)
	require.NoError(t, err)
	assert.Equal(t, types.TransferStatusSucceeded, committed.Status)
	assert.Equal(t, at, committed.UpdatedAt)

	server, err := store.GetServer("s1")
	require.NoError(t, err)
	assert.Equal(t, "n2", server.NodeID)
	assert.Equal(t, "b1", server.AllocationID)

	old, _ := store.GetAllocation("a1")
	assert.False(t, old.IsAssigned())

	held, err := store.ListAllocationsByServer("s1")
	require.NoError(t, err)
	assert.Len(t, held, 2)

	// A resolved transfer cannot be resolved again
	_, err = store.CommitTransfer(transfer.ID, at)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
	_, err = store.FailTransfer(transfer.ID, at)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
}

func TestFailTransferReleasesDestination(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.ReserveAllocations("n2", "s1", []string{"b1", "b3"}))
	transfer := &types.Transfer{
		ServerID:                 "s1",
		OldNode:                  "n1",
		NewNode:                  "n2",
		OldAllocation:            "a1",
		NewAllocation:            "b1",
		NewAdditionalAllocations: []string{"b3"},
	}
	require.NoError(t, store.CreateTransfer(transfer))

	failed, err := store.FailTransfer(transfer.ID, at)
	require.NoError(t, err)
	assert.Equal(t, types.TransferStatusFailed, failed.Status)

	server, _ := store.GetServer("s1")
	assert.Equal(t, "n1", server.NodeID)
	assert.Equal(t, "a1", server.AllocationID)

	for _, id := range []string{"b1", "b3"} {
		a, _ := store.GetAllocation(id)
		assert.False(t, a.IsAssigned())
	}
	source, _ := store.GetAllocation("a1")
	assert.Equal(t, "s1", source.ServerID)

	// A new transfer may start once the old one is resolved
	assert.NoError(t, store.CreateTransfer(&types.Transfer{ServerID: "s1", NewNode: "n2"}))
}

func TestFailTransferRestoresArchivedServer(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.ReserveAllocations("n2", "s1", []string{"b1"}))
	transfer := &types.Transfer{ServerID: "s1", OldNode: "n1", NewNode: "n2", OldAllocation: "a1", NewAllocation: "b1"}
	require.NoError(t, store.CreateTransfer(transfer))
	require.NoError(t, store.SetServerStatus("s1", types.ServerStatusArchived))

	_, err := store.FailTransfer(transfer.ID, at)
	require.NoError(t, err)

	server, err := store.GetServer("s1")
	require.NoError(t, err)
	assert.Equal(t, types.ServerStatusHealthy, server.Status)
	assert.Equal(t, "n1", server.NodeID)
	assert.True(t, server.UpdatedAt.Equal(at))
}

func TestResetStuckServers(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(&types.Node{ID: "n1"}))
	require.NoError(t, store.CreateNode(&types.Node{ID: "n2"}))

	servers := []*types.Server{
		{ID: "1", UUID: "u1", NodeID: "n1", Status: types.ServerStatusInstalling},
		{ID: "2", UUID: "u2", NodeID: "n1", Status: types.ServerStatusRestoringBackup},
		{ID: "3", UUID: "u3", NodeID: "n1", Status: types.ServerStatusInstallFailed},
		{ID: "4", UUID: "u4", NodeID: "n2", Status: types.ServerStatusInstalling},
	}
	for _, s := range servers {
		require.NoError(t, store.CreateServer(s))
	}

	changes, err := store.ResetStuckServers("n1", []types.ServerStatus{
		types.ServerStatusInstalling,
		types.ServerStatusRestoringBackup,
	})
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	want := map[string]types.ServerStatus{
		"1": types.ServerStatusHealthy,
		"2": types.ServerStatusHealthy,
		"3": types.ServerStatusInstallFailed,
		"4": types.ServerStatusInstalling,
	}
	for id, status := range want {
		s, err := store.GetServer(id)
		require.NoError(t, err)
		assert.Equal(t, status, s.Status, "server %s", id)
	}
}

func TestCompleteBackupOnlyOnce(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	require.NoError(t, store.CreateBackup(&types.Backup{ServerID: "s1", UUID: "bk-1", IsLocked: true}))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	backup, err := store.CompleteBackup("bk-1", BackupResult{Successful: false, CompletedAt: at})
	require.NoError(t, err)
	assert.False(t, backup.IsSuccessful)
	assert.False(t, backup.IsLocked)
	assert.True(t, backup.IsCompleted())

	_, err = store.CompleteBackup("bk-1", BackupResult{Successful: true, CompletedAt: at})
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))

	_, err = store.CompleteBackup("missing", BackupResult{Successful: true, CompletedAt: at})
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestSetServerSuspendedReturnsPrevious(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	prev, err := store.SetServerSuspended("s1", true)
	require.NoError(t, err)
	assert.False(t, prev)

	prev, err = store.SetServerSuspended("s1", false)
	require.NoError(t, err)
	assert.True(t, prev)
}

func TestSetServerStatusRejectsUnknown(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	err := store.SetServerStatus("s1", types.ServerStatus("bogus"))
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
}

func TestAuditEventsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendAuditEvent(&types.AuditEvent{Event: name}))
	}

	events, err := store.ListAuditEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "third", events[0].Event)
	assert.Equal(t, "second", events[1].Event)
	assert.Equal(t, uint64(3), events[0].ID)

	all, err := store.ListAuditEvents(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
