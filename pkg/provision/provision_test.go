package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/registry/registrytest"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

type fixture struct {
	store   *storage.BoltStore
	fleet   *registrytest.Fleet
	node    *registrytest.FakeDaemon
	trigger *Trigger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", DaemonTokenID: "tok1"}))
	require.NoError(t, store.CreateEgg(&types.Egg{ID: "egg-1", DockerImage: "ghcr.io/games/minecraft:java21", Startup: "java -jar server.jar"}))
	require.NoError(t, store.CreateAllocation(&types.Allocation{ID: "a1", NodeID: "n1", IP: "10.0.0.1", Port: 25565}))
	require.NoError(t, store.CreateAllocation(&types.Allocation{ID: "a2", NodeID: "n1", IP: "10.0.0.1", Port: 25575}))
	require.NoError(t, store.CreateServer(&types.Server{
		ID:           "s1",
		UUID:         "uuid-1",
		Name:         "survival",
		NodeID:       "n1",
		AllocationID: "a1",
		EggID:        "egg-1",
		Status:       types.ServerStatusInstalling,
		Limits:       types.Limits{Memory: 1024, Disk: 4096, CPU: 200},
	}))
	require.NoError(t, store.ReserveAllocations("n1", "s1", []string{"a1", "a2"}))

	fleet := registrytest.NewFleet()
	f := &fixture{
		store: store,
		fleet: fleet,
		node:  fleet.Add("n1"),
	}
	f.trigger = NewTrigger(store, fleet, nil, nil)
	return f
}

func (f *fixture) server(t *testing.T) *types.Server {
	t.Helper()
	server, err := f.store.GetServer("s1")
	require.NoError(t, err)
	return server
}

func TestBuildServerConfig(t *testing.T) {
	f := newFixture(t)

	cfg, err := BuildServerConfig(f.store, f.server(t))
	require.NoError(t, err)

	assert.Equal(t, "uuid-1", cfg.UUID)
	assert.Equal(t, "ghcr.io/games/minecraft:java21", cfg.Container.Image)
	assert.Equal(t, "java -jar server.jar", cfg.Invocation)
	assert.Equal(t, int64(1024), cfg.Build.MemoryLimit)
	assert.Equal(t, "10.0.0.1", cfg.Allocations.Default.IP)
	assert.Equal(t, 25565, cfg.Allocations.Default.Port)
	assert.ElementsMatch(t, []int{25565, 25575}, cfg.Allocations.Mappings["10.0.0.1"])
}

func TestProvision(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.trigger.Provision(context.Background(), "s1"))

	calls := f.node.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "create_server", calls[0].Op)
	cfg := calls[0].Body.(daemon.ServerConfig)
	assert.True(t, cfg.StartOnCompletion)
	assert.Equal(t, types.ServerStatusInstalling, f.server(t).Status)
}

func TestProvisionFailureMarksInstallFailed(t *testing.T) {
	f := newFixture(t)
	f.node.Fail("create_server", errdefs.DaemonUnreachable("https://n1:8080/api", errors.New("timeout")))

	err := f.trigger.Provision(context.Background(), "s1")
	assert.True(t, errors.Is(err, errdefs.ErrDaemonUnreachable))
	assert.Equal(t, types.ServerStatusInstallFailed, f.server(t).Status)
}

func TestProvisionRequiresNode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateServer(&types.Server{ID: "s2", UUID: "uuid-2"}))

	err := f.trigger.Provision(context.Background(), "s2")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
	assert.Empty(t, f.node.Calls())
}

func TestRequestReinstall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetServerStatus("s1", types.ServerStatusHealthy))

	require.NoError(t, f.trigger.RequestReinstall(context.Background(), "s1"))
	assert.Equal(t, []string{"reinstall_server"}, f.node.Ops())
	assert.Equal(t, types.ServerStatusInstalling, f.server(t).Status)
}

func TestRequestReinstallRestoresStatusOnFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetServerStatus("s1", types.ServerStatusInstallFailed))
	f.node.Fail("reinstall_server", errdefs.DaemonRPC(409, "busy"))

	err := f.trigger.RequestReinstall(context.Background(), "s1")
	assert.True(t, errors.Is(err, errdefs.ErrDaemonRPC))
	assert.Equal(t, types.ServerStatusInstallFailed, f.server(t).Status)
}

func TestReinstallLeavesStatus(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.trigger.Reinstall(context.Background(), "s1"))
	assert.Equal(t, types.ServerStatusInstalling, f.server(t).Status)
}

func TestSuspend(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.trigger.Suspend(context.Background(), "s1"))
	assert.True(t, f.server(t).Suspended)

	calls := f.node.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "power", calls[0].Op)
	assert.Equal(t, daemon.PowerKill, calls[0].Body)

	err := f.trigger.Suspend(context.Background(), "s1")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
	assert.True(t, f.server(t).Suspended)
}

func TestSuspendRevertsFlagWhenDaemonFails(t *testing.T) {
	f := newFixture(t)
	f.node.Fail("power", errdefs.DaemonUnreachable("https://n1:8080/api", errors.New("connection refused")))

	err := f.trigger.Suspend(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, errdefs.IsDaemonFailure(err))
	assert.False(t, f.server(t).Suspended)
}

func TestUnsuspendRevertsFlagWhenDaemonFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SetServerSuspended("s1", true)
	require.NoError(t, err)
	f.node.Fail("update_server", errdefs.DaemonRPC(500, ""))

	err = f.trigger.Unsuspend(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, f.server(t).Suspended)
}

func TestUnsuspend(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SetServerSuspended("s1", true)
	require.NoError(t, err)

	require.NoError(t, f.trigger.Unsuspend(context.Background(), "s1"))
	assert.False(t, f.server(t).Suspended)

	patch := f.node.Calls()[0].Body.(daemon.ServerPatch)
	require.NotNil(t, patch.Suspended)
	assert.False(t, *patch.Suspended)
}
