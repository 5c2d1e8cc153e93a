package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *storage.BoltStore
	codec    *security.TokenCodec
	clock    *clock.Fake
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec, err := security.NewTokenCodec("test-application-key")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f := &fixture{
		store:    store,
		codec:    codec,
		clock:    clk,
		registry: New(store, codec, Options{Clock: clk}),
	}

	f.addNode(t, "n1", "node1.example.com", "tok1", "secret-1")
	return f
}

func (f *fixture) addNode(t *testing.T, id, fqdn, tokenID, secret string) {
	t.Helper()
	encrypted, err := f.codec.Encrypt(secret)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateNode(&types.Node{
		ID:            id,
		Scheme:        "https",
		FQDN:          fqdn,
		DaemonListen:  8080,
		DaemonTokenID: tokenID,
		DaemonToken:   encrypted,
	}))
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	conn, err := f.registry.Resolve(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "https://node1.example.com:8080/api", conn.BaseURL)
	assert.Equal(t, "tok1", conn.TokenID)
	assert.Equal(t, "secret-1", conn.Token)
}

func TestResolveUnknownNode(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestResolveCachesForTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Resolve(ctx, "n1")
	require.NoError(t, err)

	node, err := f.store.GetNode("n1")
	require.NoError(t, err)
	node.FQDN = "moved.example.com"
	require.NoError(t, f.store.UpdateNode(node))

	conn, err := f.registry.Resolve(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "node1.example.com", conn.FQDN, "served from cache")

	f.clock.Advance(DefaultConnectionTTL)

	conn, err = f.registry.Resolve(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "moved.example.com", conn.FQDN)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Resolve(ctx, "n1")
	require.NoError(t, err)

	node, err := f.store.GetNode("n1")
	require.NoError(t, err)
	node.DaemonListen = 9090
	require.NoError(t, f.store.UpdateNode(node))

	f.registry.Invalidate("n1")

	conn, err := f.registry.Resolve(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 9090, conn.DaemonListen)
}

func TestResolveWithUnconfiguredCodec(t *testing.T) {
	f := newFixture(t)
	unconfigured, err := security.NewTokenCodec("")
	require.NoError(t, err)

	r := New(f.store, unconfigured, Options{Clock: f.clock})
	_, err = r.Resolve(context.Background(), "n1")
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestResolveForServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateServer(&types.Server{ID: "s1", UUID: "uuid-1", NodeID: "n1"}))
	require.NoError(t, f.store.CreateServer(&types.Server{ID: "s2", UUID: "uuid-2"}))

	node, conn, err := f.registry.ResolveForServer(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)
	assert.Equal(t, "secret-1", conn.Token)

	_, _, err = f.registry.ResolveForServer(ctx, "uuid-2")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	_, _, err = f.registry.ResolveForServer(ctx, "unknown")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestNodeByTokenIDIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	node, err := f.registry.NodeByTokenID(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)

	rotated, err := f.codec.Encrypt("secret-2")
	require.NoError(t, err)
	node.DaemonToken = rotated
	require.NoError(t, f.store.UpdateNode(node))

	node, err = f.registry.NodeByTokenID(ctx, "tok1")
	require.NoError(t, err)
	token, err := f.registry.DecryptToken(node)
	require.NoError(t, err)
	assert.Equal(t, "secret-2", token)
}

func TestClientUsesFactory(t *testing.T) {
	f := newFixture(t)

	var got daemon.Config
	f.registry.SetClientFactory(func(cfg daemon.Config) (Daemon, error) {
		got = cfg
		return daemon.New(cfg)
	})

	client, err := f.registry.Client(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "https://node1.example.com:8080/api", client.BaseURL())
	assert.Equal(t, "secret-1", got.Token)
}
