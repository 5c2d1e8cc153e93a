package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/paddock/pkg/cache"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultConnectionTTL is how long a resolved connection is reused
const DefaultConnectionTTL = 30 * time.Second

// Connection is everything needed to call one node's daemon
type Connection struct {
	NodeID       string
	BaseURL      string
	Scheme       string
	FQDN         string
	DaemonListen int
	TokenID      string
	// Token is the decrypted daemon secret
	Token string
}

// Config returns the daemon client configuration for the connection
func (c *Connection) Config() daemon.Config {
	return daemon.Config{
		Scheme:       c.Scheme,
		FQDN:         c.FQDN,
		DaemonListen: c.DaemonListen,
		TokenID:      c.TokenID,
		Token:        c.Token,
	}
}

// Options tune a Registry. Zero values select the defaults.
type Options struct {
	ConnectionTTL    time.Duration
	DaemonTimeout    time.Duration
	ResourcesTimeout time.Duration
	Clock            clock.Clock
}

// Registry resolves node ids to daemon connections and clients
type Registry struct {
	store            storage.Store
	codec            *security.TokenCodec
	connections      *cache.Cache[string, *Connection]
	daemonTimeout    time.Duration
	resourcesTimeout time.Duration
	logger           zerolog.Logger

	// newClient builds the daemon client for a connection
	newClient func(daemon.Config) (Daemon, error)
}

// New creates a registry
func New(store storage.Store, codec *security.TokenCodec, opts Options) *Registry {
	ttl := opts.ConnectionTTL
	if ttl <= 0 {
		ttl = DefaultConnectionTTL
	}
	return &Registry{
		store:            store,
		codec:            codec,
		connections:      cache.New[string, *Connection](ttl, opts.Clock),
		daemonTimeout:    opts.DaemonTimeout,
		resourcesTimeout: opts.ResourcesTimeout,
		logger:           log.WithComponent("registry"),
		newClient: func(cfg daemon.Config) (Daemon, error) {
			client, err := daemon.New(cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// SetClientFactory replaces how daemon clients are built
func (r *Registry) SetClientFactory(fn func(daemon.Config) (Daemon, error)) {
	r.newClient = fn
}

// Resolve returns the connection for nodeID. The decrypted secret is cached
// for the connection TTL; misses decrypt again.
func (r *Registry) Resolve(ctx context.Context, nodeID string) (*Connection, error) {
	if conn, ok := r.connections.Get(nodeID); ok {
		return conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node, err := r.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	conn, err := r.connect(node)
	if err != nil {
		return nil, err
	}
	r.connections.Set(nodeID, conn)
	return conn, nil
}

func (r *Registry) connect(node *types.Node) (*Connection, error) {
	token, err := r.codec.Decrypt(node.DaemonToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt daemon token for node %s: %w", node.ID, err)
	}

	cfg := daemon.Config{
		Scheme:       node.Scheme,
		FQDN:         node.FQDN,
		DaemonListen: node.DaemonListen,
	}
	return &Connection{
		NodeID:       node.ID,
		BaseURL:      cfg.BaseURL(),
		Scheme:       node.Scheme,
		FQDN:         node.FQDN,
		DaemonListen: node.DaemonListen,
		TokenID:      node.DaemonTokenID,
		Token:        token,
	}, nil
}

// ResolveForServer returns the server's node and its connection
func (r *Registry) ResolveForServer(ctx context.Context, serverUUID string) (*types.Node, *Connection, error) {
	server, err := r.store.GetServerByUUID(serverUUID)
	if err != nil {
		return nil, nil, err
	}
	if server.NodeID == "" {
		return nil, nil, errdefs.NotFound("server %s is not assigned to a node", serverUUID)
	}

	node, err := r.store.GetNode(server.NodeID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := r.Resolve(ctx, node.ID)
	if err != nil {
		return nil, nil, err
	}
	return node, conn, nil
}

// NodeByTokenID looks up the node owning a daemon token identifier. It is
// never cached so authentication always sees current credentials.
func (r *Registry) NodeByTokenID(ctx context.Context, tokenID string) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.store.GetNodeByTokenID(tokenID)
}

// DecryptToken returns the plaintext daemon secret of node
func (r *Registry) DecryptToken(node *types.Node) (string, error) {
	return r.codec.Decrypt(node.DaemonToken)
}

// Client returns a daemon client for nodeID
func (r *Registry) Client(ctx context.Context, nodeID string) (Daemon, error) {
	conn, err := r.Resolve(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return r.ClientFor(conn)
}

// ClientFor returns a daemon client for an already resolved connection
func (r *Registry) ClientFor(conn *Connection) (Daemon, error) {
	cfg := conn.Config()
	cfg.Timeout = r.daemonTimeout
	cfg.ResourcesTimeout = r.resourcesTimeout
	return r.newClient(cfg)
}

// Invalidate drops the cached connection for nodeID
func (r *Registry) Invalidate(nodeID string) {
	r.connections.Delete(nodeID)
	r.logger.Debug().Str("node_id", nodeID).Msg("Connection invalidated")
}
