// Package config loads process configuration from PADDOCK_* environment
// variables and lets command-line flags override individual values.
package config

import (
	"fmt"
	"time"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/spf13/pflag"
	"github.com/vrischmann/envconfig"
)

// Config holds every tunable of a control plane process
type Config struct {
	NodeID   string `envconfig:"PADDOCK_NODE_ID,default=cp-1"`
	DataDir  string `envconfig:"PADDOCK_DATA_DIR,default=/var/lib/paddock"`
	RaftAddr string `envconfig:"PADDOCK_RAFT_ADDR,default=127.0.0.1:7946"`
	// JoinURL is the admin base URL of an existing leader. Empty bootstraps a new cluster.
	JoinURL    string `envconfig:"PADDOCK_JOIN_URL,optional"`
	ListenAddr string `envconfig:"PADDOCK_LISTEN_ADDR,default=:8080"`
	// PublicURL is how daemons reach this control plane; it issues transfer tokens
	PublicURL string `envconfig:"PADDOCK_PUBLIC_URL,default=http://127.0.0.1:8080"`

	AdminAPIKey string `envconfig:"PADDOCK_ADMIN_API_KEY,optional"`

	LogLevel string `envconfig:"PADDOCK_LOG_LEVEL,default=info"`
	LogJSON  bool   `envconfig:"PADDOCK_LOG_JSON,default=false"`

	DaemonTimeout      time.Duration `envconfig:"PADDOCK_DAEMON_TIMEOUT,default=15s"`
	ResourcesTimeout   time.Duration `envconfig:"PADDOCK_DAEMON_RESOURCES_TIMEOUT,default=5s"`
	ConnectionCacheTTL time.Duration `envconfig:"PADDOCK_CONNECTION_CACHE_TTL,default=30s"`
	BackupCacheTTL     time.Duration `envconfig:"PADDOCK_BACKUP_CACHE_TTL,default=60s"`

	RemoteRatePerMinute int `envconfig:"PADDOCK_REMOTE_RATE_PER_MINUTE,default=240"`
	RemoteRateBurst     int `envconfig:"PADDOCK_REMOTE_RATE_BURST,default=60"`

	ProvisionWorkers  int `envconfig:"PADDOCK_PROVISION_WORKERS,default=4"`
	ProvisionAttempts int `envconfig:"PADDOCK_PROVISION_ATTEMPTS,default=3"`

	ReconcileInterval time.Duration `envconfig:"PADDOCK_RECONCILE_INTERVAL,default=30s"`
	TransferTimeout   time.Duration `envconfig:"PADDOCK_TRANSFER_TIMEOUT,default=2h"`

	NATSURL     string `envconfig:"PADDOCK_NATS_URL,optional"`
	NATSSubject string `envconfig:"PADDOCK_NATS_SUBJECT,default=paddock.events"`

	AuditDatabaseURL string `envconfig:"PADDOCK_AUDIT_DATABASE_URL,optional"`
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return cfg, nil
}

// Overrides are the flag values registered by BindFlags
type Overrides struct {
	fs *pflag.FlagSet

	nodeID     string
	dataDir    string
	raftAddr   string
	joinURL    string
	listenAddr string
	publicURL  string
	logLevel   string
	logJSON    bool
	natsURL    string
	auditDB    string
}

// BindFlags registers the overridable settings on fs
func BindFlags(fs *pflag.FlagSet) *Overrides {
	o := &Overrides{fs: fs}
	fs.StringVar(&o.nodeID, "node-id", "", "control plane node ID (PADDOCK_NODE_ID)")
	fs.StringVar(&o.dataDir, "data-dir", "", "data directory (PADDOCK_DATA_DIR)")
	fs.StringVar(&o.raftAddr, "raft-addr", "", "Raft bind address (PADDOCK_RAFT_ADDR)")
	fs.StringVar(&o.joinURL, "join", "", "admin URL of the leader to join (PADDOCK_JOIN_URL)")
	fs.StringVar(&o.listenAddr, "listen", "", "HTTP listen address (PADDOCK_LISTEN_ADDR)")
	fs.StringVar(&o.publicURL, "public-url", "", "URL daemons use to reach the control plane (PADDOCK_PUBLIC_URL)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (PADDOCK_LOG_LEVEL)")
	fs.BoolVar(&o.logJSON, "log-json", false, "emit JSON logs (PADDOCK_LOG_JSON)")
	fs.StringVar(&o.natsURL, "nats-url", "", "NATS server URL for event forwarding (PADDOCK_NATS_URL)")
	fs.StringVar(&o.auditDB, "audit-database-url", "", "Postgres URL for the audit log (PADDOCK_AUDIT_DATABASE_URL)")
	return o
}

// Apply copies every flag the user set onto cfg
func (o *Overrides) Apply(cfg *Config) {
	set := func(name string, dst *string, v string) {
		if o.fs.Changed(name) {
			*dst = v
		}
	}
	set("node-id", &cfg.NodeID, o.nodeID)
	set("data-dir", &cfg.DataDir, o.dataDir)
	set("raft-addr", &cfg.RaftAddr, o.raftAddr)
	set("join", &cfg.JoinURL, o.joinURL)
	set("listen", &cfg.ListenAddr, o.listenAddr)
	set("public-url", &cfg.PublicURL, o.publicURL)
	set("log-level", &cfg.LogLevel, o.logLevel)
	set("nats-url", &cfg.NATSURL, o.natsURL)
	set("audit-database-url", &cfg.AuditDatabaseURL, o.auditDB)
	if o.fs.Changed("log-json") {
		cfg.LogJSON = o.logJSON
	}
}

// Validate rejects settings the control plane cannot run with
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.RemoteRatePerMinute <= 0 || c.RemoteRateBurst <= 0 {
		return fmt.Errorf("remote rate limit must be positive")
	}
	if c.ProvisionWorkers <= 0 {
		return fmt.Errorf("provision workers must be positive")
	}
	if c.DaemonTimeout <= 0 || c.ResourcesTimeout <= 0 {
		return fmt.Errorf("daemon timeouts must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ReconcileInterval <= 0 || c.TransferTimeout <= 0 {
		return fmt.Errorf("reconcile interval and transfer timeout must be positive")
	}
	return nil
}

// LogConfig converts the logging settings for log.Init
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.LogLevel),
		JSONOutput: c.LogJSON,
	}
}
