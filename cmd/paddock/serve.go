package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/manager"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/provision"
	"github.com/cuemby/paddock/pkg/reconciler"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/remote"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/transfer"
)

var serveOverrides *config.Overrides

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a control plane member",
	Long: `Run a control plane member: the Raft-replicated store, the admin API,
the remote API daemons call back into, and the background provisioner.

Without --join this bootstraps a new single member cluster. With --join it
asks the leader at that URL to add this member as a voter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		serveOverrides.Apply(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		log.Init(cfg.LogConfig())
		return serve(cfg)
	},
}

func init() {
	serveOverrides = config.BindFlags(serveCmd.Flags())
}

func serve(cfg *config.Config) error {
	logger := log.WithNodeID(cfg.NodeID)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetVersion(Version)
	api.Version = Version
	metrics.RegisterComponent("raft", false, "starting")
	metrics.RegisterComponent("storage", false, "starting")
	metrics.RegisterComponent("api", false, "starting")

	codec, err := security.NewTokenCodecFromEnv()
	if err != nil {
		return err
	}
	if !codec.Configured() {
		logger.Warn().Strs("env", security.DefaultKeyEnv).Msg("No application key set; daemon tokens cannot be encrypted or decrypted")
	}

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.RaftAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Manager shutdown failed")
		}
	}()

	if cfg.JoinURL == "" {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	} else if err := mgr.Join(ctx, cfg.JoinURL, cfg.AdminAPIKey); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	if err := mgr.WaitForLeader(30 * time.Second); err != nil {
		return err
	}
	metrics.UpdateComponent("raft", true, "leader at "+mgr.LeaderAddr())
	metrics.UpdateComponent("storage", true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	if cfg.NATSURL != "" {
		forwarder, err := events.NewNATSForwarder(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			metrics.RegisterComponent("nats", false, err.Error())
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer forwarder.Close()
		go forwarder.Run(ctx, broker)
		metrics.RegisterComponent("nats", true, cfg.NATSURL)
	}

	var sink audit.Sink = audit.NewStoreSink(mgr)
	if cfg.AuditDatabaseURL != "" {
		pg, err := audit.NewPostgresSink(ctx, cfg.AuditDatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		defer pg.Close()
		sink = audit.NewMultiSink(sink, pg)
		metrics.RegisterComponent("audit-postgres", true, "")
	}
	recorder := audit.NewRecorder(sink, nil)

	daemons := registry.New(mgr, codec, registry.Options{
		ConnectionTTL:    cfg.ConnectionCacheTTL,
		DaemonTimeout:    cfg.DaemonTimeout,
		ResourcesTimeout: cfg.ResourcesTimeout,
	})

	trigger := provision.NewTrigger(mgr, daemons, recorder, broker)
	runner := provision.NewRunner(trigger, broker, provision.RunnerConfig{
		Workers:  cfg.ProvisionWorkers,
		Attempts: uint(cfg.ProvisionAttempts),
	})
	runner.Start()
	defer runner.Stop()

	orchestrator := transfer.NewOrchestrator(mgr, daemons, transfer.Options{
		Issuer:   cfg.PublicURL,
		Recorder: recorder,
		Broker:   broker,
	})

	backups := remote.NewBackupListing(mgr, cfg.BackupCacheTTL, nil)
	service := remote.NewService(mgr, remote.Options{
		Transfers: orchestrator,
		Backups:   backups,
		Recorder:  recorder,
		Broker:    broker,
	})
	middleware := remote.NewMiddleware(daemons, cfg.RemoteRatePerMinute, cfg.RemoteRateBurst, nil)
	middleware.StartCleanupJob(ctx)

	if cfg.AdminAPIKey == "" {
		logger.Warn().Msg("PADDOCK_ADMIN_API_KEY is empty; the admin API rejects every request")
	}
	admin := api.NewServer(api.Config{
		Store:       mgr,
		Clients:     daemons,
		Trigger:     trigger,
		Provisioner: runner,
		Transfers:   orchestrator,
		Backups:     backups,
		Cluster:     mgr,
		Codec:       codec,
		Recorder:    recorder,
		APIKey:      cfg.AdminAPIKey,
	})

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()
	defer collector.Stop()

	rec := reconciler.NewReconciler(mgr, daemons, orchestrator, reconciler.Config{
		Interval:        cfg.ReconcileInterval,
		TransferTimeout: cfg.TransferTimeout,
		Health:          health.Config{Timeout: cfg.ResourcesTimeout, Retries: 3},
		IsLeader:        mgr.IsLeader,
		Broker:          broker,
	})
	rec.Start()
	defer rec.Stop()

	healthSrv := api.NewHealthServer(mgr, mgr)
	mux := http.NewServeMux()
	mux.Handle(api.Prefix+"/", admin)
	mux.Handle(remote.Prefix+"/", remote.NewHandler(service, middleware))
	mux.Handle("GET /livez", metrics.LivenessHandler())
	mux.Handle("GET /healthz", metrics.HealthHandler())
	mux.Handle("GET /readyz", metrics.ReadyHandler())
	mux.Handle("/", healthSrv.GetHandler())

	metrics.UpdateComponent("api", true, cfg.ListenAddr)
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("raft", cfg.RaftAddr).
		Str("public_url", cfg.PublicURL).
		Msg("Control plane running")

	if err := api.ListenAndServe(ctx, cfg.ListenAddr, mux); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
