package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/provision"
	"github.com/cuemby/paddock/pkg/remote"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/transfer"
)

// Prefix is where the admin API is mounted
const Prefix = "/api/admin"

// Cluster manages control plane membership
type Cluster interface {
	AddVoter(nodeID, address string) error
	RemoveVoter(nodeID string) error
}

// Transfers starts server transfers
type Transfers interface {
	Start(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Provisioner queues installs of new servers
type Provisioner interface {
	Enqueue(serverID string) error
}

// Config wires the admin API to the rest of the control plane
type Config struct {
	Store       storage.Store
	Clients     provision.Clients
	Trigger     *provision.Trigger
	Provisioner Provisioner
	Transfers   Transfers
	Backups     *remote.BackupListing
	Cluster     Cluster
	Codec       *security.TokenCodec
	Recorder    *audit.Recorder
	Clock       clock.Clock
	// APIKey authenticates admin requests
	APIKey string
}

// Server is the admin HTTP API
type Server struct {
	store       storage.Store
	clients     provision.Clients
	trigger     *provision.Trigger
	provisioner Provisioner
	transfers   Transfers
	backups     *remote.BackupListing
	cluster     Cluster
	codec       *security.TokenCodec
	scheduler   *scheduler.Scheduler
	recorder    *audit.Recorder
	clock       clock.Clock
	logger      zerolog.Logger

	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates the admin API
func NewServer(cfg Config) *Server {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	s := &Server{
		store:       cfg.Store,
		clients:     cfg.Clients,
		trigger:     cfg.Trigger,
		provisioner: cfg.Provisioner,
		transfers:   cfg.Transfers,
		backups:     cfg.Backups,
		cluster:     cfg.Cluster,
		codec:       cfg.Codec,
		scheduler:   scheduler.NewScheduler(cfg.Store),
		recorder:    cfg.Recorder,
		clock:       clk,
		logger:      log.WithComponent("api"),
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("GET "+Prefix+"/servers", s.listServers)
	s.mux.HandleFunc("POST "+Prefix+"/servers", s.createServer)
	s.mux.HandleFunc("GET "+Prefix+"/servers/{id}", s.getServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/transfer", s.transferServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/reinstall", s.reinstallServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/suspend", s.suspendServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/unsuspend", s.unsuspendServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/power", s.powerServer)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/command", s.sendCommand)
	s.mux.HandleFunc("GET "+Prefix+"/servers/{id}/resources", s.serverResources)
	s.mux.HandleFunc("GET "+Prefix+"/servers/{id}/websocket", s.websocketToken)
	s.mux.HandleFunc("GET "+Prefix+"/servers/{id}/backups", s.listBackups)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/backups", s.createBackup)
	s.mux.HandleFunc("POST "+Prefix+"/servers/{id}/backups/{backup}/restore", s.restoreBackup)
	s.mux.HandleFunc("GET "+Prefix+"/nodes", s.listNodes)
	s.mux.HandleFunc("POST "+Prefix+"/nodes", s.createNode)
	s.mux.HandleFunc("GET "+Prefix+"/nodes/{id}/allocations", s.listAllocations)
	s.mux.HandleFunc("POST "+Prefix+"/nodes/{id}/allocations", s.createAllocations)
	s.mux.HandleFunc("GET "+Prefix+"/nodes/{id}/system", s.nodeSystem)
	s.mux.HandleFunc("GET "+Prefix+"/eggs", s.listEggs)
	s.mux.HandleFunc("POST "+Prefix+"/eggs", s.importEgg)
	s.mux.HandleFunc("GET "+Prefix+"/audit", s.listAudit)
	s.mux.HandleFunc("POST "+Prefix+"/cluster/voters", s.addVoter)
	s.mux.HandleFunc("DELETE "+Prefix+"/cluster/voters/{id}", s.removeVoter)

	s.handler = httpapi.Instrument("admin", RequireAPIKey(cfg.APIKey, s.mux))
	return s
}

// ServeHTTP serves an admin request
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves handler on addr until ctx is done
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
