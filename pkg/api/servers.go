package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/registry"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/transfer"
	"github.com/cuemby/paddock/pkg/types"
)

// CreateServerRequest creates a server. Without a node the least loaded
// node with room and a free allocation is picked.
type CreateServerRequest struct {
	UUID                    string            `json:"uuid,omitempty"`
	Name                    string            `json:"name"`
	NodeID                  string            `json:"node_id,omitempty"`
	AllocationID            string            `json:"allocation_id,omitempty"`
	AdditionalAllocationIDs []string          `json:"additional_allocation_ids,omitempty"`
	EggID                   string            `json:"egg_id"`
	Limits                  types.Limits      `json:"limits"`
	Image                   string            `json:"image,omitempty"`
	Startup                 string            `json:"startup,omitempty"`
	Environment             map[string]string `json:"environment,omitempty"`
}

// TransferRequest moves a server to another node
type TransferRequest struct {
	NodeID                  string   `json:"node_id"`
	AllocationID            string   `json:"allocation_id"`
	AdditionalAllocationIDs []string `json:"additional_allocation_ids,omitempty"`
	StartOnCompletion       bool     `json:"start_on_completion"`
}

// PowerRequest sends a power action
type PowerRequest struct {
	Action daemon.PowerAction `json:"action"`
}

// CommandRequest writes to a server console
type CommandRequest struct {
	Command string `json:"command"`
}

// StateResponse is the state of a daemon-side resource that may be offline
type StateResponse struct {
	State string `json:"state"`
}

// lookupServer finds a server by id or UUID
func (s *Server) lookupServer(ref string) (*types.Server, error) {
	server, err := s.store.GetServer(ref)
	if err == nil {
		return server, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}
	return s.store.GetServerByUUID(ref)
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, servers)
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.lookupServer(r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, server)
}

func (s *Server) createServer(w http.ResponseWriter, r *http.Request) {
	var req CreateServerRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	server, err := s.CreateServer(r.Context(), req)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusCreated, server)
}

// CreateServer places, records and queues the install of a new server
func (s *Server) CreateServer(ctx context.Context, req CreateServerRequest) (*types.Server, error) {
	if req.Name == "" || req.EggID == "" {
		return nil, errdefs.InvalidArgument("name and egg_id are required")
	}
	if _, err := s.store.GetEgg(req.EggID); err != nil {
		return nil, err
	}

	required := scheduler.Usage{Memory: req.Limits.Memory, Disk: req.Limits.Disk}
	nodeID, allocationID := req.NodeID, req.AllocationID
	if nodeID == "" {
		placement, err := s.scheduler.SelectNode(required)
		if err != nil {
			return nil, err
		}
		nodeID, allocationID = placement.Node.ID, placement.Allocation.ID
	} else {
		if allocationID == "" {
			return nil, errdefs.InvalidArgument("allocation_id is required when node_id is set")
		}
		node, err := s.store.GetNode(nodeID)
		if err != nil {
			return nil, err
		}
		if err := s.scheduler.CheckNode(node, required, ""); err != nil {
			return nil, err
		}
	}

	id := req.UUID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, errdefs.InvalidArgument("uuid is malformed: %s", id)
	}
	now := s.clock.Now().UTC()
	server := &types.Server{
		UUID:         id,
		Identifier:   id[:8],
		Name:         req.Name,
		NodeID:       nodeID,
		AllocationID: allocationID,
		EggID:        req.EggID,
		Status:       types.ServerStatusInstalling,
		Limits:       req.Limits,
		Image:        req.Image,
		Startup:      req.Startup,
		Environment:  req.Environment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateServer(server); err != nil {
		return nil, err
	}

	ids := append([]string{allocationID}, req.AdditionalAllocationIDs...)
	if err := s.store.ReserveAllocations(nodeID, server.ID, ids); err != nil {
		if derr := s.store.DeleteServer(server.ID); derr != nil {
			s.logger.Error().Err(derr).Str("server", server.UUID).Msg("Failed to remove server after allocation conflict")
		}
		return nil, err
	}

	_ = s.recorder.Record(ctx, "server:created", audit.ServerSubject(server), map[string]string{"node": nodeID})

	if err := s.provisioner.Enqueue(server.ID); err != nil {
		if serr := s.store.SetServerStatus(server.ID, types.ServerStatusInstallFailed); serr != nil {
			s.logger.Error().Err(serr).Str("server", server.UUID).Msg("Failed to mark server install failed")
		}
		return nil, err
	}

	s.logger.Info().Str("server", server.UUID).Str("node_id", nodeID).Msg("Server created")
	return server, nil
}

func (s *Server) transferServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.lookupServer(r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	var req TransferRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	result, err := s.transfers.Start(r.Context(), transfer.Request{
		ServerID:                server.ID,
		TargetNodeID:            req.NodeID,
		AllocationID:            req.AllocationID,
		AdditionalAllocationIDs: req.AdditionalAllocationIDs,
		StartOnCompletion:       req.StartOnCompletion,
	})
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusAccepted, result)
}

func (s *Server) reinstallServer(w http.ResponseWriter, r *http.Request) {
	s.serverAction(w, r, s.trigger.RequestReinstall)
}

func (s *Server) suspendServer(w http.ResponseWriter, r *http.Request) {
	s.serverAction(w, r, s.trigger.Suspend)
}

func (s *Server) unsuspendServer(w http.ResponseWriter, r *http.Request) {
	s.serverAction(w, r, s.trigger.Unsuspend)
}

// serverAction runs fn on the server named in the path and answers 204
func (s *Server) serverAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	server, err := s.lookupServer(r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	if err := fn(r.Context(), server.ID); err != nil {
		httpapi.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serverClient returns the server named in the path and its daemon
func (s *Server) serverClient(r *http.Request) (*types.Server, registry.Daemon, error) {
	server, err := s.lookupServer(r.PathValue("id"))
	if err != nil {
		return nil, nil, err
	}
	if server.NodeID == "" {
		return nil, nil, errdefs.InvalidState("server %s is not assigned to a node", server.UUID)
	}
	client, err := s.clients.Client(r.Context(), server.NodeID)
	if err != nil {
		return nil, nil, err
	}
	return server, client, nil
}

func (s *Server) powerServer(w http.ResponseWriter, r *http.Request) {
	var req PowerRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	if !req.Action.Valid() {
		httpapi.Error(w, errdefs.InvalidArgument("unknown power action %q", req.Action))
		return
	}
	server, client, err := s.serverClient(r)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	if server.Suspended && req.Action != daemon.PowerStop && req.Action != daemon.PowerKill {
		httpapi.Error(w, errdefs.InvalidState("server %s is suspended", server.UUID))
		return
	}
	if server.Status != types.ServerStatusHealthy {
		httpapi.Error(w, errdefs.InvalidState("server %s is %s", server.UUID, server.Status))
		return
	}

	if err := client.SendPowerAction(r.Context(), server.UUID, req.Action); err != nil {
		httpapi.Error(w, err)
		return
	}
	_ = s.recorder.Record(r.Context(), "server:power."+string(req.Action), audit.ServerSubject(server), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	if req.Command == "" {
		httpapi.Error(w, errdefs.InvalidArgument("command is required"))
		return
	}
	server, client, err := s.serverClient(r)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	if err := client.SendCommand(r.Context(), server.UUID, req.Command); err != nil {
		httpapi.Error(w, err)
		return
	}
	_ = s.recorder.Record(r.Context(), "server:console.command", audit.ServerSubject(server), map[string]string{"command": req.Command})
	w.WriteHeader(http.StatusNoContent)
}

// serverResources reports what the daemon sees. An unreachable or failing
// daemon reads as offline rather than an error.
func (s *Server) serverResources(w http.ResponseWriter, r *http.Request) {
	server, client, err := s.serverClient(r)
	if err != nil {
		if errdefs.IsDaemonFailure(err) {
			httpapi.JSON(w, http.StatusOK, daemon.OfflineSnapshot())
			return
		}
		httpapi.Error(w, err)
		return
	}

	snapshot, err := client.GetServerResources(r.Context(), server.UUID)
	if err != nil {
		if !errdefs.IsDaemonFailure(err) {
			httpapi.Error(w, err)
			return
		}
		s.logger.Debug().Err(err).Str("server", server.UUID).Msg("Reporting server offline")
		offline := daemon.OfflineSnapshot()
		offline.IsSuspended = server.Suspended
		snapshot = &offline
	}
	httpapi.JSON(w, http.StatusOK, snapshot)
}

func (s *Server) websocketToken(w http.ResponseWriter, r *http.Request) {
	server, client, err := s.serverClient(r)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	if server.Suspended {
		httpapi.Error(w, errdefs.InvalidState("server %s is suspended", server.UUID))
		return
	}
	token, err := client.GetWebSocketToken(r.Context(), server.UUID)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, token)
}
