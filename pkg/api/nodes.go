package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/manager"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/types"
)

// CreateNodeRequest registers a daemon host
type CreateNodeRequest struct {
	Name               string `json:"name"`
	Scheme             string `json:"scheme"`
	FQDN               string `json:"fqdn"`
	DaemonListen       int    `json:"daemon_listen"`
	Memory             int64  `json:"memory"`
	MemoryOverallocate int64  `json:"memory_overallocate"`
	Disk               int64  `json:"disk"`
	DiskOverallocate   int64  `json:"disk_overallocate"`
}

// CreateNodeResponse carries the daemon credentials. The secret is only
// ever returned here.
type CreateNodeResponse struct {
	Node    *types.Node `json:"node"`
	TokenID string      `json:"token_id"`
	Token   string      `json:"token"`
}

// CreateAllocationsRequest adds ports on one IP to a node
type CreateAllocationsRequest struct {
	IP    string `json:"ip"`
	Ports []int  `json:"ports"`
	Alias string `json:"ip_alias,omitempty"`
}

// SystemResponse describes a daemon host, or reports it offline
type SystemResponse struct {
	State string      `json:"state"`
	Info  interface{} `json:"info,omitempty"`
}

// redact strips the encrypted daemon secret from a node
func redact(node *types.Node) *types.Node {
	copied := *node
	copied.DaemonToken = ""
	return &copied
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.ListNodes()
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	out := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, redact(n))
	}
	httpapi.JSON(w, http.StatusOK, out)
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	if req.Name == "" || req.FQDN == "" || req.DaemonListen <= 0 {
		httpapi.Error(w, errdefs.InvalidArgument("name, fqdn and daemon_listen are required"))
		return
	}
	scheme := req.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if scheme != "http" && scheme != "https" {
		httpapi.Error(w, errdefs.InvalidArgument("scheme must be http or https"))
		return
	}

	tokenID, token, err := security.GenerateNodeToken()
	if err != nil {
		httpapi.Error(w, fmt.Errorf("failed to generate daemon token: %w", err))
		return
	}
	encrypted, err := s.codec.Encrypt(token)
	if err != nil {
		httpapi.Error(w, err)
		return
	}

	now := s.clock.Now().UTC()
	node := &types.Node{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Scheme:             scheme,
		FQDN:               req.FQDN,
		DaemonListen:       req.DaemonListen,
		Memory:             req.Memory,
		MemoryOverallocate: req.MemoryOverallocate,
		Disk:               req.Disk,
		DiskOverallocate:   req.DiskOverallocate,
		DaemonTokenID:      tokenID,
		DaemonToken:        encrypted,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateNode(node); err != nil {
		httpapi.Error(w, err)
		return
	}

	_ = s.recorder.Record(r.Context(), "node:created", audit.Subject{Type: "node", ID: node.ID}, map[string]string{"fqdn": node.FQDN})
	httpapi.JSON(w, http.StatusCreated, CreateNodeResponse{Node: redact(node), TokenID: tokenID, Token: token})
}

func (s *Server) listAllocations(w http.ResponseWriter, r *http.Request) {
	allocations, err := s.store.ListAllocationsByNode(r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, allocations)
}

func (s *Server) createAllocations(w http.ResponseWriter, r *http.Request) {
	var req CreateAllocationsRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	if req.IP == "" || len(req.Ports) == 0 {
		httpapi.Error(w, errdefs.InvalidArgument("ip and ports are required"))
		return
	}

	nodeID := r.PathValue("id")
	created := make([]*types.Allocation, 0, len(req.Ports))
	for _, port := range req.Ports {
		if port < 1024 || port > 65535 {
			httpapi.Error(w, errdefs.InvalidArgument("port %d is outside 1024-65535", port))
			return
		}
		allocation := &types.Allocation{NodeID: nodeID, IP: req.IP, Port: port, Alias: req.Alias}
		if err := s.store.CreateAllocation(allocation); err != nil {
			httpapi.Error(w, err)
			return
		}
		created = append(created, allocation)
	}
	httpapi.JSON(w, http.StatusCreated, created)
}

// nodeSystem reports the daemon host. A daemon that cannot answer reads as
// offline.
func (s *Server) nodeSystem(w http.ResponseWriter, r *http.Request) {
	client, err := s.clients.Client(r.Context(), r.PathValue("id"))
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	info, err := client.GetSystemInformation(r.Context())
	if err != nil {
		if !errdefs.IsDaemonFailure(err) {
			httpapi.Error(w, err)
			return
		}
		httpapi.JSON(w, http.StatusOK, SystemResponse{State: "offline"})
		return
	}
	httpapi.JSON(w, http.StatusOK, SystemResponse{State: "online", Info: info})
}

func (s *Server) listEggs(w http.ResponseWriter, r *http.Request) {
	eggs, err := s.store.ListEggs()
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, eggs)
}

func (s *Server) importEgg(w http.ResponseWriter, r *http.Request) {
	var egg types.Egg
	if err := httpapi.Decode(r, &egg); err != nil {
		httpapi.Error(w, err)
		return
	}
	if egg.Name == "" || egg.DockerImage == "" || egg.Startup == "" {
		httpapi.Error(w, errdefs.InvalidArgument("name, docker_image and startup are required"))
		return
	}
	if err := s.store.CreateEgg(&egg); err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusCreated, &egg)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpapi.Error(w, errdefs.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = n
	}
	events, err := s.store.ListAuditEvents(limit)
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, events)
}

func (s *Server) addVoter(w http.ResponseWriter, r *http.Request) {
	var req manager.JoinRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	if req.NodeID == "" || req.Address == "" {
		httpapi.Error(w, errdefs.InvalidArgument("node_id and address are required"))
		return
	}
	if err := s.cluster.AddVoter(req.NodeID, req.Address); err != nil {
		httpapi.Error(w, err)
		return
	}
	s.logger.Info().Str("voter_id", req.NodeID).Str("address", req.Address).Msg("Manager joined the cluster")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeVoter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cluster.RemoveVoter(id); err != nil {
		httpapi.Error(w, err)
		return
	}
	s.logger.Info().Str("voter_id", id).Msg("Manager removed from the cluster")
	w.WriteHeader(http.StatusNoContent)
}
