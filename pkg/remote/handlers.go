package remote

import (
	"net/http"
	"strconv"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
)

// Prefix is where the remote API is mounted
const Prefix = "/api/remote"

// Handler serves the remote callback API
type Handler struct {
	service *Service
	mux     *http.ServeMux
	handler http.Handler
}

// NewHandler creates the remote API handler
func NewHandler(service *Service, middleware *Middleware) *Handler {
	h := &Handler{
		service: service,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("GET "+Prefix+"/servers", h.listServers)
	h.mux.HandleFunc("POST "+Prefix+"/servers/reset", h.resetServers)
	h.mux.HandleFunc("GET "+Prefix+"/servers/{uuid}", h.getServer)
	h.mux.HandleFunc("GET "+Prefix+"/servers/{uuid}/install", h.getInstallScript)
	h.mux.HandleFunc("POST "+Prefix+"/servers/{uuid}/install", h.setInstallStatus)
	h.mux.HandleFunc("POST "+Prefix+"/servers/{uuid}/archive", h.setArchiveStatus)
	h.mux.HandleFunc("POST "+Prefix+"/servers/{uuid}/transfer/success", h.setTransferSuccess)
	h.mux.HandleFunc("POST "+Prefix+"/servers/{uuid}/transfer/failure", h.setTransferFailure)
	h.mux.HandleFunc("GET "+Prefix+"/backups/{uuid}", h.getBackupUploadParts)
	h.mux.HandleFunc("POST "+Prefix+"/backups/{uuid}", h.setBackupStatus)
	h.mux.HandleFunc("POST "+Prefix+"/backups/{uuid}/restore", h.setRestoreStatus)
	h.mux.HandleFunc("POST "+Prefix+"/activity", h.ingestActivity)

	h.handler = httpapi.Instrument("remote", middleware.Wrap(h.mux))
	return h
}

// ServeHTTP authenticates, rate limits and routes a daemon request
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// SuccessResponse acknowledges a callback
type SuccessResponse struct {
	Success bool `json:"success"`
}

// InstallResponse acknowledges an install callback
type InstallResponse struct {
	Success bool               `json:"success"`
	Status  types.ServerStatus `json:"status"`
}

// ResetResponse lists the servers a reset returned to healthy
type ResetResponse struct {
	Success    bool     `json:"success"`
	ResetCount int      `json:"reset_count"`
	Servers    []string `json:"servers"`
}

// ActivityResponse reports what happened to an activity batch
type ActivityResponse struct {
	Success bool `json:"success"`
	ActivityResult
}

// ServerListResponse wraps the configurations of a node's servers
type ServerListResponse struct {
	Data interface{} `json:"data"`
}

// respond writes v, or err mapped to its status, and counts the callback
func respond(w http.ResponseWriter, callback string, status int, v interface{}, err error) {
	metrics.RemoteCallbacks.WithLabelValues(callback, metrics.Outcome(err)).Inc()
	if err != nil {
		httpapi.Error(w, err)
		return
	}
	httpapi.JSON(w, status, v)
}

// node returns the authenticated node; Wrap guarantees it is present
func node(r *http.Request) *types.Node {
	n, _ := NodeFrom(r.Context())
	return n
}

type outcomeRequest struct {
	Successful bool `json:"successful"`
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListServerConfigurations(r.Context(), node(r))
	respond(w, "list_servers", http.StatusOK, ServerListResponse{Data: configs}, err)
}

func (h *Handler) getServer(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.ServerConfiguration(r.Context(), node(r), r.PathValue("uuid"))
	respond(w, "server_configuration", http.StatusOK, cfg, err)
}

func (h *Handler) getInstallScript(w http.ResponseWriter, r *http.Request) {
	script, err := h.service.GetInstallScript(r.Context(), node(r), r.PathValue("uuid"))
	respond(w, "install_script", http.StatusOK, script, err)
}

func (h *Handler) setInstallStatus(w http.ResponseWriter, r *http.Request) {
	var req InstallStatus
	if err := httpapi.DecodeRequired(r, &req); err != nil {
		respond(w, "install_status", 0, nil, err)
		return
	}
	status, err := h.service.SetInstallStatus(r.Context(), node(r), r.PathValue("uuid"), req)
	respond(w, "install_status", http.StatusOK, InstallResponse{Success: true, Status: status}, err)
}

func (h *Handler) setArchiveStatus(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := httpapi.DecodeRequired(r, &req); err != nil {
		respond(w, "archive_status", 0, nil, err)
		return
	}
	err := h.service.SetArchiveStatus(r.Context(), node(r), r.PathValue("uuid"), req.Successful)
	respond(w, "archive_status", http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *Handler) setTransferSuccess(w http.ResponseWriter, r *http.Request) {
	err := h.service.SetTransferStatus(r.Context(), node(r), r.PathValue("uuid"), true)
	respond(w, "transfer_success", http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *Handler) setTransferFailure(w http.ResponseWriter, r *http.Request) {
	err := h.service.SetTransferStatus(r.Context(), node(r), r.PathValue("uuid"), false)
	respond(w, "transfer_failure", http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *Handler) resetServers(w http.ResponseWriter, r *http.Request) {
	uuids, err := h.service.ResetStuckServers(r.Context(), node(r))
	respond(w, "reset", http.StatusOK, ResetResponse{Success: true, ResetCount: len(uuids), Servers: uuids}, err)
}

func (h *Handler) getBackupUploadParts(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		respond(w, "backup_upload_parts", 0, nil, errdefs.InvalidArgument("size must be an integer"))
		return
	}
	parts, err := h.service.GetBackupUploadParts(r.Context(), node(r), r.PathValue("uuid"), size)
	respond(w, "backup_upload_parts", http.StatusOK, parts, err)
}

func (h *Handler) setBackupStatus(w http.ResponseWriter, r *http.Request) {
	var req BackupStatus
	if err := httpapi.DecodeRequired(r, &req); err != nil {
		respond(w, "backup_status", 0, nil, err)
		return
	}
	_, err := h.service.SetBackupStatus(r.Context(), node(r), r.PathValue("uuid"), req)
	respond(w, "backup_status", http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *Handler) setRestoreStatus(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := httpapi.DecodeRequired(r, &req); err != nil {
		respond(w, "restore_status", 0, nil, err)
		return
	}
	err := h.service.SetRestoreStatus(r.Context(), node(r), r.PathValue("uuid"), req.Successful)
	respond(w, "restore_status", http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *Handler) ingestActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityBatch
	if err := httpapi.Decode(r, &req); err != nil {
		respond(w, "activity", 0, nil, err)
		return
	}
	result := h.service.IngestActivity(r.Context(), node(r), req)
	respond(w, "activity", http.StatusOK, ActivityResponse{Success: true, ActivityResult: result}, nil)
}
