package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/transfer"
	"github.com/cuemby/paddock/pkg/types"
)

// DefaultTimeout bounds each admin API call
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the admin API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the admin API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client wraps the Paddock admin API for easy CLI usage
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	attempts   uint
}

// NewClient creates a client for the control plane at addr, which may be
// "host:port" or a full URL
func NewClient(addr, apiKey string) (*Client, error) {
	if addr == "" {
		return nil, errdefs.Configuration("control plane address is required")
	}
	if apiKey == "" {
		return nil, errdefs.Configuration("admin API key is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, errdefs.Configuration("invalid control plane address %q: %v", addr, err)
	}
	return &Client{
		baseURL:    strings.TrimRight(addr, "/") + api.Prefix,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		attempts:   3,
	}, nil
}

// do sends one request. GETs are retried on transport errors; API errors
// are returned as they are.
func (c *Client) do(method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = data
	}

	attempts := uint(1)
	if method == http.MethodGet {
		attempts = c.attempts
	}

	return retry.Do(
		func() error {
			return c.send(method, path, body, out)
		},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var apiErr *APIError
			return !errors.As(err, &apiErr)
		}),
	)
}

func (c *Client) send(method, path string, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody httpapi.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func serverPath(ref string, parts ...string) string {
	p := "/servers/" + url.PathEscape(ref)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// CreateNode registers a node. The returned token is shown only once.
func (c *Client) CreateNode(req api.CreateNodeRequest) (*api.CreateNodeResponse, error) {
	var resp api.CreateNodeResponse
	if err := c.do(http.MethodPost, "/nodes", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListNodes lists all nodes
func (c *Client) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := c.do(http.MethodGet, "/nodes", nil, &nodes)
	return nodes, err
}

// NodeSystem reports a node's daemon host
func (c *Client) NodeSystem(nodeID string) (*api.SystemResponse, error) {
	var resp api.SystemResponse
	if err := c.do(http.MethodGet, "/nodes/"+url.PathEscape(nodeID)+"/system", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAllocations adds ports on ip to a node
func (c *Client) CreateAllocations(nodeID, ip string, ports []int, alias string) ([]*types.Allocation, error) {
	var allocations []*types.Allocation
	err := c.do(http.MethodPost, "/nodes/"+url.PathEscape(nodeID)+"/allocations",
		api.CreateAllocationsRequest{IP: ip, Ports: ports, Alias: alias}, &allocations)
	return allocations, err
}

// ListAllocations lists a node's allocations
func (c *Client) ListAllocations(nodeID string) ([]*types.Allocation, error) {
	var allocations []*types.Allocation
	err := c.do(http.MethodGet, "/nodes/"+url.PathEscape(nodeID)+"/allocations", nil, &allocations)
	return allocations, err
}

// ImportEgg stores an egg
func (c *Client) ImportEgg(egg *types.Egg) (*types.Egg, error) {
	var created types.Egg
	if err := c.do(http.MethodPost, "/eggs", egg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListEggs lists all eggs
func (c *Client) ListEggs() ([]*types.Egg, error) {
	var eggs []*types.Egg
	err := c.do(http.MethodGet, "/eggs", nil, &eggs)
	return eggs, err
}

// CreateServer creates a server and queues its install
func (c *Client) CreateServer(req api.CreateServerRequest) (*types.Server, error) {
	var server types.Server
	if err := c.do(http.MethodPost, "/servers", req, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

// ListServers lists all servers
func (c *Client) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := c.do(http.MethodGet, "/servers", nil, &servers)
	return servers, err
}

// GetServer returns a server by id or UUID
func (c *Client) GetServer(ref string) (*types.Server, error) {
	var server types.Server
	if err := c.do(http.MethodGet, serverPath(ref), nil, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

// TransferServer starts moving a server to another node
func (c *Client) TransferServer(ref string, req api.TransferRequest) (*transfer.Result, error) {
	var result transfer.Result
	if err := c.do(http.MethodPost, serverPath(ref, "transfer"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Power sends a power action
func (c *Client) Power(ref string, action daemon.PowerAction) error {
	return c.do(http.MethodPost, serverPath(ref, "power"), api.PowerRequest{Action: action}, nil)
}

// SendCommand writes to a server console
func (c *Client) SendCommand(ref, command string) error {
	return c.do(http.MethodPost, serverPath(ref, "command"), api.CommandRequest{Command: command}, nil)
}

// Suspend suspends a server
func (c *Client) Suspend(ref string) error {
	return c.do(http.MethodPost, serverPath(ref, "suspend"), nil, nil)
}

// Unsuspend lifts a suspension
func (c *Client) Unsuspend(ref string) error {
	return c.do(http.MethodPost, serverPath(ref, "unsuspend"), nil, nil)
}

// Reinstall reruns the install script
func (c *Client) Reinstall(ref string) error {
	return c.do(http.MethodPost, serverPath(ref, "reinstall"), nil, nil)
}

// ServerResources returns the daemon's view of a server
func (c *Client) ServerResources(ref string) (*daemon.ResourceSnapshot, error) {
	var snapshot daemon.ResourceSnapshot
	if err := c.do(http.MethodGet, serverPath(ref, "resources"), nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// CreateBackup starts a backup
func (c *Client) CreateBackup(ref string, req api.CreateBackupRequest) (*types.Backup, error) {
	var backup types.Backup
	if err := c.do(http.MethodPost, serverPath(ref, "backups"), req, &backup); err != nil {
		return nil, err
	}
	return &backup, nil
}

// ListBackups lists a server's backups
func (c *Client) ListBackups(ref string) ([]*types.Backup, error) {
	var backups []*types.Backup
	err := c.do(http.MethodGet, serverPath(ref, "backups"), nil, &backups)
	return backups, err
}

// RestoreBackup restores a completed backup
func (c *Client) RestoreBackup(ref, backupUUID string, truncate bool) error {
	return c.do(http.MethodPost, serverPath(ref, "backups", url.PathEscape(backupUUID), "restore"),
		api.RestoreRequest{Truncate: truncate}, nil)
}

// ListAudit returns the newest audit events
func (c *Client) ListAudit(limit int) ([]*types.AuditEvent, error) {
	var events []*types.AuditEvent
	err := c.do(http.MethodGet, "/audit?limit="+strconv.Itoa(limit), nil, &events)
	return events, err
}

// RemoveVoter removes a control plane member from the Raft cluster
func (c *Client) RemoveVoter(nodeID string) error {
	return c.do(http.MethodDelete, "/cluster/voters/"+url.PathEscape(nodeID), nil, nil)
}
