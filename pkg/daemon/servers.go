package daemon

import (
	"context"
	"net/http"

	"github.com/cuemby/paddock/pkg/errdefs"
)

// SendPowerAction requests a state transition. Success means the daemon
// accepted the request, not that the transition finished.
func (c *Client) SendPowerAction(ctx context.Context, uuid string, action PowerAction) error {
	if !action.Valid() {
		return errdefs.InvalidArgument("unknown power action %q", action)
	}
	return c.do(ctx, call{
		op:     "power",
		method: http.MethodPost,
		path:   serverPath(uuid, "power"),
		body:   map[string]PowerAction{"action": action},
	})
}

// SendCommand writes command to the server's console
func (c *Client) SendCommand(ctx context.Context, uuid, command string) error {
	return c.do(ctx, call{
		op:     "command",
		method: http.MethodPost,
		path:   serverPath(uuid, "commands"),
		body:   map[string][]string{"commands": {command}},
	})
}

// GetServerResources returns the current state and utilization. It uses
// the shorter resources timeout.
func (c *Client) GetServerResources(ctx context.Context, uuid string) (*ResourceSnapshot, error) {
	var snapshot ResourceSnapshot
	err := c.do(ctx, call{
		op:      "resources",
		method:  http.MethodGet,
		path:    serverPath(uuid, "resources"),
		out:     &snapshot,
		timeout: c.resourcesTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// CreateServer asks the daemon to create and install a server
func (c *Client) CreateServer(ctx context.Context, cfg ServerConfig) error {
	return c.do(ctx, call{
		op:     "create_server",
		method: http.MethodPost,
		path:   "/servers",
		body:   cfg,
	})
}

// UpdateServer applies a partial configuration change
func (c *Client) UpdateServer(ctx context.Context, uuid string, patch ServerPatch) error {
	return c.do(ctx, call{
		op:     "update_server",
		method: http.MethodPatch,
		path:   serverPath(uuid),
		body:   patch,
	})
}

// DeleteServer removes the server and its files from the daemon
func (c *Client) DeleteServer(ctx context.Context, uuid string) error {
	return c.do(ctx, call{
		op:     "delete_server",
		method: http.MethodDelete,
		path:   serverPath(uuid),
	})
}

// ReinstallServer reruns the egg install script
func (c *Client) ReinstallServer(ctx context.Context, uuid string) error {
	return c.do(ctx, call{
		op:     "reinstall_server",
		method: http.MethodPost,
		path:   serverPath(uuid, "reinstall"),
	})
}

// SyncServer makes the daemon refetch the server's configuration
func (c *Client) SyncServer(ctx context.Context, uuid string) error {
	return c.do(ctx, call{
		op:     "sync_server",
		method: http.MethodPost,
		path:   serverPath(uuid, "sync"),
	})
}

// TransferServer asks this (destination) daemon to pull the server from
// the source daemon named in req
func (c *Client) TransferServer(ctx context.Context, uuid string, req TransferRequest) error {
	return c.do(ctx, call{
		op:     "transfer",
		method: http.MethodPost,
		path:   serverPath(uuid, "transfer"),
		body:   req,
	})
}

// GetWebSocketToken mints a console credential
func (c *Client) GetWebSocketToken(ctx context.Context, uuid string) (*WebSocketToken, error) {
	var token WebSocketToken
	err := c.do(ctx, call{
		op:     "websocket_token",
		method: http.MethodGet,
		path:   serverPath(uuid, "ws", "token"),
		out:    &token,
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetSystemInformation reports the daemon host's version and platform
func (c *Client) GetSystemInformation(ctx context.Context) (*SystemInformation, error) {
	var info SystemInformation
	err := c.do(ctx, call{
		op:      "system",
		method:  http.MethodGet,
		path:    "/system",
		out:     &info,
		timeout: c.resourcesTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}
