package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds every daemon call that does not set its own
	DefaultTimeout = 15 * time.Second
	// DefaultResourcesTimeout bounds resource polling, which sits on page loads
	DefaultResourcesTimeout = 5 * time.Second

	// maxErrorBody caps how much of an error response is read
	maxErrorBody = 64 << 10
)

// Config describes how to reach and authenticate with one node daemon
type Config struct {
	Scheme       string
	FQDN         string
	DaemonListen int
	TokenID      string
	// Token is the plaintext daemon secret
	Token string

	// Timeout defaults to DefaultTimeout
	Timeout time.Duration
	// ResourcesTimeout defaults to DefaultResourcesTimeout
	ResourcesTimeout time.Duration

	// HTTPClient defaults to a client with no overall timeout; deadlines
	// come from the per-call context
	HTTPClient *http.Client
}

// BaseURL returns "<scheme>://<fqdn>:<port>/api"
func (c Config) BaseURL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api", scheme, c.FQDN, c.DaemonListen)
}

// Client talks to one node daemon over its signed HTTP API
type Client struct {
	baseURL          string
	authHeader       string
	timeout          time.Duration
	resourcesTimeout time.Duration
	httpClient       *http.Client
	logger           zerolog.Logger
}

// New creates a daemon client
func New(cfg Config) (*Client, error) {
	if cfg.FQDN == "" || cfg.DaemonListen <= 0 {
		return nil, errdefs.Configuration("daemon address is incomplete")
	}
	if cfg.TokenID == "" || cfg.Token == "" {
		return nil, errdefs.Configuration("daemon credentials are missing")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	resourcesTimeout := cfg.ResourcesTimeout
	if resourcesTimeout <= 0 {
		resourcesTimeout = DefaultResourcesTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:          cfg.BaseURL(),
		authHeader:       security.BuildAuthHeader(cfg.TokenID, cfg.Token),
		timeout:          timeout,
		resourcesTimeout: resourcesTimeout,
		httpClient:       httpClient,
		logger:           log.WithComponent("daemon").With().Str("daemon", cfg.FQDN).Logger(),
	}, nil
}

// BaseURL returns the daemon API root this client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// errorBody covers both error shapes daemons return
type errorBody struct {
	Error  string `json:"error"`
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (b errorBody) message() string {
	if b.Error != "" {
		return b.Error
	}
	details := make([]string, 0, len(b.Errors))
	for _, e := range b.Errors {
		if e.Detail != "" {
			details = append(details, e.Detail)
		}
	}
	return strings.Join(details, "; ")
}

// call is one daemon request
type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    interface{}
	out     interface{}
	timeout time.Duration
}

// do executes a call: Bearer auth, JSON in and out, bounded by a deadline.
// Non-2xx responses become DaemonRPC errors; transport failures and
// timeouts become DaemonUnreachable.
func (c *Client) do(ctx context.Context, cl call) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.DaemonRequestDuration, cl.op)
		metrics.DaemonRequests.WithLabelValues(cl.op, metrics.Outcome(err)).Inc()
	}()

	timeout := cl.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + cl.path
	if len(cl.query) > 0 {
		endpoint += "?" + cl.query.Encode()
	}

	var reader io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", cl.op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", cl.op, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", cl.op).Msg("Daemon unreachable")
		return errdefs.DaemonUnreachable(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var body errorBody
		_ = json.Unmarshal(raw, &body)

		c.logger.Warn().
			Str("op", cl.op).
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("Daemon returned an error")
		return errdefs.DaemonRPC(resp.StatusCode, body.message())
	}

	if cl.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return errdefs.DaemonUnreachable(c.baseURL, ctx.Err())
		}
		return fmt.Errorf("failed to decode %s response: %w", cl.op, err)
	}
	return nil
}

func serverPath(uuid string, parts ...string) string {
	p := "/servers/" + url.PathEscape(uuid)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}
