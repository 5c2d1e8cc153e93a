package remote

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/types"
)

const (
	// DefaultRatePerMinute is the sustained request rate allowed per node
	DefaultRatePerMinute = 240
	// DefaultRateBurst is the burst allowed per node
	DefaultRateBurst = 60

	// limiterIdleTTL is how long an unused limiter is kept
	limiterIdleTTL = time.Hour
)

// Credentials looks up nodes by daemon token
type Credentials interface {
	NodeByTokenID(ctx context.Context, tokenID string) (*types.Node, error)
	DecryptToken(node *types.Node) (string, error)
}

type nodeKey struct{}

// WithNode returns a context carrying the authenticated node
func WithNode(ctx context.Context, node *types.Node) context.Context {
	return context.WithValue(ctx, nodeKey{}, node)
}

// NodeFrom returns the authenticated node on ctx
func NodeFrom(ctx context.Context) (*types.Node, bool) {
	node, ok := ctx.Value(nodeKey{}).(*types.Node)
	return node, ok
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Middleware authenticates daemons and rate limits them per node
type Middleware struct {
	credentials Credentials
	limit       rate.Limit
	burst       int
	clock       clock.Clock
	logger      zerolog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*limiterEntry
}

// NewMiddleware creates the remote API middleware. Non-positive rates use
// the defaults.
func NewMiddleware(credentials Credentials, perMinute, burst int, clk clock.Clock) *Middleware {
	if perMinute <= 0 {
		perMinute = DefaultRatePerMinute
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Middleware{
		credentials:  credentials,
		limit:        rate.Limit(float64(perMinute) / 60),
		burst:        burst,
		clock:        clk,
		logger:       log.WithComponent("remote"),
		rateLimiters: make(map[string]*limiterEntry),
	}
}

// Authenticate resolves the daemon behind the Authorization header. Every
// failure is reported the same way so callers cannot tell an unknown token
// id from a wrong secret.
func (m *Middleware) Authenticate(r *http.Request) (*types.Node, error) {
	creds, ok := security.ParseAuthHeader(r.Header.Get("Authorization"))
	if !ok {
		return nil, m.deny(r, "malformed authorization header", nil)
	}
	node, err := m.credentials.NodeByTokenID(r.Context(), creds.TokenID)
	if err != nil {
		return nil, m.deny(r, "unknown token id", err)
	}
	expected, err := m.credentials.DecryptToken(node)
	if err != nil {
		return nil, m.deny(r, "stored token could not be decrypted", err)
	}
	if !security.ConstantTimeEqual(creds.Token, expected) {
		return nil, m.deny(r, "token secret mismatch", nil)
	}
	return node, nil
}

func (m *Middleware) deny(r *http.Request, reason string, cause error) error {
	m.logger.Debug().Err(cause).Str("remote_addr", getClientIP(r)).Str("path", r.URL.Path).Msg("Rejected daemon request: " + reason)
	return errdefs.Forbidden("forbidden")
}

// Allow reports whether nodeID may make another request now
func (m *Middleware) Allow(nodeID string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	entry, exists := m.rateLimiters[nodeID]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.rateLimiters[nodeID] = entry
	}
	entry.lastSeen = now
	m.mu.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	if !allowed {
		metrics.RemoteRateLimited.Inc()
		m.logger.Warn().Str("node_id", nodeID).Msg("Rate limit exceeded")
	}
	return allowed
}

// Wrap authenticates and rate limits every request to next
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		node, err := m.Authenticate(r)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		if !m.Allow(node.ID) {
			w.Header().Set("Retry-After", "1")
			httpapi.JSON(w, http.StatusTooManyRequests, httpapi.ErrorResponse{Error: "too many requests"})
			return
		}

		ctx := WithNode(r.Context(), node)
		ctx = audit.WithActor(ctx, audit.Actor{ID: node.ID, Type: types.ActorDaemon, IP: getClientIP(r)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CleanupRateLimiters drops limiters that have been idle for an hour
func (m *Middleware) CleanupRateLimiters() {
	cutoff := m.clock.Now().Add(-limiterIdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for nodeID, entry := range m.rateLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(m.rateLimiters, nodeID)
		}
	}
}

// StartCleanupJob runs CleanupRateLimiters hourly until ctx is done
func (m *Middleware) StartCleanupJob(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupRateLimiters()
			}
		}
	}()
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
