package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/storage"
)

type fakeLeadership struct {
	leader     bool
	leaderAddr string
}

func (f fakeLeadership) IsLeader() bool     { return f.leader }
func (f fakeLeadership) LeaderAddr() string { return f.leaderAddr }

func newHealthStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE request fails", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, Version, response.Version)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

// TestReadyHandler covers the leader and storage checks
func TestReadyHandler(t *testing.T) {
	store := newHealthStore(t)

	tests := []struct {
		name           string
		cluster        Leadership
		store          storage.Store
		expectedStatus int
		raft           string
		storage        string
	}{
		{
			name:           "leader with store",
			cluster:        fakeLeadership{leader: true},
			store:          store,
			expectedStatus: http.StatusOK,
			raft:           "leader",
			storage:        "ok",
		},
		{
			name:           "follower with known leader",
			cluster:        fakeLeadership{leaderAddr: "10.0.0.1:7946"},
			store:          store,
			expectedStatus: http.StatusOK,
			raft:           "follower (leader: 10.0.0.1:7946)",
			storage:        "ok",
		},
		{
			name:           "no leader elected",
			cluster:        fakeLeadership{},
			store:          store,
			expectedStatus: http.StatusServiceUnavailable,
			raft:           "no leader elected",
			storage:        "ok",
		},
		{
			name:           "not initialized",
			expectedStatus: http.StatusServiceUnavailable,
			raft:           "not initialized",
			storage:        "not initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hs *HealthServer
			if tt.store == nil {
				hs = NewHealthServer(tt.cluster, nil)
			} else {
				hs = NewHealthServer(tt.cluster, tt.store)
			}

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.readyHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.raft, response.Checks["raft"])
			assert.Equal(t, tt.storage, response.Checks["storage"])
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "ready", response.Status)
			} else {
				assert.Equal(t, "not ready", response.Status)
				assert.NotEmpty(t, response.Message)
			}
		})
	}
}

// TestReadyHandlerStorageError reports a closed store as not ready
func TestReadyHandlerStorageError(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	hs := NewHealthServer(fakeLeadership{leader: true}, store)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Contains(t, response.Checks["storage"], "error")
	assert.Equal(t, "Storage not accessible", response.Message)
}

// TestHealthServerRoutes checks every route is mounted
func TestHealthServerRoutes(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer(fakeLeadership{leader: true}, nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.readyHandler(w, req)
	}
}
