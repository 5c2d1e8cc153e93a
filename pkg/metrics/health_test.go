package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   DefaultCriticalComponents,
		startTime:  time.Now(),
		version:    "test",
	}
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{"no components", nil, StatusHealthy},
		{"all healthy", map[string]bool{"raft": true, "nats": true}, StatusHealthy},
		{"optional unhealthy", map[string]bool{"raft": true, "nats": false}, StatusDegraded},
		{"critical unhealthy", map[string]bool{"raft": false, "nats": false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "reason")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "test", health.Version)
		})
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		critical   []string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "all critical ready",
			components: map[string]bool{"raft": true, "storage": true, "api": true},
			wantStatus: "ready",
		},
		{
			name:       "critical missing",
			components: map[string]bool{"raft": true, "storage": true},
			wantStatus: "not_ready",
		},
		{
			name:       "critical unhealthy",
			components: map[string]bool{"raft": false, "storage": true, "api": true},
			wantStatus: "not_ready",
		},
		{
			name:       "optional component does not block",
			components: map[string]bool{"raft": true, "storage": true, "api": true, "nats": false},
			wantStatus: "ready",
		},
		{
			name:       "custom critical list",
			critical:   []string{"api"},
			components: map[string]bool{"api": true},
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			if tt.critical != nil {
				SetCriticalComponents(tt.critical...)
			}
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			assert.Equal(t, tt.wantStatus, GetReadiness().Status)
		})
	}
}

func TestHealthHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		setup    func()
		wantCode int
	}{
		{"health ok", HealthHandler(), func() { RegisterComponent("api", true, "") }, http.StatusOK},
		{"health unhealthy", HealthHandler(), func() { RegisterComponent("api", false, "down") }, http.StatusServiceUnavailable},
		{"ready not ready", ReadyHandler(), func() {}, http.StatusServiceUnavailable},
		{"liveness", LivenessHandler(), func() {}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			tt.setup()

			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["status"])
		})
	}
}

func TestNodeComponents(t *testing.T) {
	resetHealth(t)
	RegisterComponent("raft", true, "")
	RegisterComponent(NodeComponent("n1"), true, "daemon answered")
	RegisterComponent(NodeComponent("n3"), false, "probe failed")
	RegisterComponent(NodeComponent("n2"), false, "probe failed")

	health := GetHealth()
	assert.Equal(t, StatusDegraded, health.Status)
	require.NotNil(t, health.Nodes)
	assert.Equal(t, 1, health.Nodes.Online)
	assert.Equal(t, []string{"n2", "n3"}, health.Nodes.Offline)
	assert.NotContains(t, health.Components, "node:n1")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code, "offline nodes do not fail the control plane")

	RemoveComponent(NodeComponent("n2"))
	RemoveComponent(NodeComponent("n3"))
	assert.Equal(t, StatusHealthy, GetHealth().Status)
}

func TestUpdateComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent("nats", true, "connected")
	UpdateComponent("nats", false, "disconnected")

	comp := healthChecker.components["nats"]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "disconnected", comp.Message)
}
