package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/metrics"
)

func TestErrorHidesDaemonBody(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, errdefs.DaemonRPC(500, "panic: goroutine 1 [running]"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "daemon returned an error (HTTP 500)", body.Error)
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		message  string
	}{
		{"not found", errdefs.NotFound("server not found: abc"), http.StatusNotFound, "server not found: abc"},
		{"forbidden", errdefs.Forbidden("token mismatch"), http.StatusForbidden, "forbidden"},
		{"conflict", errdefs.AllocationConflict("taken"), http.StatusConflict, "taken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Error(w, tt.err)
			assert.Equal(t, tt.expected, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.message+`"}`, w.Body.String())
		})
	}
}

func TestDecode(t *testing.T) {
	var v struct {
		Successful bool `json:"successful"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"successful":true}`))
	require.NoError(t, Decode(r, &v))
	assert.True(t, v.Successful)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	assert.ErrorIs(t, Decode(r, &v), errdefs.ErrInvalidArgument)

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	assert.NoError(t, Decode(r, &v))
}

func TestDecodeRequired(t *testing.T) {
	var v struct {
		Successful bool `json:"successful"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.ErrorIs(t, DecodeRequired(r, &v), errdefs.ErrInvalidArgument)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("   "))
	assert.ErrorIs(t, DecodeRequired(r, &v), errdefs.ErrInvalidArgument)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"successful":false}`))
	require.NoError(t, DecodeRequired(r, &v))
	assert.False(t, v.Successful)
}

func TestInstrumentRecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("test", "418"))

	h := Instrument("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("test", "418")))
}
