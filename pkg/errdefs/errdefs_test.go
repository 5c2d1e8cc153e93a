package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := NotFound("server %s not found", "abc")
	wrapped := fmt.Errorf("load server: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "server abc not found", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, IsDaemonFailure(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", NotFound("x"), http.StatusNotFound},
		{"forbidden", Forbidden("x"), http.StatusForbidden},
		{"invalid state", InvalidState("x"), http.StatusConflict},
		{"allocation conflict", AllocationConflict("x"), http.StatusConflict},
		{"capacity", InsufficientCapacity("x"), http.StatusConflict},
		{"invalid argument", InvalidArgument("x"), http.StatusBadRequest},
		{"configuration", Configuration("x"), http.StatusInternalServerError},
		{"unreachable", DaemonUnreachable("http://n:8080/api", errors.New("refused")), http.StatusBadGateway},
		{"daemon rpc", DaemonRPC(409, "busy"), http.StatusBadGateway},
		{"plain", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesDaemonBody(t *testing.T) {
	err := DaemonRPC(500, "panic: stack trace at /srv/daemon/server.go:12")

	msg := PublicMessage(err)
	assert.Equal(t, "daemon returned an error (HTTP 500)", msg)
	assert.NotContains(t, msg, "stack trace")
	assert.True(t, IsDaemonFailure(err))
}

func TestDaemonUnreachableUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := DaemonUnreachable("http://node:8080/api", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrDaemonUnreachable))
	assert.Equal(t, "daemon could not be reached", PublicMessage(err))
}
