package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/httpapi"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/security"
	"github.com/cuemby/paddock/pkg/types"
)

// adminActor is the audit actor for requests made with the API key
const adminActor = "admin"

// RequireAPIKey rejects requests that do not carry "Bearer <key>". An
// empty key rejects everything.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := bearerToken(r.Header.Get("Authorization"))
		if key == "" || !ok || !security.ConstantTimeEqual(presented, key) {
			logger := log.WithComponent("api")
			logger.Debug().Str("path", r.URL.Path).Msg("Rejected admin request")
			httpapi.Error(w, errdefs.Forbidden("forbidden"))
			return
		}

		ctx := audit.WithActor(r.Context(), audit.Actor{
			ID:   adminActor,
			Type: types.ActorUser,
			IP:   clientIP(r),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
