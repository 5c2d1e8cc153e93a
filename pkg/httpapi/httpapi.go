// Package httpapi holds the JSON and error conventions shared by the admin
// and remote HTTP surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes v with status
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error converts err to a status code and a message that is safe to show
// to the caller. Internal errors are logged.
func Error(w http.ResponseWriter, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	JSON(w, status, ErrorResponse{Error: errdefs.PublicMessage(err)})
}

// Decode reads a JSON body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v interface{}) error {
	return decode(r, v, false)
}

// DecodeRequired is Decode for requests whose zero value means something;
// an empty body is an InvalidArgument error.
func DecodeRequired(r *http.Request, v interface{}) error {
	return decode(r, v, true)
}

func decode(r *http.Request, v interface{}, required bool) error {
	if r.Body == nil || r.ContentLength == 0 {
		if required {
			return errdefs.InvalidArgument("request body is required")
		}
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if required {
				return errdefs.InvalidArgument("request body is required")
			}
			return nil
		}
		return errdefs.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument counts and times requests to next under surface
func Instrument(surface string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, surface)
		metrics.APIRequestsTotal.WithLabelValues(surface, strconv.Itoa(rec.status)).Inc()
	})
}
