package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/braid/internal/branch"
	"github.com/flemzord/braid/internal/engine"
	"github.com/flemzord/braid/internal/provider"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, branch.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, branch.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, provider.ErrRateLimit):
		status = http.StatusTooManyRequests
	case errors.Is(err, provider.ErrContextLength):
		status = http.StatusBadRequest
	case errors.Is(err, provider.ErrAuthentication):
		status = http.StatusBadGateway
	case errors.Is(err, provider.ErrProviderDown), errors.Is(err, provider.ErrNoProvider):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer; the
// websocket upgrade needs the hijacker through it.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
