package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Kind      goSession.ErrorKind `json:"kind"`
	Message   string              `json:"message"`
	RequestID string              `json:"request_id,omitempty"`
}

// StatusFor returns the HTTP status for an Engine error kind.
func StatusFor(kind goSession.ErrorKind) int {
	switch kind {
	case goSession.KindInvalidInput:
		return http.StatusBadRequest
	case goSession.KindUnauthorized:
		return http.StatusUnauthorized
	case goSession.KindPermissionRequired:
		return http.StatusForbidden
	case goSession.KindNotFound, goSession.KindNoActiveTarget:
		return http.StatusNotFound
	case goSession.KindConflict:
		return http.StatusConflict
	case goSession.KindRateLimited:
		return http.StatusTooManyRequests
	case goSession.KindDispatchFailed, goSession.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := goSession.KindOf(err)
	status := StatusFor(kind)
	reqID := RequestIDFromContext(r.Context())

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		level := slog.LevelWarn
		if kind == goSession.KindInternal {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "request failed",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"kind", string(kind),
			"err", err,
		)
		msg = http.StatusText(status)
	}

	writeJSON(w, status, ErrorResponse{Kind: kind, Message: msg, RequestID: reqID})
}
