package httpapi

import (
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/signalsfoundry/railsection-simulator/internal/control"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
)

// ErrorResponse is the JSON error body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusCode maps a simulator error onto an HTTP status, using the same
// classification as the gRPC surface.
func StatusCode(err error) int {
	switch control.Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := control.Code(err)
	status := StatusCode(err)
	log := logging.FromContextOr(r.Context(), logging.Noop())
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", logging.String("path", r.URL.Path), logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.String("path", r.URL.Path), logging.Err(err))
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code.String()})
}
