package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/requestctx"
	"github.com/watzon/vine/internal/scheduler"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

// Text writes a plain-text body.
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// Classify maps an orchestrator error onto an HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidArgument):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, scheduler.ErrNotRegistered):
		return http.StatusConflict, "NOT_REGISTERED"
	case errors.Is(err, scheduler.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// FromError writes the JSON error response for err. Validation messages are
// returned as-is; internal failures get the caller's summary instead of the
// wrapped chain.
func FromError(w http.ResponseWriter, r *http.Request, err error, summary string) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		requestctx.Logger(r.Context()).Error().Err(err).Int("status", status).Msg(summary)
		Error(w, status, code, summary)
		return
	}
	Error(w, status, code, err.Error())
}
