package handlers

import (
	"encoding/json"
	"net/http"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/correlation"
)

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Kind          errors.ErrorType  `json:"kind"`
	Message       string            `json:"message"`
	Fields        map[string]string `json:"fields,omitempty"`
	Retryable     bool              `json:"retryable"`
	Step          errors.Step       `json:"step,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status
func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeIntegrity:
		return http.StatusConflict
	case errors.ErrTypeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrTypeServerUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrTypeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.UnknownError("internal error", err)
	}
	status := statusFor(appErr.Type)

	log := h.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", err, logging.String("kind", string(appErr.Type)))
	} else {
		log.Warn("Request rejected",
			logging.String("kind", string(appErr.Type)),
			logging.String("message", appErr.Message))
	}

	resp := ErrorResponse{
		Kind:      appErr.Type,
		Message:   appErr.Message,
		Fields:    appErr.Fields,
		Retryable: appErr.Retryable,
		Step:      appErr.Step,
	}
	if c, ok := correlation.FromContext(r.Context()); ok {
		resp.CorrelationID = c.ID
	}
	if appErr.Type == errors.ErrTypeUnknown || appErr.Type == errors.ErrTypeConfiguration {
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}
