package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an error response with a bare message.
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.WriteAppError(w, &internal.AppError{
		Type:       internal.ErrorTypeValidation,
		Code:       internal.ErrCodeInvalidRequest,
		Message:    message,
		StatusCode: status,
	})
}

// WriteAppError writes the {"error": {...}} envelope for err.
func (h *BaseHandler) WriteAppError(w http.ResponseWriter, err *internal.AppError) {
	if err.StatusCode >= http.StatusInternalServerError {
		h.Logger.Error("http error", "status", err.StatusCode, "code", err.Code, "error", err)
	} else {
		h.Logger.Debug("http error", "status", err.StatusCode, "code", err.Code, "message", err.Message)
	}
	status, body := err.ToHTTPResponse()
	h.WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
func (h *BaseHandler) DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Validatable is a request body that can check itself.
type Validatable interface {
	Validate() error
}

// ValidateRequest writes a 400 and reports false when v is invalid. Plain
// errors are wrapped so their text never reaches the client.
func (h *BaseHandler) ValidateRequest(w http.ResponseWriter, v Validatable) bool {
	err := v.Validate()
	if err == nil {
		return true
	}
	appErr, ok := internal.IsAppError(err)
	if !ok {
		appErr = internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).WithCause(err)
	}
	h.WriteAppError(w, appErr)
	return false
}
