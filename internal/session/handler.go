package session

import (
	"net/http"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/transport"
)

// Opener builds the Provider for one request.
type Opener interface {
	OpenSession(w http.ResponseWriter, r *http.Request) *Provider
}

type Handler struct {
	*transport.BaseHandler
	Sessions Opener
}

func NewHandler(base *transport.BaseHandler, sessions Opener) *Handler {
	return &Handler{
		BaseHandler: base,
		Sessions:    sessions,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeInvalidRequest))
		return
	}

	p := h.Sessions.OpenSession(w, r)
	p.RememberPath(dto.Next)

	if !p.Login(r.Context(), dto.Identifier, dto.Password) {
		h.WriteAppError(w, p.Reason().AppError())
		return
	}

	h.WriteJSON(w, http.StatusOK, LoginResponse{
		User:       p.CurrentUser().Public(),
		RedirectTo: p.RedirectTarget(),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p := h.Sessions.OpenSession(w, r)
	<-p.Restore(r.Context(), "")
	p.Logout(r.Context())

	h.WriteJSON(w, http.StatusOK, LogoutResponse{LoggingOut: p.IsLoggingOut()})
}

// Current restores the session for the page at ?path= and reports its state.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	p := h.Sessions.OpenSession(w, r)
	<-p.Restore(r.Context(), r.URL.Query().Get("path"))

	h.WriteJSON(w, http.StatusOK, StateResponse{
		State:      p.State(),
		User:       p.CurrentUser().Public(),
		RedirectTo: p.RedirectTarget(),
		Next:       p.RememberedPath(),
	})
}

func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var dto UpdatePasswordDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeInvalidRequest))
		return
	}
	if !h.ValidateRequest(w, dto) {
		return
	}

	p := h.Sessions.OpenSession(w, r)
	<-p.Restore(r.Context(), "")

	if !p.UpdatePassword(r.Context(), dto.OldPassword, dto.NewPassword) {
		h.WriteAppError(w, p.Reason().AppError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
