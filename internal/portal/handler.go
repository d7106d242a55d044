package portal

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/guard"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/transport"
)

type ReportAccessResponse struct {
	ReportID string `json:"report_id"`
	Allowed  bool   `json:"allowed"`
}

// AccessHandler exposes the resolver and the guard to the browser.
type AccessHandler struct {
	*transport.BaseHandler
	Guard  *guard.Guard
	Loader guard.SessionLoader
}

func NewAccessHandler(base *transport.BaseHandler, g *guard.Guard, loader guard.SessionLoader) *AccessHandler {
	return &AccessHandler{
		BaseHandler: base,
		Guard:       g,
		Loader:      loader,
	}
}

// Summary lists the level of every bound feature. A failed permission fetch
// yields an all-none summary.
func (h *AccessHandler) Summary(w http.ResponseWriter, r *http.Request) {
	state, perms := h.Loader.LoadSession(w, r, "")
	if state != session.StateAuthenticated {
		h.WriteAppError(w, internal.ErrNoCurrentUser)
		return
	}
	h.WriteJSON(w, http.StatusOK, h.Guard.Resolver().Summarize(perms.Record))
}

// Route returns the guard decision for ?path= without navigating.
func (h *AccessHandler) Route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.WriteAppError(w, internal.NewValidationFieldError("path", "path is required", internal.ErrCodeValidationFailed))
		return
	}

	state, perms := h.Loader.LoadSession(w, r, path)
	h.WriteJSON(w, http.StatusOK, h.Guard.Decide(state, perms, path))
}

func (h *AccessHandler) Report(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	state, perms := h.Loader.LoadSession(w, r, "")
	if state != session.StateAuthenticated {
		h.WriteAppError(w, internal.ErrNoCurrentUser)
		return
	}
	h.WriteJSON(w, http.StatusOK, ReportAccessResponse{
		ReportID: reportID,
		Allowed:  access.HasReportAccess(perms.Record, reportID),
	})
}
