package handler

import (
	"net/http"

	"github.com/carelog/authcore/internal/middleware"
)

// GetSession reports who the caller is and how long the session has left
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, h.sessionSvc.Describe(middleware.TokenFromContext(r.Context()), claims))
}
