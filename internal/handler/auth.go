package handler

import (
	"errors"
	"net/http"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/middleware"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/service"
)

// --- Login Handler ---

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	*auth.TokenPair
	User *model.User `json:"user"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Login and password are required")
		return
	}

	pair, user, err := h.sessionSvc.Login(r.Context(), req.Login, req.Password, originOf(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid login or password")
		case errors.Is(err, service.ErrAccountLocked):
			writeError(w, http.StatusLocked, "account_locked", "Account is temporarily locked")
		case errors.Is(err, service.ErrAccountNotActive):
			writeError(w, http.StatusForbidden, "account_not_active", "Account is not active")
		default:
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{TokenPair: pair, User: user})
}

// --- Token Handlers ---

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken exchanges a refresh token for a new access token
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Refresh token is required")
		return
	}

	pair, err := h.sessionSvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type tokenHintRequest struct {
	Token string `json:"token"`
}

// TokenHint decodes a token's claims without verifying it, so clients can
// show who a stale token belonged to. Nothing in the response is trusted.
func (h *Handler) TokenHint(w http.ResponseWriter, r *http.Request) {
	var req tokenHintRequest
	if err := readJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Token is required")
		return
	}

	claims := auth.PeekClaimsUnverified(req.Token)
	if claims == nil {
		writeError(w, http.StatusBadRequest, "token_malformed", "Token could not be decoded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verified": false,
		"claims":   claims,
	})
}

// --- Logout Handler ---

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Logout revokes the caller's access token and, optionally, its refresh token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req logoutRequest
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
			return
		}
	}

	if err := h.sessionSvc.Logout(r.Context(), claims, req.RefreshToken, originOf(r)); err != nil {
		h.log.Error().Err(err).Int64("user_id", claims.UserID).Msg("logout failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Logout failed")
		return
	}

	// The refreshed token set by the auth middleware is revoked as well.
	w.Header().Del(middleware.RefreshedTokenHeader)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnauthorized, service.ErrorCode(err), verr.Error())
	case errors.Is(err, service.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account_locked", "Account is temporarily locked")
	case errors.Is(err, service.ErrAccountNotActive):
		writeError(w, http.StatusForbidden, "account_not_active", "Account is not active")
	case errors.Is(err, service.ErrRevocationCheck):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Session state is temporarily unavailable")
	default:
		h.log.Error().Err(err).Msg("token refresh failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Token refresh failed")
	}
}
