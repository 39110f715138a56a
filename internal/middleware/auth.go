package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/service"
)

// RefreshedTokenHeader carries the access token with a renewed last_activity.
const RefreshedTokenHeader = "X-Refreshed-Token"

// Context keys for authenticated request data
const (
	ClaimsKey contextKey = "claims"
	TokenKey  contextKey = "access_token"
)

// Authenticator validates access tokens and slides their inactivity window.
// Implemented by service.SessionService.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AccessClaims, error)
	Touch(token string) (string, error)
}

// Auth rejects requests without a valid, non-revoked, non-idle access token.
// On success the claims are stored in the context and a refreshed token is
// returned in the X-Refreshed-Token header.
func (m *Middleware) Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.ExtractFromHeader(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				m.rejectToken(w, r, token, err)
				return
			}

			if refreshed, err := authn.Touch(token); err == nil {
				w.Header().Set(RefreshedTokenHeader, refreshed)
				token = refreshed
			} else {
				m.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("failed to refresh activity")
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = context.WithValue(ctx, TokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *Middleware) rejectToken(w http.ResponseWriter, r *http.Request, token string, err error) {
	var verr *auth.ValidationError
	if !errors.As(err, &verr) {
		if errors.Is(err, service.ErrRevocationCheck) {
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Session state is temporarily unavailable")
			return
		}
		m.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("authentication failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	code := service.ErrorCode(err)
	m.log.Debug().Err(err).Str("code", code).Msg("token rejected")

	if errors.Is(err, auth.ErrNotYetValid) {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter(token), 10))
	}
	writeError(w, http.StatusUnauthorized, code, messages[code])
}

var messages = map[string]string{
	"token_revoked":           "The access token has been revoked",
	"session_inactive":        "The session expired due to inactivity",
	"token_expired":           "The access token has expired",
	"token_invalid_signature": "The access token signature is invalid",
	"token_not_yet_valid":     "The access token is not valid yet",
	"token_malformed":         "The access token is malformed",
}

// retryAfter returns the whole seconds until the token's nbf, at least 1.
func retryAfter(token string) int64 {
	claims := auth.PeekClaimsUnverified(token)
	nbf, ok := claims["nbf"].(float64)
	if !ok {
		return 1
	}
	wait := int64(math.Ceil(nbf - float64(time.Now().Unix())))
	if wait < 1 {
		return 1
	}
	return wait
}

// ClaimsFromContext returns the claims stored by Auth.
func ClaimsFromContext(ctx context.Context) (*auth.AccessClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.AccessClaims)
	return claims, ok
}

// TokenFromContext returns the access token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}
