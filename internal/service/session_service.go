package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/repository"
	"github.com/golang-jwt/jwt/v5"
)

// Session service errors
var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrRevocationCheck    = errors.New("revocation state unavailable")
)

// UserStore is the subset of user persistence the session flows need.
// Implemented by repository.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	IncrementFailedAttempts(ctx context.Context, id int64) (int, error)
	ResetFailedAttempts(ctx context.Context, id int64) error
	LockUntil(ctx context.Context, id int64, until time.Time) error
}

// EventPublisher fans session events out to other instances.
// Implemented by database.Redis.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// SessionService ties credentials, tokens, revocation and the audit trail
// together into login, refresh, authenticate and logout.
type SessionService struct {
	users     UserStore
	tokens    *auth.TokenService
	hasher    *auth.PasswordHasher
	audit     *AuditService
	denylist  auth.Denylist
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewSessionService creates a new SessionService. denylist and publisher may
// be nil, which disables revocation and event fan-out respectively.
func NewSessionService(
	users UserStore,
	tokens *auth.TokenService,
	hasher *auth.PasswordHasher,
	audit *AuditService,
	denylist auth.Denylist,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *SessionService {
	return &SessionService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		audit:     audit,
		denylist:  denylist,
		publisher: publisher,
		metrics:   m,
		log:       log.WithComponent("session_service"),
		now:       time.Now,
	}
}

// Login checks credentials and issues a token pair. Every attempt, failed or
// not, leaves a LOGIN audit record; if that record cannot be written the
// login fails.
func (s *SessionService) Login(ctx context.Context, login, password string, origin *model.Origin) (*auth.TokenPair, *model.User, error) {
	user, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to get user: %w", err)
		}
		s.hasher.VerifyDummy(password)
		return nil, nil, s.loginFailed(ctx, 0, 0, "unknown_login", origin, ErrInvalidCredentials)
	}

	if user.IsLocked(s.now()) {
		return nil, nil, s.loginFailed(ctx, user.ID, user.ScopeID, "account_locked", origin, ErrAccountLocked)
	}

	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		attempts, err := s.users.IncrementFailedAttempts(ctx, user.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to increment failed attempts")
		}
		s.handleFailedLogin(ctx, user.ID, attempts)
		return nil, nil, s.loginFailed(ctx, user.ID, user.ScopeID, "invalid_password", origin, ErrInvalidCredentials)
	}

	if !user.IsActive() {
		return nil, nil, s.loginFailed(ctx, user.ID, user.ScopeID, "account_"+string(user.Status), origin, ErrAccountNotActive)
	}

	if user.FailedAttempts > 0 {
		if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
			s.log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to reset failed attempts")
		}
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}

	pair, err := s.tokens.IssuePair(identityOf(user))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	if _, err := s.audit.RecordLogin(ctx, user.ID, user.ScopeID, true, "", origin); err != nil {
		return nil, nil, err
	}
	s.metrics.ObserveLogin(string(model.OutcomeSuccess))

	s.log.Info().Int64("user_id", user.ID).Str("login", user.Login).Msg("user logged in")
	return pair, user, nil
}

// Refresh mints a new access token from a refresh token. The refresh token
// itself is returned unchanged.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.observeValidation(err)
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.TokenID()); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotActive
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.IsActive() {
		return nil, ErrAccountNotActive
	}
	if user.IsLocked(s.now()) {
		return nil, ErrAccountLocked
	}

	access, err := s.tokens.IssueAccessToken(identityOf(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &auth.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTokenTTL() / time.Second),
	}, nil
}

// Authenticate validates an access token, inactivity window included, and
// consults the denylist.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*auth.AccessClaims, error) {
	claims, err := s.tokens.ValidateAccessToken(token, true)
	if err != nil {
		s.observeValidation(err)
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.TokenID()); err != nil {
		return nil, err
	}
	s.metrics.ObserveTokenValidation("ok")
	return claims, nil
}

// Touch slides the inactivity window of a valid access token.
func (s *SessionService) Touch(token string) (string, error) {
	return s.tokens.RefreshActivity(token)
}

// Logout denylists the access token (and the refresh token when one is
// given), announces the logout and records it in the audit trail.
func (s *SessionService) Logout(ctx context.Context, claims *auth.AccessClaims, refreshToken string, origin *model.Origin) error {
	if err := s.revoke(ctx, claims.TokenID(), claims.ExpiresAt); err != nil {
		return err
	}

	if refreshToken != "" {
		rc, err := s.tokens.ValidateRefreshToken(refreshToken)
		switch {
		case err != nil:
			s.log.Debug().Err(err).Msg("ignoring invalid refresh token on logout")
		case rc.UserID != claims.UserID:
			s.log.Warn().Int64("user_id", claims.UserID).Msg("refresh token on logout belongs to another user")
		default:
			if err := s.revoke(ctx, rc.TokenID(), rc.ExpiresAt); err != nil {
				return err
			}
		}
	}

	s.publish(ctx, model.SessionEvent{
		Type:      "logout",
		UserID:    claims.UserID,
		TokenID:   claims.TokenID(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		At:        s.now().UTC(),
	})

	scopeID, err := s.ScopeOf(ctx, claims.UserID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("logout audited without scope")
	}
	if _, err := s.audit.RecordLogout(ctx, claims.UserID, scopeID, origin); err != nil {
		return err
	}

	s.log.Info().Int64("user_id", claims.UserID).Msg("user logged out")
	return nil
}

// ScopeOf returns the scope the user belongs to, read from the user store
// rather than from anything the caller supplies.
func (s *SessionService) ScopeOf(ctx context.Context, userID int64) (int64, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.ScopeID, nil
}

// Describe reports the lifetime state of the caller's access token.
func (s *SessionService) Describe(token string, claims *auth.AccessClaims) *model.SessionInfo {
	info := &model.SessionInfo{
		UserID:      claims.UserID,
		Login:       claims.Login,
		RoleName:    claims.RoleName,
		ProfileName: claims.ProfileName,
		TokenID:     claims.TokenID(),
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	info.ExpiresIn, _ = s.tokens.TimeToExpiration(token)
	info.InactivityExpiresIn, _ = s.tokens.TimeToInactivityExpiration(token)
	return info
}

func (s *SessionService) checkRevoked(ctx context.Context, tokenID string) error {
	if s.denylist == nil {
		return nil
	}
	revoked, err := s.denylist.IsRevoked(ctx, tokenID)
	if err != nil {
		s.log.Error().Err(err).Msg("revocation check failed")
		return fmt.Errorf("%w: %v", ErrRevocationCheck, err)
	}
	if revoked {
		s.metrics.ObserveTokenValidation("token_revoked")
		return &auth.ValidationError{Kind: auth.ErrRevoked}
	}
	return nil
}

func (s *SessionService) revoke(ctx context.Context, tokenID string, exp *jwt.NumericDate) error {
	if s.denylist == nil || exp == nil {
		return nil
	}
	if err := s.denylist.Revoke(ctx, tokenID, exp.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *SessionService) publish(ctx context.Context, event model.SessionEvent) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode session event")
		return
	}
	if err := s.publisher.Publish(ctx, model.SessionEventsChannel, payload); err != nil {
		s.log.Warn().Err(err).Str("type", event.Type).Msg("failed to publish session event")
	}
}

func (s *SessionService) loginFailed(ctx context.Context, userID, scopeID int64, reason string, origin *model.Origin, cause error) error {
	s.metrics.ObserveLogin(string(model.OutcomeFailure))
	if _, err := s.audit.RecordLogin(ctx, userID, scopeID, false, reason, origin); err != nil {
		return err
	}
	return cause
}

// handleFailedLogin manages progressive account lockout
func (s *SessionService) handleFailedLogin(ctx context.Context, userID int64, attempts int) {
	var lockDuration time.Duration

	switch {
	case attempts >= 20:
		lockDuration = 24 * time.Hour
	case attempts >= 15:
		lockDuration = 2 * time.Hour
	case attempts >= 10:
		lockDuration = 30 * time.Minute
	case attempts >= 5:
		lockDuration = 5 * time.Minute
	default:
		return
	}

	if err := s.users.LockUntil(ctx, userID, s.now().Add(lockDuration)); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to lock account")
		return
	}
	s.log.Warn().
		Int64("user_id", userID).
		Int("attempts", attempts).
		Dur("lock_duration", lockDuration).
		Msg("account locked due to failed attempts")
}

func (s *SessionService) rehash(ctx context.Context, userID int64, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to upgrade password hash")
	}
}

func (s *SessionService) observeValidation(err error) {
	s.metrics.ObserveTokenValidation(ErrorCode(err))
	if errors.Is(err, auth.ErrSignatureInvalid) {
		s.log.SecurityEvent("token_signature_invalid", map[string]interface{}{"error": err.Error()})
	}
}

// ErrorCode maps a token validation error to its stable client-facing code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrRevoked):
		return "token_revoked"
	case errors.Is(err, auth.ErrInactive):
		return "session_inactive"
	case errors.Is(err, auth.ErrExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "token_invalid_signature"
	case errors.Is(err, auth.ErrNotYetValid):
		return "token_not_yet_valid"
	case errors.Is(err, auth.ErrMalformedToken):
		return "token_malformed"
	}
	return "internal_error"
}

func identityOf(u *model.User) auth.Identity {
	return auth.Identity{
		UserID:      u.ID,
		Email:       u.Email,
		Login:       u.Login,
		RoleID:      u.Role.ID,
		RoleName:    u.Role.Name,
		ProfileID:   u.Profile.ID,
		ProfileName: u.Profile.Name,
	}
}
