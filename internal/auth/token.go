package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelog/authcore/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default lifetimes, applied when the corresponding config value is zero.
const (
	DefaultAccessTokenTTL    = 900 * time.Second
	DefaultInactivityTimeout = 900 * time.Second
	DefaultRefreshTokenTTL   = 604800 * time.Second
)

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// TokenService issues and validates HS256 tokens with both an absolute
// lifetime and a sliding inactivity window. It holds no mutable state and is
// safe for concurrent use.
type TokenService struct {
	key               []byte
	accessTTL         time.Duration
	inactivityTimeout time.Duration
	refreshTTL        time.Duration
	now               func() time.Time
	parser            *jwt.Parser
}

// NewTokenService creates a TokenService. It fails with ErrConfiguration when
// the secret is empty or a lifetime is negative.
func NewTokenService(cfg config.TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, invalid(ErrConfiguration, errors.New("signing secret is empty"))
	}
	if cfg.AccessTokenTTL < 0 || cfg.InactivityTimeout < 0 || cfg.RefreshTokenTTL < 0 {
		return nil, invalid(ErrConfiguration, errors.New("token lifetimes must not be negative"))
	}

	s := &TokenService{
		key:               signingKey(cfg.Secret),
		accessTTL:         orDefault(cfg.AccessTokenTTL, DefaultAccessTokenTTL),
		inactivityTimeout: orDefault(cfg.InactivityTimeout, DefaultInactivityTimeout),
		refreshTTL:        orDefault(cfg.RefreshTokenTTL, DefaultRefreshTokenTTL),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)

	return s, nil
}

// signingKey decodes a strict base64 secret to its raw bytes; any other
// value is used as-is.
func signingKey(secret string) []byte {
	if decoded, err := base64.StdEncoding.Strict().DecodeString(secret); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(secret)
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// AccessTokenTTL returns the configured absolute access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration { return s.accessTTL }

// InactivityTimeout returns the configured inactivity window.
func (s *TokenService) InactivityTimeout() time.Duration { return s.inactivityTimeout }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTokenTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a new access token for id, with last_activity set to now.
func (s *TokenService) IssueAccessToken(id Identity) (string, error) {
	now := s.now()
	claims := &AccessClaims{
		RegisteredClaims: s.registered(now, s.accessTTL),
		UserID:           id.UserID,
		Email:            id.Email,
		Login:            id.Login,
		RoleID:           id.RoleID,
		RoleName:         id.RoleName,
		ProfileID:        id.ProfileID,
		ProfileName:      id.ProfileName,
		LastActivity:     jwt.NewNumericDate(now),
	}
	return s.sign(claims)
}

// IssueRefreshToken signs a refresh token for userID. It carries no
// last_activity and is never subject to the inactivity window.
func (s *TokenService) IssueRefreshToken(userID int64) (string, error) {
	claims := &RefreshClaims{
		RegisteredClaims: s.registered(s.now(), s.refreshTTL),
		UserID:           userID,
		Type:             TokenTypeRefresh,
	}
	return s.sign(claims)
}

// IssuePair issues an access and a refresh token for id.
func (s *TokenService) IssuePair(id Identity) (*TokenPair, error) {
	access, err := s.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(id.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *TokenService) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm, exp, nbf and structure, then the
// inactivity window when checkInactivity is set and the token is an access
// token. The returned Claims is either *AccessClaims or *RefreshClaims.
func (s *TokenService) Validate(tokenString string, checkInactivity bool) (Claims, error) {
	if err := s.checkStructure(tokenString); err != nil {
		return nil, err
	}

	wire := &wireClaims{}
	if _, err := s.parser.ParseWithClaims(tokenString, wire, s.keyFunc); err != nil {
		return nil, classify(err)
	}

	claims, err := wire.resolve()
	if err != nil {
		return nil, invalid(ErrMalformedToken, err)
	}

	if access, ok := claims.(*AccessClaims); ok && checkInactivity {
		if err := s.checkIdle(access); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// ValidateAccessToken validates tokenString and requires it to be an access token.
func (s *TokenService) ValidateAccessToken(tokenString string, checkInactivity bool) (*AccessClaims, error) {
	claims, err := s.Validate(tokenString, checkInactivity)
	if err != nil {
		return nil, err
	}
	access, ok := claims.(*AccessClaims)
	if !ok {
		return nil, invalid(ErrMalformedToken, errors.New("refresh token used as access token"))
	}
	return access, nil
}

// ValidateRefreshToken validates tokenString and requires it to be a refresh token.
func (s *TokenService) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims, err := s.Validate(tokenString, false)
	if err != nil {
		return nil, err
	}
	refresh, ok := claims.(*RefreshClaims)
	if !ok {
		return nil, invalid(ErrMalformedToken, errors.New("access token used as refresh token"))
	}
	return refresh, nil
}

// RefreshActivity re-signs a valid access token with last_activity set to
// now. Every other claim, exp included, is carried over unchanged. The
// inactivity window is not checked; signature and exp are.
func (s *TokenService) RefreshActivity(tokenString string) (string, error) {
	access, err := s.ValidateAccessToken(tokenString, false)
	if err != nil {
		return "", err
	}

	refreshed := *access
	refreshed.LastActivity = jwt.NewNumericDate(s.now())
	return s.sign(&refreshed)
}

// TimeToExpiration returns the whole seconds until exp. ok is false when the
// token does not validate (inactivity included).
func (s *TokenService) TimeToExpiration(tokenString string) (seconds int64, ok bool) {
	claims, err := s.Validate(tokenString, true)
	if err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return wholeSeconds(exp.Sub(s.now())), true
}

// TimeToInactivityExpiration returns the whole seconds left in the inactivity
// window. ok is false for invalid tokens and for tokens without last_activity.
func (s *TokenService) TimeToInactivityExpiration(tokenString string) (seconds int64, ok bool) {
	access, err := s.ValidateAccessToken(tokenString, true)
	if err != nil || access.LastActivity == nil {
		return 0, false
	}
	deadline := access.LastActivity.Add(s.inactivityTimeout)
	return wholeSeconds(deadline.Sub(s.now())), true
}

// checkStructure makes sure header and payload decode as JSON before the jwt
// parser runs. After that, a malformed report from the parser can only concern
// the signature segment.
func (s *TokenService) checkStructure(tokenString string) error {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return invalid(ErrMalformedToken, errors.New("token must have three segments"))
	}

	var header map[string]interface{}
	targets := []interface{}{&header, &wireClaims{}}
	for i, target := range targets {
		raw, err := s.parser.DecodeSegment(parts[i])
		if err != nil {
			return invalid(ErrMalformedToken, err)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return invalid(ErrMalformedToken, err)
		}
	}
	return nil
}

func (s *TokenService) checkIdle(access *AccessClaims) error {
	if access.LastActivity == nil {
		return nil
	}
	if s.now().Sub(access.LastActivity.Time) > s.inactivityTimeout {
		return invalid(ErrInactive, nil)
	}
	return nil
}

func (s *TokenService) keyFunc(*jwt.Token) (interface{}, error) {
	return s.key, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid(ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return invalid(ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid(ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		// Header and payload were already checked, so the signature segment is unreadable.
		return invalid(ErrSignatureInvalid, err)
	default:
		return invalid(ErrMalformedToken, err)
	}
}

func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// HashToken returns a short fingerprint of a token, safe to put in logs.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
