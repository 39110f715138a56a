package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeRefresh is the value of the "type" claim carried by refresh tokens.
const TokenTypeRefresh = "refresh"

// Identity is the subject, role and profile a token is issued for.
type Identity struct {
	UserID      int64  `json:"id"`
	Email       string `json:"email"`
	Login       string `json:"login"`
	RoleID      int64  `json:"roleId"`
	RoleName    string `json:"roleName"`
	ProfileID   int64  `json:"profilId"`
	ProfileName string `json:"profilName"`
}

// Claims is implemented only by *AccessClaims and *RefreshClaims. Switch on
// the concrete type to read variant-specific fields.
type Claims interface {
	jwt.Claims
	TokenID() string
	SubjectID() int64
	sealed()
}

// AccessClaims are the claims of a short-lived access token.
//
// Tokens are signed, not encrypted: anyone holding one can read these claims.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID       int64            `json:"id"`
	Email        string           `json:"email"`
	Login        string           `json:"login"`
	RoleID       int64            `json:"roleId"`
	RoleName     string           `json:"roleName"`
	ProfileID    int64            `json:"profilId"`
	ProfileName  string           `json:"profilName"`
	LastActivity *jwt.NumericDate `json:"last_activity,omitempty"`
}

// RefreshClaims are the claims of a long-lived refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"id"`
	Type   string `json:"type"`
}

func (c *AccessClaims) TokenID() string  { return c.ID }
func (c *AccessClaims) SubjectID() int64 { return c.UserID }
func (c *AccessClaims) sealed()          {}

// Identity returns the identity fields carried by the token.
func (c *AccessClaims) Identity() Identity {
	return Identity{
		UserID:      c.UserID,
		Email:       c.Email,
		Login:       c.Login,
		RoleID:      c.RoleID,
		RoleName:    c.RoleName,
		ProfileID:   c.ProfileID,
		ProfileName: c.ProfileName,
	}
}

func (c *RefreshClaims) TokenID() string  { return c.ID }
func (c *RefreshClaims) SubjectID() int64 { return c.UserID }
func (c *RefreshClaims) sealed()          {}

// wireClaims is the union of both variants, used to decode a token before
// deciding which one it is.
type wireClaims struct {
	jwt.RegisteredClaims
	UserID       *int64           `json:"id"`
	Type         string           `json:"type,omitempty"`
	Email        *string          `json:"email"`
	Login        *string          `json:"login"`
	RoleID       *int64           `json:"roleId"`
	RoleName     *string          `json:"roleName"`
	ProfileID    *int64           `json:"profilId"`
	ProfileName  *string          `json:"profilName"`
	LastActivity *jwt.NumericDate `json:"last_activity"`
}

func (w *wireClaims) resolve() (Claims, error) {
	if w.UserID == nil {
		return nil, errors.New("id claim missing")
	}
	if w.ID == "" {
		return nil, errors.New("jti claim missing")
	}

	switch w.Type {
	case TokenTypeRefresh:
		return &RefreshClaims{
			RegisteredClaims: w.RegisteredClaims,
			UserID:           *w.UserID,
			Type:             w.Type,
		}, nil
	case "":
	default:
		return nil, errors.New("unknown token type")
	}

	if w.Email == nil || w.Login == nil || w.RoleID == nil || w.RoleName == nil ||
		w.ProfileID == nil || w.ProfileName == nil {
		return nil, errors.New("access claims missing")
	}

	return &AccessClaims{
		RegisteredClaims: w.RegisteredClaims,
		UserID:           *w.UserID,
		Email:            *w.Email,
		Login:            *w.Login,
		RoleID:           *w.RoleID,
		RoleName:         *w.RoleName,
		ProfileID:        *w.ProfileID,
		ProfileName:      *w.ProfileName,
		LastActivity:     w.LastActivity,
	}, nil
}
