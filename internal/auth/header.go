package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// ExtractFromHeader returns the token from an "Authorization: Bearer <token>"
// value. The prefix is case-sensitive. A missing prefix or empty token gives
// ok == false; this is parsing, not authentication.
func ExtractFromHeader(header string) (token string, ok bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token = header[len(bearerPrefix):]
	if token == "" {
		return "", false
	}
	return token, true
}

// PeekClaimsUnverified decodes the payload of token WITHOUT checking the
// signature or any time claim. The result is untrusted and must only be used
// for display hints, never for authorization. It returns nil when the token
// cannot be decoded.
func PeekClaimsUnverified(token string) map[string]interface{} {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}
