package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInspector reads the expiry of JWT bearer tokens without verifying
// their signature. The server remains the authority; this only saves a
// probe call for tokens that are certainly stale.
type TokenInspector struct {
	Leeway time.Duration
}

// Expired reports whether token carries an exp claim earlier than now plus
// the leeway. Opaque tokens and tokens without exp are never considered
// expired.
func (i TokenInspector) Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Add(i.Leeway).Before(exp.Time)
}
