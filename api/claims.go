package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields of the session JWT the client cares about. They
// are read without verifying the signature; only the server can do that.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims decodes token without signature verification.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	var out Claims
	if sub, err := mc.GetSubject(); err == nil {
		out.Subject = sub
	}
	if out.Subject == "" {
		if id, ok := mc["id"].(string); ok {
			out.Subject = id
		}
	}
	if role, ok := mc["role"].(string); ok {
		out.Role = role
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}
