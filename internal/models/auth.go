package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims carries the identity asserted by the admin console's
// access token. The engine itself is role-blind; only the HTTP gate
// inspects Role.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
