package types

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims. Tokens are issued by the identity
// service; this server only verifies them.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
