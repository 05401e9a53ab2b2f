package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carried by admin API tokens. TenantID scopes every request to one
// tenant's routing configuration.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
