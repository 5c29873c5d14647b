package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the token belongs to an administrative role.
func (c *JWTClaims) IsStaff() bool {
	return c != nil && c.Role.IsStaff()
}

// Is reports whether the token belongs to userID.
func (c *JWTClaims) Is(userID string) bool {
	return c != nil && c.UserID != "" && c.UserID == userID
}
