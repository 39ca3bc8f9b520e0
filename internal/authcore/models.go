// Package authcore implements the Auth Core (component G): password
// hashing with a process-wide pepper, login throttling with a hard
// timing floor, JWT access/refresh token issuance and validation, and
// the token blacklist that backs logout.
package authcore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is an account principal.
type User struct {
	ID                  string
	Email               string
	Username            string
	PasswordHash        string
	RoleID              string
	RoleName            string
	IsVerified          bool
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is currently locked out.
func (u User) IsLocked() bool {
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now())
}

// Role is the named permission bucket every user holds exactly one of.
type Role struct {
	ID          string
	Name        string
	Priority    int
	Description string
}

// TokenType distinguishes access tokens from refresh tokens, both in
// the JWT claims and in the blacklist.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	// TokenVerify is carried by email-verification links. The email
	// adapter delivering them is an external collaborator; the core only
	// issues and consumes the token.
	TokenVerify TokenType = "verify"
)

// Claims is the JWT payload shared by every token kind. Role is
// populated on access tokens only; Email on access and verification
// tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// TokenPair is what Login/Refresh hand back to the caller.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessJTI    string
	RefreshJTI   string
	ExpiresAt    time.Time
}

// RegisterRequest is the payload accepted by POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the payload accepted by POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
