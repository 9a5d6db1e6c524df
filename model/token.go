// file: model/token.go

package model

import "time"

// Token is a stored session credential. Only the sha256 hash of the opaque
// value handed to the client is persisted.
type Token struct {
	Hash      string    `json:"-"`
	OwnerID   string    `json:"owner_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuedToken is what the client receives after a successful login.
type IssuedToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}
