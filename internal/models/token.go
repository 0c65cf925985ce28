package models

import "time"

// Scope discriminates central credentials from tenant credentials.
type Scope string

const (
	ScopeCentral Scope = "central"
	ScopeTenant  Scope = "tenant"
)

// TokenPair is minted on login and on every refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string // <jwt>.<opaque>
	RefreshSecret    string // opaque half, hashed by the caller
	RefreshExpiresAt time.Time
}

// TokenResponse is the wire form of a successful login or refresh.
type TokenResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int          `json:"expiresIn"`
	User         *UserSummary `json:"user"`
}

// Token Refresh Request
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}
