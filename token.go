package tahan

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenLifetime is assumed when neither the authenticator nor the
// access token itself says when a token expires.
const DefaultTokenLifetime = time.Hour

// DefaultTokenType is used when the authenticator leaves TokenType empty.
const DefaultTokenType = "Bearer"

// Token is an access credential with its refresh counterpart.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Credentials are handed to Authenticator.Login unchanged.
type Credentials struct {
	Username string
	Password string
	// Scopes is optional and only meaningful to authenticators that use it.
	Scopes []string
}

// IsZero reports whether t holds no access token.
func (t *Token) IsZero() bool {
	return t == nil || t.AccessToken == ""
}

// Usable reports whether t can be sent at now without entering the expiry
// buffer.
func (t *Token) Usable(now time.Time, buffer time.Duration) bool {
	if t.IsZero() {
		return false
	}
	return t.ExpiresAt.Sub(now) >= buffer
}

// Expired reports whether t is past ExpiresAt at now.
func (t *Token) Expired(now time.Time) bool {
	return t.IsZero() || !now.Before(t.ExpiresAt)
}

// AuthorizationHeader renders the value for the Authorization header.
func (t *Token) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + t.AccessToken
}

func (t *Token) clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// normalizeToken fills the fields an authenticator may leave out. The result
// is a copy; tok is not modified.
func normalizeToken(tok *Token, now time.Time) *Token {
	out := tok.clone()
	if out.TokenType == "" {
		out.TokenType = DefaultTokenType
	}
	if out.ExpiresAt.IsZero() {
		if exp, ok := jwtExpiry(out.AccessToken); ok {
			out.ExpiresAt = exp
		} else {
			out.ExpiresAt = now.Add(DefaultTokenLifetime)
		}
	}
	return out
}

// jwtExpiry reads the exp claim of a JWT access token. The signature is not
// checked; the value is only used to schedule refreshes.
func jwtExpiry(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
