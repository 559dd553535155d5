package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTProvider wraps a JWT bearer token and enforces its validity window
// locally: an expired or not-yet-valid token is never presented to the peer.
// The token is parsed without signature verification, since verification is
// the peer's job; the provider only reads the claims it carries.
type JWTProvider struct {
	leeway time.Duration

	mu        sync.Mutex
	token     string
	notBefore time.Time
	expiresAt time.Time
}

// JWTOption customizes a JWTProvider.
type JWTOption func(*JWTProvider)

// WithLeeway tolerates clock skew of up to d when checking the validity
// window.
func WithLeeway(d time.Duration) JWTOption {
	return func(p *JWTProvider) { p.leeway = d }
}

// NewJWTProvider parses the token's registered claims and returns a provider
// gated on them. Tokens without exp are served indefinitely.
func NewJWTProvider(token string, opts ...JWTOption) (*JWTProvider, error) {
	p := &JWTProvider{}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.SetToken(token); err != nil {
		return nil, err
	}
	return p, nil
}

// SetToken replaces the wrapped token, re-reading its validity claims.
func (p *JWTProvider) SetToken(token string) error {
	if token == "" {
		return ErrNoToken
	}

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("parse token claims: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.notBefore = time.Time{}
	p.expiresAt = time.Time{}
	if claims.NotBefore != nil {
		p.notBefore = claims.NotBefore.Time
	}
	if claims.ExpiresAt != nil {
		p.expiresAt = claims.ExpiresAt.Time
	}
	return nil
}

func (p *JWTProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.notBefore.IsZero() && now.Add(p.leeway).Before(p.notBefore) {
		return "", fmt.Errorf("token not valid before %s: %w", p.notBefore.Format(time.RFC3339), ErrNoToken)
	}
	if !p.expiresAt.IsZero() && now.After(p.expiresAt.Add(p.leeway)) {
		return "", fmt.Errorf("token expired at %s: %w", p.expiresAt.Format(time.RFC3339), ErrTokenExpired)
	}
	return p.token, nil
}
