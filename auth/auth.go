package auth

import (
	"context"
	"errors"
)

var (
	// ErrNoToken indicates the provider has no credential to offer.
	ErrNoToken = errors.New("no token available")
	// ErrTokenExpired indicates the provider's credential is past its
	// validity window and must not be presented.
	ErrTokenExpired = errors.New("token expired")
)

// TokenProvider supplies the bearer credential a transport attaches before
// each open. Implementations must be safe for concurrent use: reconnection
// re-invokes the provider from the connection manager's control path while
// sends may consult it concurrently.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a provider that always yields the given token.
func Static(token string) TokenProvider {
	return TokenProviderFunc(func(ctx context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}
