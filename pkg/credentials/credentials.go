// Package credentials supplies database credentials to the postgres store,
// either statically or decrypted from a Go Cloud secrets keeper.
package credentials

import (
	"context"
	"errors"
)

// ErrProviderClosed is returned after Close.
var ErrProviderClosed = errors.New("credential provider is closed")

// Credentials is a database user and password pair.
type Credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Validate checks that the credentials are usable.
func (c Credentials) Validate() error {
	if c.User == "" {
		return errors.New("credentials: user is required")
	}
	return nil
}

// Provider yields the current credentials. Implementations may cache and
// refresh behind the scenes.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static is a Provider with fixed credentials, for development and tests.
type Static struct {
	User     string
	Password string
}

// Credentials implements Provider.
func (s Static) Credentials(ctx context.Context) (Credentials, error) {
	creds := Credentials{User: s.User, Password: s.Password}
	return creds, creds.Validate()
}
