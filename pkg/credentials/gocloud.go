package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gocloud.dev/secrets"
	// Keeper drivers are opt-in; import the one your deployment uses:
	// _ "gocloud.dev/secrets/awskms"
	// _ "gocloud.dev/secrets/gcpkms"
	// _ "gocloud.dev/secrets/azurekeyvault"
	// _ "gocloud.dev/secrets/hashivault"
	// _ "gocloud.dev/secrets/localsecrets"
)

// DefaultCacheTTL is how long decrypted credentials are served from cache.
const DefaultCacheTTL = 5 * time.Minute

// SecretProvider decrypts credentials from a Go Cloud secrets keeper. The
// secret payload is JSON of the Credentials shape.
type SecretProvider struct {
	keeper   *secrets.Keeper
	cacheTTL time.Duration

	mu          sync.Mutex
	cached      Credentials
	cacheExpiry time.Time
	closed      bool
}

// SecretProviderOption configures a SecretProvider.
type SecretProviderOption func(*SecretProvider)

// WithCacheTTL overrides how long decrypted credentials are cached.
func WithCacheTTL(ttl time.Duration) SecretProviderOption {
	return func(p *SecretProvider) { p.cacheTTL = ttl }
}

// NewSecretProvider opens the keeper at url. URL schemes follow Go Cloud:
// "awskms://...", "gcpkms://...", "azurekeyvault://...", "hashivault://...",
// "base64key://..." for local development.
func NewSecretProvider(ctx context.Context, url string, opts ...SecretProviderOption) (*SecretProvider, error) {
	keeper, err := secrets.OpenKeeper(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open secret keeper: %w", err)
	}

	p := &SecretProvider{
		keeper:   keeper,
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Credentials implements Provider, decrypting the secret on cache misses.
func (p *SecretProvider) Credentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Credentials{}, ErrProviderClosed
	}
	if time.Now().Before(p.cacheExpiry) {
		return p.cached, nil
	}

	plaintext, err := p.keeper.Decrypt(ctx, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}

	p.cached = creds
	p.cacheExpiry = time.Now().Add(p.cacheTTL)
	return creds, nil
}

// Close releases the keeper.
func (p *SecretProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.keeper.Close()
}
