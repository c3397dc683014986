// Package cache stores encoded captcha artifacts keyed by their resolved
// configuration.
//
// A generation session is a pure function of its configuration and seed, so
// an artifact produced with a fixed seed can be served again without
// rendering a single frame. Three backends implement [Cache]:
//   - [FileCache] for the CLI (~/.cache/animcaptcha)
//   - [RedisCache] for the HTTP API when several instances share a cache
//   - [NullCache] when caching is disabled
package cache

import (
	"context"
	"time"
)

// TTLArtifact is how long an encoded artifact stays cached.
const TTLArtifact = 7 * 24 * time.Hour

// Cache is a byte-oriented key/value store with expiration.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A zero ttl never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// ArtifactKeyOpts holds the inputs that change an artifact's bytes without
// being part of the hashed configuration.
type ArtifactKeyOpts struct {
	Format   string
	FontHash string
}

// Keyer derives cache keys.
type Keyer interface {
	ArtifactKey(configHash string, opts ArtifactKeyOpts) string
}

// DefaultKeyer produces unscoped keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ArtifactKey returns "artifact:<sha256>" over the config hash and opts.
func (DefaultKeyer) ArtifactKey(configHash string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", configHash, opts.Format, opts.FontHash)
}
