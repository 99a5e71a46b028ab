// Package cipher seals and opens shield envelopes.
//
// Every Seal draws a fresh salt, derives a 32-byte key from the passphrase
// with PBKDF2-HMAC-SHA256 and produces ciphertext plus an HMAC-SHA256
// integrity tag. Open verifies the tag in constant time before it produces
// any plaintext.
//
// Key derivation is deliberately expensive. Derivations run through a bounded
// gate so a burst of submissions queues instead of oversubscribing the CPU.
package cipher

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/semaphore"
)

const (
	// SaltSize is the per-envelope random salt length.
	SaltSize = 16
	// KeySize is the PBKDF2 output length.
	KeySize = 32
	// TagSize is the HMAC-SHA256 tag length.
	TagSize = sha256.Size
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 100_000
)

// Cipher seals and opens envelopes. It is safe for concurrent use.
type Cipher struct {
	iterations int
	gate       *semaphore.Weighted
	sealWith   scheme
	legacy     bool
	random     io.Reader
}

type config struct {
	iterations int
	workers    int
	algo       string
	legacy     bool
	random     io.Reader
}

// Option configures a Cipher.
type Option func(*config)

// WithIterations overrides the PBKDF2 iteration count. Sealer and opener
// must agree on it.
func WithIterations(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// WithWorkers bounds concurrent key derivations (default GOMAXPROCS).
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithAlgorithm selects the construction Seal produces.
func WithAlgorithm(algo string) Option {
	return func(c *config) {
		c.algo = algo
	}
}

// WithLegacy allows the XOR construction.
func WithLegacy(enabled bool) Option {
	return func(c *config) {
		c.legacy = enabled
	}
}

// WithRandom replaces the salt source.
func WithRandom(r io.Reader) Option {
	return func(c *config) {
		if r != nil {
			c.random = r
		}
	}
}

// New builds a Cipher. Sealing with the legacy construction requires
// WithLegacy(true).
func New(opts ...Option) (*Cipher, error) {
	cfg := config{
		iterations: DefaultIterations,
		workers:    runtime.GOMAXPROCS(0),
		algo:       AlgoChaCha20,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := lookupScheme(cfg.algo, "", cfg.legacy)
	if err != nil {
		return nil, err
	}
	return &Cipher{
		iterations: cfg.iterations,
		gate:       semaphore.NewWeighted(int64(cfg.workers)),
		sealWith:   s,
		legacy:     cfg.legacy,
		random:     cfg.random,
	}, nil
}

func lookupScheme(algo, version string, legacy bool) (scheme, error) {
	switch {
	case algo == AlgoChaCha20 && (version == "" || version == VersionV2):
		return chachaScheme{}, nil
	case algo == AlgoLegacyXOR && (version == "" || version == VersionV1),
		// Older submitters do not label their envelopes.
		algo == "" && version == "":
		if !legacy {
			return nil, ErrLegacyDisabled
		}
		return xorScheme{labelled: algo != ""}, nil
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAlgorithm, algo, version)
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over passphrase and salt. It blocks
// until a derivation slot is free or ctx is done.
func (c *Cipher) DeriveKey(ctx context.Context, passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for key derivation: %w", err)
	}
	defer c.gate.Release(1)
	return pbkdf2.Key([]byte(passphrase), salt, c.iterations, KeySize, sha256.New), nil
}

// Seal encrypts plaintext under passphrase with a fresh random salt.
func (c *Cipher) Seal(ctx context.Context, plaintext []byte, passphrase string) (*Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key, err := c.DeriveKey(ctx, passphrase, salt)
	if err != nil {
		return nil, err
	}
	raw := rawEnvelope{salt: salt}
	if n := c.sealWith.ivSize(); n > 0 {
		raw.iv = make([]byte, n)
		if _, err := io.ReadFull(c.random, raw.iv); err != nil {
			return nil, fmt.Errorf("generate iv: %w", err)
		}
	}
	if err := c.sealWith.seal(key, &raw, plaintext); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return newEnvelope(c.sealWith, raw), nil
}

// Open verifies env and returns its plaintext. A tag mismatch returns
// ErrIntegrity and no plaintext.
func (c *Cipher) Open(ctx context.Context, env *Envelope, passphrase string) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	s, err := lookupScheme(env.Algo, env.Version, c.legacy)
	if err != nil {
		return nil, err
	}
	raw, err := env.decode()
	if err != nil {
		return nil, err
	}
	key, err := c.DeriveKey(ctx, passphrase, raw.salt)
	if err != nil {
		return nil, err
	}
	return s.open(key, raw)
}

// Algorithm reports the construction Seal produces.
func (c *Cipher) Algorithm() string {
	return c.sealWith.algo()
}
