// Package security wraps a storage.Backend with AES-256-GCM encryption of
// stored body chunks and, optionally, SHA-256 hashing of cache keys before
// they reach the inner backend. It is a decorator: it implements
// storage.Backend itself, so it composes with any backend package the way
// compress.Store or any other wrapper does.
package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768
	// scryptR is the block size parameter for scrypt.
	scryptR = 8
	// scryptP is the parallelization parameter for scrypt.
	scryptP = 1
	// keyLength is the desired key length for AES-256.
	keyLength = 32
	// nonceSize is the size of the GCM nonce.
	nonceSize = 12
)

// Config configures a Store.
type Config struct {
	// Passphrase derives the AES-256 key via scrypt. Required.
	Passphrase string
	// HashCacheKeys hides plaintext cache keys from the inner backend by
	// hashing them with SHA-256 before every call. Entries returned to the
	// caller still carry the plaintext cache key they were looked up with.
	HashCacheKeys bool
}

// Store decorates a storage.Backend, encrypting body stream chunks at rest
// and optionally hashing cache keys before delegating to the inner backend.
// Header, status and metadata fields are left in the clear: most backend
// implementations index on them (e.g. diskvstore's Keys scan, mongostore's
// bson query), so opaquely encrypting the whole Entry would break every
// backend's own indexing strategy. Body bytes have no such constraint.
type Store struct {
	inner storage.Backend
	gcm   cipher.AEAD
	hash  bool
}

// New derives an AES-256-GCM cipher from cfg.Passphrase and returns a Store
// wrapping inner.
func New(inner storage.Backend, cfg Config) (*Store, error) {
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("security: passphrase is required")
	}
	gcm, err := deriveGCM(cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, gcm: gcm, hash: cfg.HashCacheKeys}, nil
}

// deriveGCM derives a 32-byte key from the passphrase using scrypt and
// builds the AES-256-GCM cipher from it.
func deriveGCM(passphrase string) (cipher.AEAD, error) {
	// Fixed salt: cache keys are hashed independently of this secret, and a
	// per-install random salt would need its own persistence story. See
	// DESIGN.md for the tradeoff.
	salt := sha256.Sum256([]byte("rfccache-security-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new gcm: %w", err)
	}
	return gcm, nil
}

// hashKey returns the hex-encoded SHA-256 digest of key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *Store) cacheKey(key string) string {
	if !s.hash || key == "" {
		return key
	}
	return hashKey(key)
}

// encrypt prepends a random nonce to the GCM-sealed ciphertext.
func (s *Store) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

// decrypt splits the nonce back off the front of data and opens it.
func (s *Store) decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	e, err := s.inner.CreateEntry(ctx, s.cacheKey(cacheKey), req, resp)
	if err != nil || e == nil {
		return e, err
	}
	e.CacheKey = cacheKey
	return e, nil
}

type bodyWriter struct {
	s *Store
	w storage.BodyWriter
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	ciphertext, err := w.s.encrypt(chunk)
	if err != nil {
		return err
	}
	return w.w.Write(ctx, ciphertext)
}

func (w *bodyWriter) Finish(ctx context.Context) error { return w.w.Finish(ctx) }

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	w, err := s.inner.OpenBodyWriter(ctx, entryID, kind)
	if err != nil {
		return nil, err
	}
	return &bodyWriter{s: s, w: w}, nil
}

type bodyReader struct {
	s *Store
	r storage.BodyReader
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	ciphertext, end, err := r.r.Next(ctx)
	if err != nil || end {
		return nil, end, err
	}
	plaintext, err := r.s.decrypt(ciphertext)
	if err != nil {
		return nil, true, err
	}
	return plaintext, false, nil
}

func (r *bodyReader) Close() error { return r.r.Close() }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	r, err := s.inner.OpenBodyReader(ctx, entryID, kind)
	if err != nil {
		return nil, err
	}
	return &bodyReader{s: s, r: r}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	entries, err := s.inner.GetEntries(ctx, s.cacheKey(cacheKey), refreshTTL)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.CacheKey = cacheKey
	}
	return entries, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	if !s.hash {
		return s.inner.UpdateEntry(ctx, id, fn)
	}
	return s.inner.UpdateEntry(ctx, id, func(e *storage.Entry) (*storage.Entry, error) {
		stored := e.CacheKey
		out, err := fn(e)
		if err != nil || out == nil {
			return out, err
		}
		if out.CacheKey != stored {
			out.CacheKey = s.cacheKey(out.CacheKey)
		}
		return out, nil
	})
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	return s.inner.RemoveEntry(ctx, id)
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	return s.inner.RemoveByCacheKey(ctx, s.cacheKey(cacheKey))
}

func (s *Store) Cleanup(ctx context.Context) error { return s.inner.Cleanup(ctx) }

func (s *Store) Close() error { return s.inner.Close() }

var _ storage.Backend = (*Store)(nil)
