// Package cryptobox provides the encryption and hashing primitives for the
// document vault: AES-256-GCM sealing with per-tenant keys derived from a
// single root key, and SHA-256 content addressing.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32
	ivSize  = 12
	tagSize = 16
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests
// can substitute deterministic sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source for deterministic testing
// and returns a restore function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

// Box derives per-tenant AES keys from a root key and performs authenticated
// encryption. A Box never exists with an unusable key: New fails closed.
type Box struct {
	root [KeySize]byte
}

func New(rootKey []byte) (*Box, error) {
	if len(rootKey) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrKeyUnconfigured, KeySize, len(rootKey))
	}
	zero := true
	for _, b := range rootKey {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, fmt.Errorf("%w: all-zero root key", ErrKeyUnconfigured)
	}
	box := &Box{}
	copy(box.root[:], rootKey)
	return box, nil
}

// TenantKey derives the tenant's AES key via HKDF-SHA256 over the root key,
// with the tenant ID as the info parameter. Derivation is deterministic, so
// no per-tenant key material needs storing.
func (b *Box) TenantKey(tenantID string) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, b.root[:], nil, []byte(tenantID))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("cryptobox: derive tenant key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for the tenant with a fresh random IV and returns
// ciphertext, IV, and authentication tag separately.
func (b *Box) Seal(tenantID string, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	key, err := b.TenantKey(tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, ivSize)
	if err := readRandom(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("cryptobox: read iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagSize]
	tag = sealed[len(sealed)-tagSize:]
	return ciphertext, iv, tag, nil
}

// Open decrypts and authenticates. A tag mismatch returns ErrDecryptionFailed,
// never silently corrupt plaintext.
func (b *Box) Open(tenantID string, ciphertext, iv, tag []byte) ([]byte, error) {
	key, err := b.TenantKey(tenantID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != ivSize || len(tag) != tagSize {
		return nil, ErrDecryptionFailed
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	return gcm, nil
}

// ContentHash returns the hex-encoded SHA-256 of the plaintext.
func ContentHash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

var _ io.Reader = randReader{}
