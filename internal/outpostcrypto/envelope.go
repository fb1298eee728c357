// Package outpostcrypto seals and opens the AES-256-GCM envelope that wraps
// every batch on the wire (SPEC_FULL.md §4.2). It is named outpostcrypto,
// not crypto, to avoid shadowing the standard library package it builds on.
package outpostcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32 // AES-256
	NonceSize = 12 // 96 bits
	TagSize   = 16 // 128 bits

	minEnvelopeSize = NonceSize + TagSize
)

var (
	// ErrEnvelopeTruncated is returned by Open when the envelope is shorter
	// than a nonce plus an empty ciphertext's tag can ever be.
	ErrEnvelopeTruncated = errors.New("outpostcrypto: envelope truncated")

	// ErrAuthFailed is returned by Open on any tag-verification failure.
	// It deliberately carries no detail about where verification failed,
	// per SPEC_FULL.md §4.2's no-timing-leak requirement.
	ErrAuthFailed = errors.New("outpostcrypto: authentication failed")
)

// Key is a pre-shared 256-bit secret, immutable after load and safe to
// share by reference across goroutines (SPEC_FULL.md §5).
type Key [KeySize]byte

// Seal produces nonce||ciphertext||tag for plaintext under key, generating
// a fresh random nonce from crypto/rand. Nonce collision probability is
// negligible below ~2^32 envelopes per key (SPEC_FULL.md §4.2); this
// package performs no reuse detection, matching that accepted risk.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("outpostcrypto: generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Open reverses Seal, returning ErrEnvelopeTruncated or ErrAuthFailed on
// failure. It never returns a partially-decrypted plaintext.
func Open(key Key, envelope []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeSize {
		return nil, ErrEnvelopeTruncated
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[:NonceSize]
	sealed := envelope[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func newAEAD(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("outpostcrypto: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("outpostcrypto: %w", err)
	}
	return aead, nil
}
