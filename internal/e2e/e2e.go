// Package e2e holds the client-side crypto for a chat: ephemeral ECDH
// P-256 key pairs, an HKDF-SHA256 derived AES-256-GCM session key, and
// hex framing that matches the browser client.
package e2e

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// SessionKeyInfo is the HKDF info string shared with the browser client.
	SessionKeyInfo = "shadowtalk-session-key"
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the AES-GCM IV length.
	NonceSize = 12
)

var (
	ErrInvalidPublicKey = errors.New("e2e: invalid public key")
	ErrInvalidPayload   = errors.New("e2e: invalid ciphertext or iv")
	ErrDecrypt          = errors.New("e2e: message authentication failed")
)

// KeyPair is an ephemeral ECDH key pair. It is never persisted.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// SessionKey is the symmetric key both peers derive.
type SessionKey struct {
	aead cipher.AEAD
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("e2e: generate key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKeyHex exports the public key as hex-encoded SPKI DER, the format
// the browser client sends in public-key frames.
func (k *KeyPair) PublicKeyHex() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.private.PublicKey())
	if err != nil {
		return "", fmt.Errorf("e2e: export public key: %w", err)
	}
	return hex.EncodeToString(der), nil
}

// ImportPublicKey parses a hex SPKI P-256 public key.
func ImportPublicKey(hexKey string) (*ecdh.PublicKey, error) {
	der, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	ecKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidPublicKey, parsed)
	}
	pub, err := ecKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if pub.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidPublicKey)
	}
	return pub, nil
}

// DeriveSessionKey runs ECDH against the peer's hex public key and
// stretches the shared secret with HKDF-SHA256 (32 zero bytes of salt).
func (k *KeyPair) DeriveSessionKey(peerHex string) (*SessionKey, error) {
	peer, err := ImportPublicKey(peerHex)
	if err != nil {
		return nil, err
	}
	secret, err := k.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("e2e: ecdh: %w", err)
	}

	salt := make([]byte, 32)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(SessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("e2e: hkdf: %w", err)
	}
	return newSessionKey(key)
}

func newSessionKey(key []byte) (*SessionKey, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("e2e: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("e2e: gcm: %w", err)
	}
	return &SessionKey{aead: aead}, nil
}

// Encrypt seals plaintext under a random IV. Both results are hex.
func (s *SessionKey) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("e2e: nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(nonce), nil
}

// Decrypt opens a hex ciphertext and IV produced by Encrypt or the browser
// client.
func (s *SessionKey) Decrypt(ciphertext, iv string) (string, error) {
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidPayload
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil || len(nonce) != NonceSize {
		return "", ErrInvalidPayload
	}
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
