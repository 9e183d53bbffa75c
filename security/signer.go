package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RSASignatureService signs and verifies hub messages. The signature is
// RSA-PKCS#1v1.5 over SHA-256 of the canonical request string
//
//	METHOD|path|hex(SHA256(body))
//
// base64 encoded on the wire. Sign uses the connector's private key; Verify
// checks against the hub's public key, so either side can run with only the
// half it owns.
type RSASignatureService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	window     KeyRotationWindow
	now        func() time.Time
}

type SignerOption func(*RSASignatureService)

// WithRotationWindow restricts the key pair to a validity window.
func WithRotationWindow(window KeyRotationWindow) SignerOption {
	return func(s *RSASignatureService) {
		s.window = window
	}
}

// WithClock overrides the clock used for rotation window checks.
func WithClock(now func() time.Time) SignerOption {
	return func(s *RSASignatureService) {
		s.now = now
	}
}

// NewRSASignatureService builds a signer from PEM-encoded key material.
// Either key may be empty; the corresponding operation then fails.
func NewRSASignatureService(privateKeyPEM, publicKeyPEM string, opts ...SignerOption) (*RSASignatureService, error) {
	service := &RSASignatureService{
		now: func() time.Time { return time.Now().UTC() },
	}
	if strings.TrimSpace(privateKeyPEM) != "" {
		key, err := ParseRSAPrivateKeyPEM(privateKeyPEM)
		if err != nil {
			return nil, err
		}
		service.privateKey = key
	}
	if strings.TrimSpace(publicKeyPEM) != "" {
		key, err := ParseRSAPublicKeyPEM(publicKeyPEM)
		if err != nil {
			return nil, err
		}
		service.publicKey = key
	}
	if service.privateKey == nil && service.publicKey == nil {
		return nil, fmt.Errorf("security: at least one of private or public key is required")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

func (s *RSASignatureService) Sign(method, path string, body []byte) (string, error) {
	if s == nil || s.privateKey == nil {
		return "", fmt.Errorf("security: signing key is not configured")
	}
	if err := s.checkWindow(); err != nil {
		return "", err
	}
	digest := canonicalDigest(method, path, body)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("security: sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

func (s *RSASignatureService) Verify(method, path string, body []byte, signature string) error {
	if s == nil || s.publicKey == nil {
		return fmt.Errorf("security: verification key is not configured")
	}
	if err := s.checkWindow(); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("security: decode signature: %w", err)
	}
	digest := canonicalDigest(method, path, body)
	if err := rsa.VerifyPKCS1v15(s.publicKey, crypto.SHA256, digest[:], raw); err != nil {
		return fmt.Errorf("security: signature mismatch: %w", err)
	}
	return nil
}

func (s *RSASignatureService) checkWindow() error {
	if s.window == (KeyRotationWindow{}) {
		return nil
	}
	at := time.Now().UTC()
	if s.now != nil {
		at = s.now().UTC()
	}
	if !s.window.Allows(at) {
		return fmt.Errorf("security: signing key is outside its rotation window")
	}
	return nil
}

func canonicalDigest(method, path string, body []byte) [32]byte {
	bodyHash := sha256.Sum256(body)
	canonical := strings.ToUpper(strings.TrimSpace(method)) + "|" +
		strings.TrimSpace(path) + "|" +
		hex.EncodeToString(bodyHash[:])
	return sha256.Sum256([]byte(canonical))
}
