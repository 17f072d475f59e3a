package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/calyxmail/calyx/internal/errors"
	"github.com/calyxmail/calyx/internal/metrics"
)

const (
	pbkdf2Iterations = 100000
	pbkdf2KeyLength  = 32 // 256 bit for AES-256

	gcmTagSize = 16
)

// keyDerivationSalt is a fixed application salt. The secret itself is the
// only confidential input; the salt just domain-separates the derived key
// from other uses of the same secret.
var keyDerivationSalt = []byte("calyx-credential-store-v1")

// Blob is an encrypted token set as persisted in the account file.
// All three fields are lowercase hex.
type Blob struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// Complete reports whether all three blob fields are present.
func (b Blob) Complete() bool {
	return b.Encrypted != "" && b.IV != "" && b.AuthTag != ""
}

// Sealer encrypts and decrypts credential blobs.
type Sealer interface {
	Seal(plaintext []byte) (Blob, error)
	Open(blob Blob) ([]byte, error)
}

// AesGcmSealer implements Sealer with AES-256-GCM. The key is derived once
// from the configured secret with PBKDF2-SHA256.
type AesGcmSealer struct {
	gcm cipher.AEAD
}

// NewAesGcmSealer derives an AES-256 key from secret and prepares the AEAD.
func NewAesGcmSealer(secret string) (*AesGcmSealer, error) {
	key := pbkdf2.Key([]byte(secret), keyDerivationSalt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealer := AesGcmSealer{gcm: gcm}
	return &sealer, nil
}

// Seal encrypts plaintext under a fresh random nonce. Nonce reuse is
// forbidden, so the nonce is drawn from crypto/rand on every call.
func (s *AesGcmSealer) Seal(plaintext []byte) (Blob, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Blob{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag; split the tag off for the wire format.
	sealed := s.gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	blob := Blob{
		Encrypted: hex.EncodeToString(ciphertext),
		IV:        hex.EncodeToString(nonce),
		AuthTag:   hex.EncodeToString(tag),
	}
	return blob, nil
}

// Open verifies the authentication tag and returns the plaintext. A tag that
// does not verify (tamper or wrong key) yields a decryption error which must
// propagate to the caller.
func (s *AesGcmSealer) Open(blob Blob) ([]byte, error) {
	ciphertext, err := hex.DecodeString(blob.Encrypted)
	if err != nil {
		return nil, apperrors.DecryptionError("failed to decode ciphertext hex", err)
	}
	nonce, err := hex.DecodeString(blob.IV)
	if err != nil {
		return nil, apperrors.DecryptionError("failed to decode iv hex", err)
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, apperrors.DecryptionError("failed to decode auth tag hex", err)
	}

	if len(nonce) != s.gcm.NonceSize() {
		return nil, apperrors.DecryptionError("invalid nonce size", nil).
			WithContext("nonce_bytes", len(nonce))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		metrics.DecryptionFailuresTotal.Inc()
		return nil, apperrors.DecryptionError("authentication tag verification failed", err)
	}

	return plaintext, nil
}
