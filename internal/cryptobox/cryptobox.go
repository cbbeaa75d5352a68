// Package cryptobox provides password-based symmetric encryption of
// structured blobs: JSON-serialize, derive a key with PBKDF2-HMAC-SHA256,
// and seal with AES-GCM (spec §4.4).
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

const (
	saltLen      = 16
	nonceLen     = 12
	keyLen       = 32
	pbkdf2Rounds = 100_000
)

// Encrypt serializes value to JSON, derives a key from password with a
// fresh salt, and seals the plaintext with AES-GCM under a fresh nonce.
// The returned bytes are laid out as salt || nonce || ciphertext+tag.
func Encrypt(value any, password string) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "cryptobox.Encrypt", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptobox: read salt: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: read nonce: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt, unmarshaling the recovered plaintext into out
// (a pointer, as for json.Unmarshal). Any tamper — wrong password, flipped
// bit, truncated envelope — surfaces as a KindCrypto error.
func Decrypt(data []byte, password string, out any) error {
	if len(data) < saltLen+nonceLen {
		return amoebiuserr.New(amoebiuserr.KindCrypto, "cryptobox.Decrypt", fmt.Errorf("envelope too short"))
	}

	salt := data[:saltLen]
	nonce := data[saltLen : saltLen+nonceLen]
	ciphertext := data[saltLen+nonceLen:]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindCrypto, "cryptobox.Decrypt", err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "cryptobox.Decrypt", err)
	}
	return nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	return gcm, nil
}
