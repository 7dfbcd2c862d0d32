// Package secret encrypts and decrypts credential values stored in the
// config file. Encrypted values carry the "enc:" prefix followed by
// base64(salt || nonce || ciphertext); anything else is treated as plaintext.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Prefix marks an encrypted config value.
	Prefix = "enc:"

	saltLen    = 16
	keyLen     = 32
	iterations = 120_000
)

var ErrNoPassphrase = errors.New("encrypted value present but no passphrase configured")

// IsEncrypted reports whether v carries the encrypted-value prefix.
func IsEncrypted(v string) bool { return strings.HasPrefix(v, Prefix) }

// Encrypt seals plaintext under the passphrase and returns a value suitable
// for storing in the config file.
func Encrypt(passphrase, plaintext string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	buf := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return Prefix + base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. Plaintext values (no prefix) pass through
// unchanged, so callers can apply it to every credential field.
func Decrypt(passphrase, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	if len(raw) < saltLen {
		return "", errors.New("encrypted value too short")
	}

	salt, rest := raw[:saltLen], raw[saltLen:]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("encrypted value too short")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt value: %w", err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
