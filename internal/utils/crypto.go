// internal/utils/crypto.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EncryptedPrefix marks values produced by SealSecret
const EncryptedPrefix = "enc:v1:"

// ErrCiphertextTooShort 密文长度不足
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// newGCM derives a 32-byte AES key from the passphrase
func newGCM(passphrase string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts the plaintext using AES-GCM and returns base64 text
func Encrypt(plaintext, passphrase string) (string, error) {
	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64 text produced by Encrypt
func Decrypt(ciphertext, passphrase string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SealSecret encrypts a secret for storage; empty values and empty passphrases pass through
func SealSecret(value, passphrase string) (string, error) {
	if value == "" || passphrase == "" || strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	sealed, err := Encrypt(value, passphrase)
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + sealed, nil
}

// OpenSecret reverses SealSecret; values without the prefix are returned unchanged
func OpenSecret(value, passphrase string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	if passphrase == "" {
		return "", errors.New("secret is encrypted but no passphrase is configured")
	}
	return Decrypt(strings.TrimPrefix(value, EncryptedPrefix), passphrase)
}
