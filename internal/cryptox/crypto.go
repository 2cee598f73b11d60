// Package cryptox implements the primitives behind per-user field
// encryption: argon2id key derivation from login credentials and AES-GCM
// sealing of individual column values into opaque text blobs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// blobPrefix versions the on-disk blob layout. Changing the layout requires
// a new prefix and a ciphertext migration; old blobs must never be
// reinterpreted under a different layout.
const blobPrefix = "v1"

const (
	keySize   = 32
	nonceSize = 12
)

var ErrMalformedBlob = errors.New("malformed ciphertext blob")

// DeriveUserKey derives a 32-byte symmetric key from credential material and
// a per-user salt using argon2id. Parameters follow the argon2 authors'
// recommendation for interactive logins (64 MiB, 1 pass, 4 lanes).
func DeriveUserKey(credential, salt []byte) []byte {
	return deriveArgon2id(credential, salt)
}

// MakeVerifier returns a value safe to store alongside the salt for
// credential verification. It is a one-way hash of the derived key, so the
// key itself never reaches durable storage.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}

// EncryptValue seals a single plaintext field value under key and encodes
// the result as "v1:<base64 nonce>:<base64 ciphertext+tag>". A fresh random
// nonce is generated per call.
func EncryptValue(plaintext string, key []byte) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	return blobPrefix + ":" +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptValue opens a blob produced by EncryptValue. It fails with
// ErrMalformedBlob when the value does not parse as a blob at all, and with
// the cipher's authentication error when the key is wrong or the data was
// tampered with. It never returns unauthenticated plaintext.
func DecryptValue(blob string, key []byte) (string, error) {
	parts := strings.SplitN(blob, ":", 3)
	if len(parts) != 3 || parts[0] != blobPrefix {
		return "", ErrMalformedBlob
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrMalformedBlob
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedBlob
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}

	return string(plaintext), nil
}

// IsEncryptedValue reports whether s looks like a sealed blob. Used only for
// diagnostics; decryption decides authoritatively.
func IsEncryptedValue(s string) bool {
	return strings.HasPrefix(s, blobPrefix+":")
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
