package accounts

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// scrypt parameters; interactive-grade since decryption happens on every
	// sweep start, not on every tick.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrDecrypt covers both a wrong passphrase and a corrupted blob; the two are
// indistinguishable by construction.
var ErrDecrypt = errors.New("secret decryption failed")

// EncryptSecret seals a recovery phrase under a passphrase-derived key.
// Layout: salt(16) || nonce(24) || secretbox ciphertext.
func EncryptSecret(plaintext, passphrase string) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key, err := deriveKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, []byte(plaintext), &nonce, key), nil
}

// DecryptSecret opens a blob produced by EncryptSecret.
func DecryptSecret(blob []byte, passphrase string) (string, error) {
	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	key, err := deriveKey(passphrase, blob[:saltSize])
	if err != nil {
		return "", err
	}

	plain, ok := secretbox.Open(nil, blob[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
