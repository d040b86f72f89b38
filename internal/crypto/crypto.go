package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertext = errors.New("crypto: malformed ciphertext")

// AEAD seals short secrets (backend passwords) for storage. Output is
// base64(nonce || ciphertext).
type AEAD struct{ aead cipher.AEAD }

func New(key []byte) (*AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// EncryptToString seals plaintext; aad binds it to its owner so a value
// copied onto another row does not decrypt.
func (a *AEAD) EncryptToString(plaintext string, aad []byte) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := a.aead.Seal(nonce, nonce, []byte(plaintext), aad)
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (a *AEAD) DecryptString(ciphertextB64 string, aad []byte) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", ErrCiphertext
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns+a.aead.Overhead() {
		return "", ErrCiphertext
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], aad)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(pt), nil
}
