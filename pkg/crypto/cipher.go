package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Handles are "hex(iv):hex(ciphertext)" with AES-256-CBC and PKCS#7 padding,
// keyed by scrypt(secret, "salt"). This is the format the session provider
// stores access tokens in.
const (
	keySalt   = "salt"
	keyLength = 32
)

// ErrMalformedHandle indicates the encrypted handle cannot be decoded.
var ErrMalformedHandle = errors.New("crypto: malformed token handle")

// TokenCipher encrypts and decrypts opaque access-token handles.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher derives the cipher key from secret.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("crypto: secret cannot be empty")
	}
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 1<<14, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &TokenCipher{key: key}, nil
}

// Encrypt returns the handle for plaintext.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt returns the plaintext behind handle.
func (c *TokenCipher) Decrypt(handle string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(strings.TrimSpace(handle), ":")
	if !ok {
		return "", ErrMalformedHandle
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformedHandle
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrMalformedHandle
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	unpadded, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, ErrMalformedHandle
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, ErrMalformedHandle
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrMalformedHandle
		}
	}
	return data[:len(data)-n], nil
}
