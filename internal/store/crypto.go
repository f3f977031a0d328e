package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Cipher encrypts provider-credential blobs at rest using AES-256-CBC with
// PKCS#7 padding. The 16-byte IV is prepended to the ciphertext.
type Cipher struct {
	key []byte
}

// NewCipher creates a Cipher from a key given either as 32 raw bytes or as
// 64 hex characters.
func NewCipher(key string) (*Cipher, error) {
	var raw []byte
	switch len(key) {
	case 32:
		raw = []byte(key)
	case 64:
		var err error
		raw, err = hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("store: decode hex encryption key: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: encryption key must be 32 raw bytes or 64 hex characters, got %d", len(key))
	}
	return &Cipher{key: raw}, nil
}

// Encrypt returns iv || ciphertext for the given plaintext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("store: init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("store: generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, errors.New("store: ciphertext is truncated")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("store: init cipher: %w", err)
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("store: invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("store: invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("store: invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
