package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Provider credentials are stored at rest as AES-256-CBC blobs with the
// 16-byte IV prefixed to the ciphertext. The key comes from ENCRYPTION_KEY
// and is immutable for the process lifetime.

// EncryptCredential seals a plaintext credential blob.
func EncryptCredential(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// DecryptCredential opens a blob produced by EncryptCredential.
func DecryptCredential(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	if len(blob) < aes.BlockSize || (len(blob)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("malformed credential blob")
	}
	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize:]
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

// HashAPIKey derives the stored digest for a tenant API key using the
// process-wide HMAC secret (API_KEY_SECRET).
func HashAPIKey(secret []byte, apiKey string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(apiKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAPIKey compares a presented key against a stored digest in constant
// time.
func VerifyAPIKey(secret []byte, apiKey, storedDigest string) bool {
	want, err := hex.DecodeString(storedDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(apiKey))
	return hmac.Equal(mac.Sum(nil), want)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("malformed padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("malformed padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("malformed padding")
		}
	}
	return b[:len(b)-n], nil
}
