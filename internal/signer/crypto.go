package signer

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"fmt"
)

const aesKeySize = 32

// deriveKey truncates or right-pads secret with NUL bytes to exactly 32
// bytes. This is a quirk of the upstream protocol and must be preserved
// bit-exact: a secret longer than 32 bytes is silently truncated, a shorter
// one is NUL-padded, never rejected.
func deriveKey(secret string) []byte {
	key := make([]byte, aesKeySize)
	copy(key, secret) // copy truncates or zero-pads automatically
	return key
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("signer: invalid padded data length %d", n)
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("signer: invalid PKCS7 padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("signer: invalid PKCS7 padding")
		}
	}
	return data[:n-padLen], nil
}

// ecbEncrypt/ecbDecrypt implement raw AES-ECB block chaining. The standard
// library deliberately omits an ECB mode — this protocol mandates it anyway,
// so the block-by-block loop is hand-rolled here rather than reached for in
// any third-party crypto package (none in the retrieved example pack ships
// an ECB helper, nor would a reputable one).
func ecbEncrypt(block []byte, key []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := c.BlockSize()
	if len(block)%bs != 0 {
		return nil, fmt.Errorf("signer: plaintext is not a multiple of the block size")
	}
	out := make([]byte, len(block))
	for i := 0; i < len(block); i += bs {
		c.Encrypt(out[i:i+bs], block[i:i+bs])
	}
	return out, nil
}

func ecbDecrypt(ciphertext []byte, key []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := c.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("signer: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += bs {
		c.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
	}
	return out, nil
}

// EncryptCardData AES-256-ECB-encrypts plaintext (the JSON-serialized card
// array) with the shop's general_aes_secret and returns standard base64.
func EncryptCardData(plaintext string, secret string) (string, error) {
	key := deriveKey(secret)
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext, err := ecbEncrypt(padded, key)
	if err != nil {
		return "", fmt.Errorf("signer: encrypt card data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptCardData reverses EncryptCardData.
func DecryptCardData(encoded string, secret string) (string, error) {
	key := deriveKey(secret)
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("signer: decode ciphertext: %w", err)
	}
	padded, err := ecbDecrypt(ciphertext, key)
	if err != nil {
		return "", fmt.Errorf("signer: decrypt card data: %w", err)
	}
	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("signer: unpad card data: %w", err)
	}
	return string(plain), nil
}
