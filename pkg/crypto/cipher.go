package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// IVSize is the length of the random IV prefixed to every blob
const IVSize = aes.BlockSize

var ErrDecrypt = errors.New("decryption failed")

// Encrypt seals plaintext under key with AES-256-CBC and PKCS#7 padding.
// The returned blob is IV || ciphertext, with a fresh random IV per call.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	iv, err := GenerateNonce(IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := Pad(plaintext, aes.BlockSize)

	blob := make([]byte, IVSize+len(padded))
	copy(blob, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(blob[IVSize:], padded)

	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. Short, misaligned or badly
// padded blobs all fail with ErrDecrypt.
func Decrypt(key, blob []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < IVSize {
		return nil, fmt.Errorf("%w: blob shorter than IV", ErrDecrypt)
	}

	iv, ciphertext := blob[:IVSize], blob[IVSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", ErrDecrypt)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// CiphertextSize returns the blob length Encrypt produces for a plaintext
// of plaintextLen bytes.
func CiphertextSize(plaintextLen int) int {
	return IVSize + PaddedSize(plaintextLen, aes.BlockSize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != SharedKeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, SharedKeySize, len(key))
	}
	return aes.NewCipher(key)
}
