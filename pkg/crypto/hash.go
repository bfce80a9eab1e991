package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of hash bytes shown in a fingerprint
const FingerprintSize = 10

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) ([]byte, error) {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	hash.Write(data)
	return hash.Sum(nil), nil
}

// Fingerprint returns a short hex fingerprint of a public key, safe to log
func Fingerprint(publicKey []byte) string {
	sum, err := Hash(publicKey)
	if err != nil {
		return "unknown"
	}
	return hex.EncodeToString(sum[:FingerprintSize])
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	_, err := rand.Read(nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}
