package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Key sizes
const (
	PublicKeySize  = curve25519.PointSize
	PrivateKeySize = curve25519.ScalarSize
	SharedKeySize  = 32
)

// sessionKeyInfo binds derived keys to this protocol.
var sessionKeyInfo = []byte("zentalk-chat/v1 session key")

var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrKeyPairUsed = errors.New("ephemeral key pair already used")
)

// KeyPair is an ephemeral X25519 key pair. The private scalar is used for
// exactly one agreement and wiped afterwards.
type KeyPair struct {
	Public  [PublicKeySize]byte
	private [PrivateKeySize]byte
	used    bool
}

// SharedKey is the per-connection symmetric key produced by the handshake.
type SharedKey [SharedKeySize]byte

// GenerateKeyPair generates a fresh X25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(rand.Reader, kp.private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private scalar: %w", err)
	}

	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		kp.Destroy()
		return nil, err
	}
	copy(kp.Public[:], pub)

	return kp, nil
}

// SharedSecret computes the raw X25519 agreement with the peer's public point
// and destroys the private scalar. Low-order peer points are rejected.
func (kp *KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if kp.used {
		return nil, ErrKeyPairUsed
	}
	defer kp.Destroy()

	if len(peerPublic) != PublicKeySize {
		return nil, fmt.Errorf("%w: peer public key is %d bytes, want %d", ErrInvalidKey, len(peerPublic), PublicKeySize)
	}

	secret, err := curve25519.X25519(kp.private[:], peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return secret, nil
}

// Destroy wipes the private scalar
func (kp *KeyPair) Destroy() {
	memguard.WipeBytes(kp.private[:])
	kp.used = true
}

// DeriveSharedKey turns a raw agreement output into a session key with
// HKDF-SHA256. Both ends derive the same key from the same secret.
func DeriveSharedKey(secret []byte) (SharedKey, error) {
	var key SharedKey
	if len(secret) != SharedKeySize {
		return key, fmt.Errorf("%w: agreement output is %d bytes", ErrInvalidKey, len(secret))
	}

	kdf := hkdf.New(sha256.New, secret, nil, sessionKeyInfo)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("key derivation failed: %w", err)
	}

	return key, nil
}

// Wipe zeroes the key in place
func (k *SharedKey) Wipe() {
	memguard.WipeBytes(k[:])
}

// IsZero reports whether the key has been wiped or never set
func (k *SharedKey) IsZero() bool {
	var acc byte
	for _, b := range k {
		acc |= b
	}
	return acc == 0
}
