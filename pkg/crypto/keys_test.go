package crypto

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	expected, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519() error = %v", err)
	}
	if !bytes.Equal(kp.Public[:], expected) {
		t.Error("GenerateKeyPair() public key does not match private scalar")
	}

	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if kp.Public == other.Public {
		t.Error("GenerateKeyPair() returned the same public key twice")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	alicePub := alice.Public
	bobPub := bob.Public

	s1, err := alice.SharedSecret(bobPub[:])
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}
	s2, err := bob.SharedSecret(alicePub[:])
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}

	if !bytes.Equal(s1, s2) {
		t.Error("SharedSecret() outputs differ between peers")
	}
	if len(s1) != SharedKeySize {
		t.Errorf("SharedSecret() length = %d, want %d", len(s1), SharedKeySize)
	}
}

func TestSharedSecretSingleUse(t *testing.T) {
	kp, _ := GenerateKeyPair()
	peer, _ := GenerateKeyPair()

	if _, err := kp.SharedSecret(peer.Public[:]); err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}

	var zero [PrivateKeySize]byte
	if kp.private != zero {
		t.Error("private scalar was not wiped after use")
	}

	if _, err := kp.SharedSecret(peer.Public[:]); !errors.Is(err, ErrKeyPairUsed) {
		t.Errorf("second SharedSecret() error = %v, want %v", err, ErrKeyPairUsed)
	}
}

func TestSharedSecretInvalidPeer(t *testing.T) {
	tests := []struct {
		name string
		peer []byte
	}{
		{"empty", nil},
		{"too short", make([]byte, 31)},
		{"too long", make([]byte, 33)},
		{"low order point", make([]byte, 32)}, // all-zero point yields an all-zero output
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, _ := GenerateKeyPair()
			_, err := kp.SharedSecret(tt.peer)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("SharedSecret() error = %v, want %v", err, ErrInvalidKey)
			}
		})
	}
}

func TestDeriveSharedKey(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, SharedKeySize)

	k1, err := DeriveSharedKey(secret)
	if err != nil {
		t.Fatalf("DeriveSharedKey() error = %v", err)
	}
	k2, _ := DeriveSharedKey(secret)
	if k1 != k2 {
		t.Error("DeriveSharedKey() is not deterministic")
	}
	if bytes.Equal(k1[:], secret) {
		t.Error("DeriveSharedKey() returned the raw secret")
	}

	if _, err := DeriveSharedKey(secret[:16]); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveSharedKey(short) error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestSharedKeyWipe(t *testing.T) {
	key := SharedKey{1, 2, 3}
	if key.IsZero() {
		t.Fatal("IsZero() = true for non-zero key")
	}

	key.Wipe()
	if !key.IsZero() {
		t.Error("Wipe() left key material behind")
	}
}
