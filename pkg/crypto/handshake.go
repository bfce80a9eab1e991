package crypto

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/awnumar/memguard"
)

var ErrHandshake = errors.New("handshake failed")

// HandshakeResult is the outcome of a completed key exchange
type HandshakeResult struct {
	Key             SharedKey
	PeerFingerprint string
}

// Handshake performs the ephemeral X25519 exchange over rw and returns the
// derived session key.
//
// Both sides write their public point before reading the peer's, so two
// peers running the same sequence never wait on each other. There is no
// type tag or version byte: exactly PublicKeySize bytes go each way.
func Handshake(rw io.ReadWriter) (SharedKey, error) {
	key, _, err := exchange(rw)
	return key, err
}

// HandshakeConn runs the exchange on conn with a deadline covering both
// directions. A zero timeout means no deadline.
func HandshakeConn(conn net.Conn, timeout time.Duration) (*HandshakeResult, error) {
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	key, peerPublic, err := exchange(conn)
	if err != nil {
		return nil, err
	}

	return &HandshakeResult{
		Key:             key,
		PeerFingerprint: Fingerprint(peerPublic),
	}, nil
}

func exchange(rw io.ReadWriter) (SharedKey, []byte, error) {
	var key SharedKey

	kp, err := GenerateKeyPair()
	if err != nil {
		return key, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	defer kp.Destroy()

	if _, err := rw.Write(kp.Public[:]); err != nil {
		return key, nil, fmt.Errorf("%w: send public key: %w", ErrHandshake, err)
	}

	peerPublic := make([]byte, PublicKeySize)
	if _, err := io.ReadFull(rw, peerPublic); err != nil {
		return key, nil, fmt.Errorf("%w: receive peer public key: %w", ErrHandshake, err)
	}

	secret, err := kp.SharedSecret(peerPublic)
	if err != nil {
		return key, nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	defer memguard.WipeBytes(secret)

	key, err = DeriveSharedKey(secret)
	if err != nil {
		return key, nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	return key, peerPublic, nil
}
