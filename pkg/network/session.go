package network

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

var ErrSessionClosed = errors.New("session closed")

// Session is one connected, named participant on the relay
type Session struct {
	ID         uuid.UUID
	Name       string
	RemoteAddr string
	JoinedAt   time.Time

	// mu serializes frame writes; broadcasts from other connections and the
	// owner's own acks may target this session at the same time.
	mu           sync.Mutex
	key          crypto.SharedKey
	w            io.Writer
	maxFrame     uint32
	writeTimeout time.Duration
	closed       bool
	broken       bool
}

// SessionInfo is the externally visible view of a session. It carries no
// key material.
type SessionInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RemoteAddr string    `json:"remote_addr"`
	JoinedAt   time.Time `json:"joined_at"`
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// NewSession creates a session writing frames to w. The key is copied;
// the caller may wipe its own copy afterwards.
func NewSession(name string, key crypto.SharedKey, w io.Writer) *Session {
	return &Session{
		ID:       uuid.New(),
		Name:     name,
		JoinedAt: time.Now(),
		key:      key,
		w:        w,
		maxFrame: protocol.DefaultMaxFrameSize,
	}
}

// Send encrypts plaintext under this session's key and writes one frame.
// A failed write leaves the stream mid-frame, so the session is broken and
// its connection closed; later sends return ErrSessionClosed.
func (s *Session) Send(plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sendLocked(plaintext)
}

// SendWithAck writes the empty delivery ack followed by plaintext without
// letting another writer interleave between the two frames.
func (s *Session) SendWithAck(plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sendLocked(protocol.DeliveryAck); err != nil {
		return err
	}
	return s.sendLocked(plaintext)
}

func (s *Session) sendLocked(plaintext []byte) error {
	if s.closed || s.broken {
		return ErrSessionClosed
	}

	blob, err := crypto.Encrypt(s.key[:], plaintext)
	if err != nil {
		return err
	}

	if s.writeTimeout > 0 {
		if d, ok := s.w.(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.breakLocked()
				return fmt.Errorf("set write deadline: %w", err)
			}
		}
	}

	if err := protocol.WriteFrameLimit(s.w, blob, s.maxFrame); err != nil {
		// An oversized frame is rejected before any byte is written
		if !errors.Is(err, protocol.ErrFrameTooLarge) {
			s.breakLocked()
		}
		return err
	}
	return nil
}

// breakLocked stops all further writes and closes the underlying stream so
// the owning read loop ends and deregisters the session. The key stays
// intact until Close, since that loop may still be decrypting.
func (s *Session) breakLocked() {
	s.broken = true
	if c, ok := s.w.(io.Closer); ok {
		c.Close()
	}
}

// Broken reports whether a write to this session has failed
func (s *Session) Broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// Open decrypts a blob received from this session's peer. Only the owning
// read loop calls Open, and it does so before Close.
func (s *Session) Open(blob []byte) ([]byte, error) {
	return crypto.Decrypt(s.key[:], blob)
}

// Close marks the session closed and wipes its key. Further sends fail
// with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.key.Wipe()
}

// Info returns a loggable snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID.String(),
		Name:       s.Name,
		RemoteAddr: s.RemoteAddr,
		JoinedAt:   s.JoinedAt,
	}
}

// fallbackName names a session whose peer sent an empty display name
func fallbackName(id uuid.UUID) string {
	return "anon-" + id.String()[:8]
}
