package network

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry is the shared set of live sessions. Registration order is kept;
// duplicate names are allowed.
//
// The lock is only held to copy or mutate the slice, never across a socket
// write, so a slow recipient cannot stall joins and leaves.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds a session. Names are not checked for uniqueness.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = append(r.sessions, s)
}

// Deregister removes every session named name and returns how many were
// removed. Removing an unknown name is a no-op.
func (r *Registry) Deregister(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.sessions[:0]
	removed := 0
	for _, s := range r.sessions {
		if s.Name == name {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	clear(r.sessions[len(kept):])
	r.sessions = kept

	return removed
}

// Remove removes exactly this session, leaving namesakes registered
func (r *Registry) Remove(target *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sessions {
		if s == target {
			copy(r.sessions[i:], r.sessions[i+1:])
			r.sessions[len(r.sessions)-1] = nil
			r.sessions = r.sessions[:len(r.sessions)-1]
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current session list
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Names returns the display names in registration order
func (r *Registry) Names() []string {
	snapshot := r.Snapshot()
	names := make([]string, len(snapshot))
	for i, s := range snapshot {
		names[i] = s.Name
	}
	return names
}

// Broadcast delivers plaintext to every registered session, each encrypted
// under its own key. Sessions named senderName first receive an empty
// delivery ack. It returns the number of sessions that got the message and
// the joined per-recipient failures; one failed recipient never stops
// delivery to the rest.
func (r *Registry) Broadcast(senderName string, plaintext []byte) (int, error) {
	return r.broadcast(func(s *Session) bool { return s.Name == senderName }, plaintext)
}

// BroadcastFrom is Broadcast with the sender identified by session rather
// than by name, so a namesake never receives another session's ack.
func (r *Registry) BroadcastFrom(sender *Session, plaintext []byte) (int, error) {
	return r.broadcast(func(s *Session) bool { return s == sender }, plaintext)
}

func (r *Registry) broadcast(isSender func(*Session) bool, plaintext []byte) (int, error) {
	snapshot := r.Snapshot()

	var errs []error
	delivered := 0
	for _, s := range snapshot {
		if err := r.deliver(s, isSender(s), plaintext); err != nil {
			// The stream may hold a partial frame; never write to it again.
			if s.Broken() {
				r.Remove(s)
			}
			r.logger.Warn("delivery failed",
				zap.String("recipient", s.Name),
				zap.String("session_id", s.ID.String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("deliver to %s: %w", s.Name, err))
			continue
		}
		delivered++
	}

	return delivered, errors.Join(errs...)
}

func (r *Registry) deliver(s *Session, ack bool, plaintext []byte) error {
	if ack {
		return s.SendWithAck(plaintext)
	}
	return s.Send(plaintext)
}
