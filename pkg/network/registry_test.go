package network

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers and readers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

// tornWriter accepts half of the first write and then fails it, the way a
// write deadline can fire mid-frame. Later writes succeed.
type tornWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	closed bool
}

func (w *tornWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	if w.writes == 1 {
		n, _ := w.buf.Write(p[:len(p)/2])
		return n, errors.New("i/o timeout")
	}
	return w.buf.Write(p)
}

func (w *tornWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *tornWriter) state() (writes int, closed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes, w.closed
}

type deadlineFailWriter struct {
	lockedBuffer
}

func (w *deadlineFailWriter) SetWriteDeadline(time.Time) error {
	return errors.New("use of closed network connection")
}

func testSharedKey(t *testing.T) crypto.SharedKey {
	t.Helper()
	raw, err := crypto.GenerateNonce(crypto.SharedKeySize)
	require.NoError(t, err)

	var key crypto.SharedKey
	copy(key[:], raw)
	return key
}

type bufferedSession struct {
	*Session
	key crypto.SharedKey
	out *lockedBuffer
}

func newBufferedSession(t *testing.T, name string) *bufferedSession {
	key := testSharedKey(t)
	out := &lockedBuffer{}
	return &bufferedSession{Session: NewSession(name, key, out), key: key, out: out}
}

// frames decrypts every frame written to the session so far
func (b *bufferedSession) frames(t *testing.T) [][]byte {
	t.Helper()

	r := bytes.NewReader(b.out.Bytes())
	var out [][]byte
	for r.Len() > 0 {
		blob, err := protocol.ReadFrame(r)
		require.NoError(t, err)
		plaintext, err := crypto.Decrypt(b.key[:], blob)
		require.NoError(t, err)
		out = append(out, plaintext)
	}
	return out
}

func TestRegistryRegisterDeregister(t *testing.T) {
	r := NewRegistry(nil)

	alice := newBufferedSession(t, "alice")
	bob := newBufferedSession(t, "bob")
	alice2 := newBufferedSession(t, "alice")

	r.Register(alice.Session)
	r.Register(bob.Session)
	r.Register(alice2.Session)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"alice", "bob", "alice"}, r.Names())

	assert.Equal(t, 2, r.Deregister("alice"))
	assert.Equal(t, []string{"bob"}, r.Names())

	assert.Equal(t, 0, r.Deregister("nobody"))
	assert.Equal(t, 0, r.Deregister("alice"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveByIdentity(t *testing.T) {
	r := NewRegistry(nil)

	first := newBufferedSession(t, "alice")
	second := newBufferedSession(t, "alice")
	r.Register(first.Session)
	r.Register(second.Session)

	assert.True(t, r.Remove(first.Session))
	assert.False(t, r.Remove(first.Session))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Same(t, second.Session, snapshot[0])
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newBufferedSession(t, "alice").Session)

	snapshot := r.Snapshot()
	r.Register(newBufferedSession(t, "bob").Session)

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, r.Len())
}

func TestBroadcastAckSemantics(t *testing.T) {
	r := NewRegistry(nil)
	alice := newBufferedSession(t, "alice")
	bob := newBufferedSession(t, "bob")
	r.Register(alice.Session)
	r.Register(bob.Session)

	msg := []byte("[12:00:00] alice: hi")
	delivered, err := r.Broadcast("alice", msg)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	aliceFrames := alice.frames(t)
	require.Len(t, aliceFrames, 2)
	assert.Empty(t, aliceFrames[0], "first frame to sender is the ack")
	assert.Equal(t, msg, aliceFrames[1])

	bobFrames := bob.frames(t)
	require.Len(t, bobFrames, 1)
	assert.Equal(t, msg, bobFrames[0])
}

func TestBroadcastPerRecipientKeys(t *testing.T) {
	r := NewRegistry(nil)
	alice := newBufferedSession(t, "alice")
	bob := newBufferedSession(t, "bob")
	r.Register(alice.Session)
	r.Register(bob.Session)

	_, err := r.Broadcast("carol", []byte("hello"))
	require.NoError(t, err)

	// bob's frame must not open under alice's key
	blob, err := protocol.ReadFrame(bytes.NewReader(bob.out.Bytes()))
	require.NoError(t, err)
	plaintext, err := crypto.Decrypt(alice.key[:], blob)
	if err == nil {
		assert.NotEqual(t, []byte("hello"), plaintext)
	}
}

func TestBroadcastIsolation(t *testing.T) {
	r := NewRegistry(nil)
	a := newBufferedSession(t, "a")
	b := NewSession("b", testSharedKey(t), brokenWriter{})
	c := newBufferedSession(t, "c")

	r.Register(a.Session)
	r.Register(b)
	r.Register(c.Session)

	delivered, err := r.Broadcast("a", []byte("still delivered"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver to b")
	assert.Equal(t, 2, delivered)

	cFrames := c.frames(t)
	require.Len(t, cFrames, 1)
	assert.Equal(t, []byte("still delivered"), cFrames[0])

	assert.Len(t, a.frames(t), 2)
}

func TestBroadcastDropsTornSession(t *testing.T) {
	r := NewRegistry(nil)
	alice := newBufferedSession(t, "alice")
	torn := &tornWriter{}
	bob := NewSession("bob", testSharedKey(t), torn)

	r.Register(alice.Session)
	r.Register(bob)

	delivered, err := r.Broadcast("alice", []byte("first"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver to bob")
	assert.Equal(t, 1, delivered)

	writes, closed := torn.state()
	assert.Equal(t, 1, writes)
	assert.True(t, closed, "torn stream should be closed")
	assert.True(t, bob.Broken())
	assert.Equal(t, []string{"alice"}, r.Names())

	delivered, err = r.Broadcast("alice", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	writes, _ = torn.state()
	assert.Equal(t, 1, writes, "no frame may follow a partial one")
	assert.ErrorIs(t, bob.Send([]byte("late")), ErrSessionClosed)

	// Close still wipes the key after a break
	bob.Close()
	assert.True(t, bob.key.IsZero())
}

func TestSendDeadlineFailure(t *testing.T) {
	w := &deadlineFailWriter{}
	s := NewSession("alice", testSharedKey(t), w)
	s.writeTimeout = time.Second

	err := s.Send([]byte("hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set write deadline")
	assert.Empty(t, w.Bytes())
	assert.True(t, s.Broken())
	assert.ErrorIs(t, s.Send([]byte("again")), ErrSessionClosed)
}

func TestSendOversizedKeepsSession(t *testing.T) {
	s := newBufferedSession(t, "alice")
	s.maxFrame = 64

	err := s.Send(bytes.Repeat([]byte("x"), 100))
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.False(t, s.Broken())
	assert.Empty(t, s.out.Bytes())

	require.NoError(t, s.Send([]byte("short")))
	assert.Equal(t, [][]byte{[]byte("short")}, s.frames(t))
}

func TestSendWithAckNotInterleaved(t *testing.T) {
	r := NewRegistry(nil)
	alice := newBufferedSession(t, "alice")
	bob := newBufferedSession(t, "bob")
	r.Register(alice.Session)
	r.Register(bob.Session)

	const rounds = 50
	var wg sync.WaitGroup
	for _, sender := range []*bufferedSession{alice, bob} {
		wg.Add(1)
		go func(sender *bufferedSession) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := r.BroadcastFrom(sender.Session, []byte(fmt.Sprintf("%s %d", sender.Name, i)))
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	for _, s := range []*bufferedSession{alice, bob} {
		frames := s.frames(t)
		require.Len(t, frames, 3*rounds)
		for i, f := range frames {
			if len(f) != 0 {
				continue
			}
			require.Less(t, i+1, len(frames))
			assert.True(t, strings.HasPrefix(string(frames[i+1]), s.Name+" "),
				"%s: ack at %d followed by %q", s.Name, i, frames[i+1])
		}
	}
}

func TestBroadcastSkipsDeregistered(t *testing.T) {
	r := NewRegistry(nil)
	alice := newBufferedSession(t, "alice")
	bob := newBufferedSession(t, "bob")
	r.Register(alice.Session)
	r.Register(bob.Session)

	r.Deregister("bob")
	bob.Close()

	_, err := r.Broadcast("alice", []byte("anyone?"))
	require.NoError(t, err)
	assert.Empty(t, bob.out.Bytes())
}

func TestBroadcastFromIgnoresNamesake(t *testing.T) {
	r := NewRegistry(nil)
	first := newBufferedSession(t, "alice")
	second := newBufferedSession(t, "alice")
	r.Register(first.Session)
	r.Register(second.Session)

	_, err := r.BroadcastFrom(first.Session, []byte("mine"))
	require.NoError(t, err)

	assert.Len(t, first.frames(t), 2)
	assert.Len(t, second.frames(t), 1)
}

func TestSessionClosed(t *testing.T) {
	s := newBufferedSession(t, "alice")
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Send([]byte("late")), ErrSessionClosed)
	assert.Empty(t, s.out.Bytes())
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)
	stable := newBufferedSession(t, "stable")
	r.Register(stable.Session)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			for j := 0; j < 20; j++ {
				s := newBufferedSession(t, name)
				r.Register(s.Session)
				r.Broadcast(name, []byte("churn"))
				r.Remove(s.Session)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	// every broadcast reached the stable session, frames intact
	assert.Len(t, stable.frames(t), 8*20)
}
