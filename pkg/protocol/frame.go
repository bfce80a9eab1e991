package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrIO               = errors.New("i/o failure")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrEncoding         = errors.New("invalid text encoding")
)

// flusher is satisfied by buffered writers such as *bufio.Writer
type flusher interface {
	Flush() error
}

// WriteFrame writes payload prefixed by its big-endian u32 length.
// Frames are capped at DefaultMaxFrameSize.
func WriteFrame(w io.Writer, payload []byte) error {
	return WriteFrameLimit(w, payload, DefaultMaxFrameSize)
}

// WriteFrameLimit is WriteFrame with an explicit size cap. A zero limit
// only enforces the u32 range.
func WriteFrameLimit(w io.Writer, payload []byte, limit uint32) error {
	if uint64(len(payload)) > uint64(^uint32(0)) || (limit > 0 && uint64(len(payload)) > uint64(limit)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	// Prefix and payload go out in one write so concurrent frame writers
	// serialized by a mutex never interleave partial frames.
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return classify(err)
	}

	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return classify(err)
		}
	}

	return nil
}

// ReadFrame reads one length-prefixed frame, capped at DefaultMaxFrameSize
func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameLimit(r, DefaultMaxFrameSize)
}

// ReadFrameLimit reads one length-prefixed frame. A declared length above
// limit fails with ErrFrameTooLarge without reading the payload; the
// stream is unusable afterwards. A zero limit disables the check.
//
// End of stream, both clean and mid-frame, maps to ErrConnectionClosed.
func ReadFrameLimit(r io.Reader, limit uint32) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, classify(err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if limit > 0 && length > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, limit)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, classify(err)
	}

	return payload, nil
}

// NewFrameReader wraps a connection for frame reads. The relay and client
// share one buffered reader between the plaintext name line and the frames
// that follow it.
func NewFrameReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// IsClosed reports whether err means the peer went away
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

func classify(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}
