package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/storage"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// acceptLoop accepts incoming connections until the listener is closed.
// A failed Accept never ends the loop.
func (rs *RelayServer) acceptLoop() {
	backoff := minAcceptBackoff

	for {
		conn, err := rs.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			rs.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			backoff = min(backoff*2, maxAcceptBackoff)
			continue
		}
		backoff = minAcceptBackoff

		if !rs.trackConn(conn) {
			conn.Close()
			return
		}

		go rs.handleConnection(conn)
	}
}

// handleConnection drives one connection from handshake to teardown
func (rs *RelayServer) handleConnection(conn net.Conn) {
	defer rs.wg.Done()
	defer rs.untrackConn(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log := rs.logger.With(zap.String("remote", remote))
	log.Debug("new connection")

	hs, err := crypto.HandshakeConn(conn, rs.config.HandshakeTimeout)
	if err != nil {
		log.Warn("handshake failed", zap.Error(err))
		return
	}
	log.Debug("handshake complete", zap.String("peer_fingerprint", hs.PeerFingerprint))

	reader := protocol.NewFrameReader(conn)

	name, err := rs.awaitName(conn, reader)
	if err != nil {
		hs.Key.Wipe()
		log.Info("connection closed before naming", zap.Error(err))
		return
	}

	session := NewSession(name, hs.Key, conn)
	hs.Key.Wipe()
	session.RemoteAddr = remote
	session.JoinedAt = rs.config.Now()
	session.maxFrame = rs.config.MaxFrameSize
	session.writeTimeout = rs.config.WriteTimeout
	if session.Name == "" {
		session.Name = fallbackName(session.ID)
	}

	rs.sessionsTotal.Add(1)
	rs.registry.Register(session)
	rs.record(storage.EventJoin, session)

	log = log.With(zap.String("session", session.Name), zap.String("session_id", session.ID.String()))
	log.Info("session joined", zap.Int("connected", rs.registry.Len()))

	// Remove by identity so a namesake that is still connected stays
	// registered.
	defer func() {
		rs.registry.Remove(session)
		session.Close()
		rs.record(storage.EventLeave, session)
		log.Info("session left", zap.Int("connected", rs.registry.Len()))
	}()

	rs.relayLoop(session, reader, log)
}

// awaitName sends the plaintext prompt and reads one name line
func (rs *RelayServer) awaitName(conn net.Conn, reader *bufio.Reader) (string, error) {
	if rs.config.NameTimeout > 0 {
		conn.SetDeadline(time.Now().Add(rs.config.NameTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := io.WriteString(conn, protocol.UsernamePrompt); err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}

	// ReadSlice fails with bufio.ErrBufferFull on over-long names
	line, err := reader.ReadSlice('\n')
	if err != nil {
		return "", fmt.Errorf("read name: %w", err)
	}

	return protocol.NormalizeName(string(line)), nil
}

// relayLoop reads frames from the session's peer and broadcasts each chat
// line until the stream ends. Bad messages are dropped without closing the
// connection.
func (rs *RelayServer) relayLoop(session *Session, reader io.Reader, log *zap.Logger) {
	for {
		blob, err := protocol.ReadFrameLimit(reader, rs.config.MaxFrameSize)
		if err != nil {
			if protocol.IsClosed(err) {
				log.Debug("peer closed connection")
			} else {
				log.Warn("frame read failed", zap.Error(err))
			}
			return
		}

		plaintext, err := session.Open(blob)
		if err != nil {
			rs.droppedMessages.Add(1)
			log.Warn("dropping message that failed to decrypt", zap.Int("size", len(blob)), zap.Error(err))
			continue
		}

		text, err := protocol.DecodeText(plaintext)
		if err != nil {
			rs.droppedMessages.Add(1)
			log.Warn("dropping message with invalid encoding", zap.Error(err))
			continue
		}

		body := protocol.MessageBody(session.Name, text)
		if body == "" {
			continue
		}

		line := protocol.FormatChatLine(rs.config.Now(), session.Name, body)
		delivered, err := rs.registry.BroadcastFrom(session, []byte(line))
		if err != nil {
			rs.deliveryFailures.Add(uint64(countErrors(err)))
		}

		rs.messagesRelayed.Add(1)
		rs.record(storage.EventRelay, session)
		log.Debug("message relayed", zap.Int("recipients", delivered))

		if rs.OnMessageRelayed != nil {
			rs.OnMessageRelayed()
		}
	}
}

// countErrors counts the failures inside an errors.Join result
func countErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
