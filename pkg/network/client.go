package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

var (
	ErrNoName = errors.New("input closed before a username was entered")

	errInputClosed = errors.New("input closed")
	errStopped     = errors.New("client stopped")
)

// ClientConfig holds chat client configuration
type ClientConfig struct {
	Address          string
	Name             string // prompted for on input when empty
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxFrameSize     uint32
	Logger           *zap.Logger
	Now              func() time.Time
}

// DefaultClientConfig returns default client configuration for address
func DefaultClientConfig(address string) *ClientConfig {
	return &ClientConfig{
		Address:          address,
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: DefaultHandshakeTimeout,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		Now:              time.Now,
	}
}

// Client is an interactive chat peer. It reads lines from an input and
// prints relayed messages to an output.
type Client struct {
	config *ClientConfig
	logger *zap.Logger

	outMu sync.Mutex
}

// NewClient creates a new client. A nil config dials the default port on
// localhost.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig(JoinHostPort("127.0.0.1", DefaultPort))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}

	return &Client{
		config: cfg,
		logger: cfg.Logger,
	}
}

// clientStyles renders console output. With a non-terminal output the
// renderer falls back to plain text.
type clientStyles struct {
	self      lipgloss.Style
	delivered lipgloss.Style
	warning   lipgloss.Style
	info      lipgloss.Style
}

func newClientStyles(out io.Writer) clientStyles {
	r := lipgloss.NewRenderer(out)
	return clientStyles{
		self:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		delivered: r.NewStyle().Foreground(lipgloss.Color("10")),
		warning:   r.NewStyle().Foreground(lipgloss.Color("11")),
		info:      r.NewStyle().Faint(true),
	}
}

// Run connects to the relay and chats until input ends, ctx is cancelled
// or the relay goes away. Input EOF and cancellation return nil.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	styles := newClientStyles(out)

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", c.config.Address, err)
	}
	defer conn.Close()

	hs, err := crypto.HandshakeConn(conn, c.config.HandshakeTimeout)
	if err != nil {
		return err
	}
	key := hs.Key
	hs.Key.Wipe()
	defer key.Wipe()

	c.println(out, styles.info.Render("Secure channel established, relay key "+hs.PeerFingerprint))
	c.logger.Debug("handshake complete", zap.String("relay_fingerprint", hs.PeerFingerprint))

	reader := protocol.NewFrameReader(conn)

	if c.config.HandshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	}
	prompt, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read username prompt: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	c.print(out, prompt)

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	name, err := c.chooseName(ctx, lines, out)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(conn, name+"\n"); err != nil {
		return fmt.Errorf("failed to send username: %w", err)
	}

	var closing atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	// Closing the connection is what unblocks the receive loop
	g.Go(func() error {
		<-gctx.Done()
		closing.Store(true)
		conn.Close()
		return nil
	})

	g.Go(func() error {
		return c.receiveLoop(reader, key, name, out, styles, &closing)
	})

	g.Go(func() error {
		return c.sendLoop(gctx, conn, key, name, lines, out, styles, &closing)
	})

	err = g.Wait()
	if errors.Is(err, errInputClosed) || errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (c *Client) chooseName(ctx context.Context, lines <-chan string, out io.Writer) (string, error) {
	if name := protocol.NormalizeName(c.config.Name); name != "" {
		c.println(out, name)
		return name, nil
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return "", ErrNoName
			}
			if name := protocol.NormalizeName(line); name != "" {
				return name, nil
			}
		}
	}
}

// receiveLoop prints relayed messages. The client's own lines are skipped
// since sendLoop already echoed them.
func (c *Client) receiveLoop(reader io.Reader, key crypto.SharedKey, name string, out io.Writer, styles clientStyles, closing *atomic.Bool) error {
	for {
		blob, err := protocol.ReadFrameLimit(reader, c.config.MaxFrameSize)
		if err != nil {
			if closing.Load() {
				return errStopped
			}
			if protocol.IsClosed(err) {
				return fmt.Errorf("relay closed the connection: %w", err)
			}
			return fmt.Errorf("lost connection to relay: %w", err)
		}

		plaintext, err := crypto.Decrypt(key[:], blob)
		if err != nil {
			c.logger.Warn("failed to decrypt message", zap.Error(err))
			c.println(out, styles.warning.Render("⚠ could not decrypt a message"))
			continue
		}

		if protocol.IsDeliveryAck(plaintext) {
			c.println(out, styles.delivered.Render("✔ Delivered"))
			continue
		}

		text, err := protocol.DecodeText(plaintext)
		if err != nil {
			c.logger.Warn("received non-text message", zap.Error(err))
			c.println(out, styles.warning.Render("⚠ received a message that is not valid text"))
			continue
		}

		if protocol.IsFromSender(text, name) {
			continue
		}

		c.println(out, text)
	}
}

func (c *Client) sendLoop(ctx context.Context, conn net.Conn, key crypto.SharedKey, name string, lines <-chan string, out io.Writer, styles clientStyles, closing *atomic.Bool) error {
	for {
		select {
		case <-ctx.Done():
			return errStopped

		case line, ok := <-lines:
			if !ok {
				closing.Store(true)
				conn.Close()
				return errInputClosed
			}

			body := strings.TrimSpace(line)
			if body == "" {
				continue
			}

			now := c.config.Now()
			blob, err := crypto.Encrypt(key[:], []byte(protocol.FormatChatLine(now, name, body)))
			if err != nil {
				return err
			}

			if err := protocol.WriteFrameLimit(conn, blob, c.config.MaxFrameSize); err != nil {
				if closing.Load() {
					return errStopped
				}
				return fmt.Errorf("failed to send message: %w", err)
			}

			c.println(out, fmt.Sprintf("[%s] %s: %s", now.Format(protocol.TimeFormat), styles.self.Render(name), body))
		}
	}
}

func (c *Client) print(out io.Writer, s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	io.WriteString(out, s)
}

func (c *Client) println(out io.Writer, s string) {
	c.print(out, s+"\n")
}

// readLines feeds input lines to a channel that is closed at EOF. The
// reader goroutine gives up once done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	return lines
}
