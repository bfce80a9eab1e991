package network

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/storage"
)

// Default relay settings
const (
	DefaultPort             = 8080
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultNameTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// EventRecorder receives session lifecycle events. *storage.EventJournal
// implements it.
type EventRecorder interface {
	RecordEvent(kind, sessionID, name, remoteAddr string) error
}

// RelayConfig holds relay server configuration
type RelayConfig struct {
	ListenAddr       string        // host:port or multiaddr
	HandshakeTimeout time.Duration // 0 disables
	NameTimeout      time.Duration // 0 disables
	WriteTimeout     time.Duration // per-frame write deadline, 0 disables
	MaxFrameSize     uint32
	Logger           *zap.Logger
	Journal          EventRecorder   // optional
	Now              func() time.Time // clock used to stamp chat lines
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:       JoinHostPort("0.0.0.0", DefaultPort),
		HandshakeTimeout: DefaultHandshakeTimeout,
		NameTimeout:      DefaultNameTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		Now:              time.Now,
	}
}

// RelayServer accepts chat connections and fans every message out to all
// registered sessions.
type RelayServer struct {
	config   *RelayConfig
	logger   *zap.Logger
	registry *Registry

	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	mu       sync.Mutex
	wg       sync.WaitGroup

	startTime time.Time

	events      chan journalEvent
	journalDone chan struct{}

	// Statistics
	messagesRelayed  atomic.Uint64
	deliveryFailures atomic.Uint64
	droppedMessages  atomic.Uint64
	sessionsTotal    atomic.Uint64
	journalDropped   atomic.Uint64

	// Callbacks
	OnMessageRelayed func()
}

// NewRelayServer creates a new relay server. A nil config uses defaults.
func NewRelayServer(cfg *RelayConfig) *RelayServer {
	if cfg == nil {
		cfg = DefaultRelayConfig()
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

	rs := &RelayServer{
		config:    cfg,
		logger:    cfg.Logger,
		registry:  NewRegistry(cfg.Logger),
		conns:     make(map[net.Conn]struct{}),
		startTime: time.Now(),
	}
	rs.startJournal()
	return rs
}

// Start starts listening on the configured address and accepts in the
// background
func (rs *RelayServer) Start() error {
	addr, err := ResolveListenAddr(rs.config.ListenAddr)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	if err := rs.setListener(listener); err != nil {
		listener.Close()
		return err
	}

	rs.logger.Info("relay server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("multiaddr", Multiaddr(listener.Addr())))

	go rs.acceptLoop()

	return nil
}

// Serve accepts connections on ln until Stop is called. It returns nil
// after a clean shutdown.
func (rs *RelayServer) Serve(ln net.Listener) error {
	if err := rs.setListener(ln); err != nil {
		return err
	}
	rs.acceptLoop()
	return nil
}

var errServerClosed = errors.New("relay server closed")

func (rs *RelayServer) setListener(ln net.Listener) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closing {
		return errServerClosed
	}
	rs.listener = ln
	return nil
}

// Addr returns the bound listener address, or nil before Start
func (rs *RelayServer) Addr() net.Addr {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.listener == nil {
		return nil
	}
	return rs.listener.Addr()
}

// Stop closes the listener and every live connection, waits for the
// connection handlers to finish deregistering, then flushes the journal.
func (rs *RelayServer) Stop() error {
	rs.mu.Lock()
	if rs.closing {
		rs.mu.Unlock()
		return nil
	}
	rs.closing = true
	listener := rs.listener
	for conn := range rs.conns {
		conn.Close()
	}
	rs.mu.Unlock()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	rs.wg.Wait()
	rs.stopJournal()
	rs.logger.Info("relay server stopped")

	return err
}

// Registry returns the live session registry
func (rs *RelayServer) Registry() *Registry {
	return rs.registry
}

// Sessions returns a snapshot of the registered sessions
func (rs *RelayServer) Sessions() []SessionInfo {
	snapshot := rs.registry.Snapshot()
	infos := make([]SessionInfo, len(snapshot))
	for i, s := range snapshot {
		infos[i] = s.Info()
	}
	return infos
}

// GetStats returns relay statistics
func (rs *RelayServer) GetStats() map[string]interface{} {
	rs.mu.Lock()
	openConns := len(rs.conns)
	rs.mu.Unlock()

	return map[string]interface{}{
		"messages_relayed":   rs.messagesRelayed.Load(),
		"delivery_failures":  rs.deliveryFailures.Load(),
		"dropped_messages":   rs.droppedMessages.Load(),
		"sessions_total":     rs.sessionsTotal.Load(),
		"connected_sessions": rs.registry.Len(),
		"open_connections":   openConns,
		"journal_dropped":    rs.journalDropped.Load(),
		"uptime_seconds":     int64(time.Since(rs.startTime).Seconds()),
	}
}

// trackConn registers a live connection so Stop can close it. It reports
// false once the server is shutting down.
func (rs *RelayServer) trackConn(conn net.Conn) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closing {
		return false
	}
	rs.conns[conn] = struct{}{}
	rs.wg.Add(1)
	return true
}

func (rs *RelayServer) untrackConn(conn net.Conn) {
	rs.mu.Lock()
	delete(rs.conns, conn)
	rs.mu.Unlock()
}

var _ EventRecorder = (*storage.EventJournal)(nil)
