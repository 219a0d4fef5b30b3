package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/metrics"
	"github.com/postalsys/pushrelay/internal/recovery"
)

const (
	defaultDialTimeout = 15 * time.Second
	defaultReadLimit   = 1 << 20 // 1 MB
)

// WebSocketConfig configures a WebSocketSocket.
type WebSocketConfig struct {
	// URL of the relay, ws:// or wss://.
	URL       string
	ProjectID string

	// Auth, when set, signs a fresh token for every dial.
	Auth *Authenticator

	DialTimeout time.Duration
	ReadLimit   int64

	// DialRate limits dial attempts per second; zero means unlimited.
	DialRate  float64
	DialBurst int

	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// WebSocketSocket is a Socket backed by a single WebSocket connection.
// Closes not initiated by Disconnect are reported to the unexpected-close
// callback with the peer's close code.
type WebSocketSocket struct {
	cfg     WebSocketConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	// dialMu serializes Connect and Reconnect.
	dialMu sync.Mutex

	mu                sync.Mutex
	conn              *websocket.Conn
	gen               uint64
	onUnexpectedClose func(CloseCode)
	onMessage         func([]byte)
	lastConnect       time.Time
}

// NewWebSocketSocket creates a disconnected socket.
func NewWebSocketSocket(cfg WebSocketConfig) *WebSocketSocket {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	limit := rate.Inf
	if cfg.DialRate > 0 {
		limit = rate.Limit(cfg.DialRate)
	}
	if cfg.DialBurst <= 0 {
		cfg.DialBurst = 1
	}
	return &WebSocketSocket{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.DialBurst),
		logger:  logging.Component(cfg.Logger, "socket"),
		metrics: cfg.Metrics,
	}
}

// SetOnUnexpectedClose sets the callback run when the peer or the network
// closes the connection.
func (s *WebSocketSocket) SetOnUnexpectedClose(fn func(CloseCode)) {
	s.mu.Lock()
	s.onUnexpectedClose = fn
	s.mu.Unlock()
}

// SetOnMessage sets the callback run for every inbound message.
func (s *WebSocketSocket) SetOnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// IsConnected reports whether a connection is open.
func (s *WebSocketSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// LastConnect returns when the current or last connection was opened.
func (s *WebSocketSocket) LastConnect() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConnect
}

// Connect dials the relay. It is a no-op when already connected.
func (s *WebSocketSocket) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	return s.connectLocked(ctx)
}

// Reconnect closes any open connection and dials again.
func (s *WebSocketSocket) Reconnect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.Disconnect(CloseNormal)
	return s.connectLocked(ctx)
}

// Disconnect closes the connection with code. It does not trigger the
// unexpected-close callback.
func (s *WebSocketSocket) Disconnect(code CloseCode) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSocketDisconnect("local")
	}
	s.logger.Debug("disconnecting", logging.KeyCloseCode, int(code))
	if err := conn.Close(websocket.StatusCode(code), ""); err != nil {
		s.logger.Debug("close handshake failed", logging.KeyError, err)
	}
}

// Send writes one text message.
func (s *WebSocketSocket) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *WebSocketSocket) connectLocked(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dial throttled: %w", err)
	}

	target, err := s.dialURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: s.cfg.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.conn = conn
	s.lastConnect = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSocketConnect()
	}
	s.logger.Info("connected", logging.KeyURL, redactQuery(target))

	recovery.Go(s.logger, "socket.read", func() {
		s.readLoop(conn, gen)
	}, nil)
	return nil
}

func (s *WebSocketSocket) dialURL() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	if s.cfg.ProjectID != "" {
		q.Set("projectId", s.cfg.ProjectID)
	}
	if s.cfg.Auth != nil {
		token, err := s.cfg.Auth.Token()
		if err != nil {
			return "", fmt.Errorf("sign auth token: %w", err)
		}
		q.Set("auth", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSocket) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			s.handleReadError(gen, err)
			return
		}

		if s.metrics != nil {
			s.metrics.RecordMessageReceived()
		}
		s.mu.Lock()
		fn := s.onMessage
		s.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (s *WebSocketSocket) handleReadError(gen uint64, err error) {
	s.mu.Lock()
	current := s.gen == gen && s.conn != nil
	if current {
		s.conn = nil
	}
	cb := s.onUnexpectedClose
	s.mu.Unlock()

	// Closed by Disconnect
	if !current {
		return
	}

	code := CloseCode(websocket.CloseStatus(err))
	if code < 0 {
		code = CloseAbnormal
	}
	if s.metrics != nil {
		s.metrics.RecordSocketDisconnect("remote")
	}
	s.logger.Warn("connection lost", logging.KeyCloseCode, int(code), logging.KeyError, err)

	if cb != nil {
		cb(code)
	}
}

// redactQuery drops the query string, which carries the auth token.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
