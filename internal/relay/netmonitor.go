package relay

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/recovery"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// ProbeConfig configures a ProbeMonitor.
type ProbeConfig struct {
	// Address is dialed over TCP to test reachability, e.g. the relay's
	// host:port.
	Address  string
	Interval time.Duration
	Timeout  time.Duration

	// Dial overrides the TCP dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	Logger *slog.Logger
}

// ProbeMonitor is a NetworkMonitor that polls a TCP address and publishes
// transitions. Each subscriber holds only the latest status, so a slow
// subscriber never blocks the monitor.
type ProbeMonitor struct {
	cfg    ProbeConfig
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan NetworkStatus
	nextID int
	status NetworkStatus
	known  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProbeMonitor creates a monitor. Call Start to begin polling.
func NewProbeMonitor(cfg ProbeConfig) *ProbeMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	return &ProbeMonitor{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "netmonitor"),
		subs:   make(map[int]chan NetworkStatus),
		stopCh: make(chan struct{}),
	}
}

// Start polls until Stop is called or ctx is done.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	recovery.Go(m.logger, "netmonitor.poll", func() {
		defer m.wg.Done()
		m.poll(ctx)
	}, nil)
}

// Stop ends polling and closes every subscription.
func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// Subscribe returns a channel of status transitions.
func (m *ProbeMonitor) Subscribe() (<-chan NetworkStatus, func()) {
	ch := make(chan NetworkStatus, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// Status returns the last observed status. ok is false before the first
// probe completes.
func (m *ProbeMonitor) Status() (status NetworkStatus, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.known
}

// Set records status and notifies subscribers when it changed.
func (m *ProbeMonitor) Set(status NetworkStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.known && m.status == status {
		return
	}
	m.status = status
	m.known = true

	m.logger.Debug("network status", logging.KeyNetwork, status.String())
	for _, ch := range m.subs {
		// Replace an undelivered value with the newer one
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}

func (m *ProbeMonitor) poll(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.Set(m.probe(ctx))

		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) NetworkStatus {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, err := m.cfg.Dial(ctx, "tcp", m.cfg.Address)
	if err != nil {
		m.logger.Debug("probe failed", logging.KeyAddress, m.cfg.Address, logging.KeyError, err)
		return NetworkDisconnected
	}
	conn.Close()
	return NetworkConnected
}
