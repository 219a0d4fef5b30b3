package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/metrics"
	"github.com/postalsys/pushrelay/internal/recovery"
)

// BackgroundTaskLabel names the grant held while the app is backgrounded.
const BackgroundTaskLabel = "Finish Network Tasks"

// AutomaticConfig wires an AutomaticConnectionHandler.
type AutomaticConfig struct {
	Socket     Socket
	AppState   AppStateObserver
	Network    NetworkMonitor
	Background BackgroundTaskRegistrar

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type eventKind uint8

const (
	evConnect eventKind = iota
	evBackground
	evForeground
	evNetwork
	evDisconnection
	evGrantExpired
	evSync
)

type event struct {
	kind    eventKind
	network NetworkStatus
	code    CloseCode
	task    *grantRef
	done    chan struct{}
}

// grantRef identifies one acquisition so a late expiry of an already
// released grant is ignored.
type grantRef struct {
	task BackgroundTask
}

// AutomaticConnectionHandler owns the socket lifecycle. It reconnects on
// foreground entry, network recovery and unexpected disconnection while
// foregrounded, and holds a background grant while backgrounded.
//
// Every transition runs on one event loop goroutine. Signal callbacks only
// enqueue, so they never block and never touch the socket.
type AutomaticConnectionHandler struct {
	socket     Socket
	appState   AppStateObserver
	network    NetworkMonitor
	background BackgroundTaskRegistrar
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	qmu    sync.Mutex
	queue  []event
	signal chan struct{}

	unsubscribeNetwork func()

	// grant is only touched by the event loop
	grant *grantRef

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAutomaticConnectionHandler subscribes to lifecycle and network
// signals and opens the connection.
func NewAutomaticConnectionHandler(cfg AutomaticConfig) *AutomaticConnectionHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &AutomaticConnectionHandler{
		socket:     cfg.Socket,
		appState:   cfg.AppState,
		network:    cfg.Network,
		background: cfg.Background,
		logger:     logging.Component(cfg.Logger, "connection"),
		metrics:    cfg.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		signal:     make(chan struct{}, 1),
	}

	h.enqueue(event{kind: evConnect})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer recovery.RecoverWithLog(h.logger, "connection.loop")
		h.loop()
	}()

	h.appState.SetOnWillEnterBackground(func() { h.enqueue(event{kind: evBackground}) })
	h.appState.SetOnWillEnterForeground(func() { h.enqueue(event{kind: evForeground}) })

	statuses, unsubscribe := h.network.Subscribe()
	h.unsubscribeNetwork = unsubscribe
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer recovery.RecoverWithLog(h.logger, "connection.network")
		h.forwardNetwork(statuses)
	}()

	return h
}

// HandleConnect always fails: the connection is managed automatically.
func (h *AutomaticConnectionHandler) HandleConnect() error {
	return ErrManualConnectForbidden
}

// HandleDisconnect always fails: the connection is managed automatically.
func (h *AutomaticConnectionHandler) HandleDisconnect(code CloseCode) error {
	return ErrManualDisconnectForbidden
}

// HandleDisconnection reports an unexpected close of the socket. The
// connection is reopened only while the app is in the foreground.
func (h *AutomaticConnectionHandler) HandleDisconnection(code CloseCode) {
	h.enqueue(event{kind: evDisconnection, code: code})
}

// Close stops the handler, unsubscribes from all signals and releases a
// held background grant. The socket is left as is.
func (h *AutomaticConnectionHandler) Close() {
	h.closeOnce.Do(func() {
		h.appState.SetOnWillEnterBackground(nil)
		h.appState.SetOnWillEnterForeground(nil)
		if h.unsubscribeNetwork != nil {
			h.unsubscribeNetwork()
		}
		h.cancel()
		h.wg.Wait()
	})
}

func (h *AutomaticConnectionHandler) enqueue(ev event) {
	h.qmu.Lock()
	h.queue = append(h.queue, ev)
	h.qmu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *AutomaticConnectionHandler) dequeue() []event {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	events := h.queue
	h.queue = nil
	return events
}

func (h *AutomaticConnectionHandler) forwardNetwork(statuses <-chan NetworkStatus) {
	for {
		select {
		case status, ok := <-statuses:
			if !ok {
				return
			}
			h.enqueue(event{kind: evNetwork, network: status})
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *AutomaticConnectionHandler) loop() {
	defer h.releaseGrant()

	for {
		select {
		case <-h.ctx.Done():
			h.drainSync()
			return
		case <-h.signal:
		}

		for _, ev := range h.dequeue() {
			if h.ctx.Err() != nil {
				if ev.done != nil {
					close(ev.done)
				}
				continue
			}
			h.handle(ev)
		}
	}
}

// drainSync unblocks sync callers still queued at shutdown.
func (h *AutomaticConnectionHandler) drainSync() {
	for _, ev := range h.dequeue() {
		if ev.done != nil {
			close(ev.done)
		}
	}
}

func (h *AutomaticConnectionHandler) handle(ev event) {
	switch ev.kind {
	case evConnect:
		if err := h.socket.Connect(h.ctx); err != nil {
			h.logger.Warn("initial connect failed", logging.KeyError, err)
		}

	case evBackground:
		h.recordEvent("background")
		h.acquireGrant()

	case evForeground:
		h.recordEvent("foreground")
		h.releaseGrant()
		if !h.socket.IsConnected() {
			h.reconnect("foreground")
		}

	case evNetwork:
		h.recordEvent("network_" + ev.network.String())
		h.logger.Debug("network changed", logging.KeyNetwork, ev.network.String())
		switch ev.network {
		case NetworkConnected:
			if !h.socket.IsConnected() {
				h.reconnect("network")
			}
		case NetworkDisconnected:
			h.socket.Disconnect(CloseNormal)
		}

	case evDisconnection:
		h.recordEvent("unexpected_disconnect")
		state := h.appState.CurrentState()
		h.logger.Debug("socket closed unexpectedly",
			logging.KeyCloseCode, int(ev.code),
			logging.KeyAppState, state.String())
		// A network or foreground event may already have reopened it
		if state == AppForeground && !h.socket.IsConnected() {
			h.reconnect("disconnection")
		}

	case evGrantExpired:
		if h.grant == nil || h.grant != ev.task {
			return
		}
		h.logger.Info("background time expired, closing connection")
		if h.metrics != nil {
			h.metrics.RecordBackgroundExpired()
		}
		h.socket.Disconnect(CloseNormal)
		h.releaseGrant()

	case evSync:
		close(ev.done)
	}
}

func (h *AutomaticConnectionHandler) reconnect(trigger string) {
	err := h.socket.Reconnect(h.ctx)
	if h.metrics != nil {
		h.metrics.RecordReconnect(trigger, err)
	}
	if err != nil {
		h.logger.Warn("reconnect failed", "trigger", trigger, logging.KeyError, err)
		return
	}
	h.logger.Debug("reconnected", "trigger", trigger)
}

func (h *AutomaticConnectionHandler) acquireGrant() {
	if h.grant != nil {
		return
	}
	ref := &grantRef{}
	ref.task = h.background.Register(BackgroundTaskLabel, func() {
		h.enqueue(event{kind: evGrantExpired, task: ref})
	})
	h.grant = ref
	if h.metrics != nil {
		h.metrics.RecordBackgroundGrant()
	}
	h.logger.Debug("background grant acquired", logging.KeyLabel, BackgroundTaskLabel)
}

func (h *AutomaticConnectionHandler) releaseGrant() {
	if h.grant == nil {
		return
	}
	if h.grant.task != nil {
		h.grant.task.Release()
	}
	h.grant = nil
}

func (h *AutomaticConnectionHandler) recordEvent(name string) {
	if h.metrics != nil {
		h.metrics.RecordLifecycleEvent(name)
	}
}

// sync blocks until every event enqueued before the call has been handled.
func (h *AutomaticConnectionHandler) sync() {
	done := make(chan struct{})
	h.enqueue(event{kind: evSync, done: done})
	select {
	case <-done:
	case <-h.ctx.Done():
	}
}
