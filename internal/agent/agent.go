// Package agent wires the relay connection, lifecycle signals, key store
// and push handshake into one running client.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/pushrelay/internal/config"
	"github.com/postalsys/pushrelay/internal/crypto"
	"github.com/postalsys/pushrelay/internal/echo"
	"github.com/postalsys/pushrelay/internal/health"
	"github.com/postalsys/pushrelay/internal/kms"
	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/metrics"
	"github.com/postalsys/pushrelay/internal/networking"
	"github.com/postalsys/pushrelay/internal/push"
	"github.com/postalsys/pushrelay/internal/recovery"
	"github.com/postalsys/pushrelay/internal/relay"
	"github.com/postalsys/pushrelay/internal/rpc"
)

// ErrEchoDisabled is returned by RegisterDevice when echo is not configured.
var ErrEchoDisabled = errors.New("echo registration is disabled")

// Agent is a running push client.
type Agent struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	clientKey  *crypto.ClientKey
	keys       *kms.MemoryStore
	history    *rpc.MemoryHistory
	acks       *push.AckBroadcaster
	socket     *relay.WebSocketSocket
	observer   *relay.ManualAppStateObserver
	monitor    *relay.ProbeMonitor
	grants     *relay.TimerRegistrar
	interactor *networking.RelayInteractor
	echo       *echo.Client

	// Set by Start.
	mu           sync.RWMutex
	handler      relay.SocketConnectionHandler
	automatic    *relay.AutomaticConnectionHandler
	client       *relay.Client
	healthServer *health.Server

	cancel   context.CancelFunc
	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an agent from cfg. Nothing is started.
func New(cfg *config.Config) (*Agent, error) {
	return NewWithLogger(cfg, logging.NewLogger(cfg.Log.Level, cfg.Log.Format))
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	var (
		clientKey *crypto.ClientKey
		err       error
	)
	if cfg.Relay.ClientKey != "" {
		clientKey, err = crypto.ParseClientKeySeed(cfg.Relay.ClientKey)
	} else {
		clientKey, err = crypto.GenerateClientKey()
	}
	if err != nil {
		return nil, fmt.Errorf("client key: %w", err)
	}

	registry := prometheus.NewRegistry()
	a := &Agent{
		cfg:       cfg,
		logger:    logging.Component(logger, "agent"),
		registry:  registry,
		metrics:   metrics.NewMetricsWithRegistry(registry),
		clientKey: clientKey,
		keys:      kms.NewMemoryStore(),
		history:   rpc.NewMemoryHistory(),
		acks:      push.NewAckBroadcaster(),
	}

	initial := relay.AppForeground
	if cfg.Lifecycle.InitialState == "background" {
		initial = relay.AppBackground
	}
	a.observer = relay.NewManualAppStateObserver(initial)
	a.grants = relay.NewTimerRegistrar(cfg.Lifecycle.BackgroundGrant, logger)
	a.monitor = relay.NewProbeMonitor(relay.ProbeConfig{
		Address:  cfg.ProbeAddress(),
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
		Logger:   logger,
	})

	a.socket = relay.NewWebSocketSocket(relay.WebSocketConfig{
		URL:         cfg.Relay.URL,
		ProjectID:   cfg.Relay.ProjectID,
		Auth:        relay.NewAuthenticator(clientKey, cfg.Relay.URL, cfg.Relay.AuthTTL),
		DialTimeout: cfg.Relay.DialTimeout,
		DialRate:    cfg.Relay.ReconnectRate,
		DialBurst:   cfg.Relay.ReconnectBurst,
		Logger:      logger,
		Metrics:     a.metrics,
	})
	a.socket.SetOnUnexpectedClose(a.handleUnexpectedClose)
	a.socket.SetOnMessage(a.handleFrame)

	a.interactor = networking.NewRelayInteractor(publisherFunc(a.publish), a.keys, logger)

	if cfg.Echo.Enabled {
		svc, err := echo.NewHTTPRegisterService(echo.HTTPConfig{
			BaseURL:   cfg.Echo.URL,
			ProjectID: cfg.EchoProjectID(),
			ClientID:  cfg.Echo.ClientID,
			PushType:  echo.PushType(cfg.Echo.PushType),
			Timeout:   cfg.Echo.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("echo: %w", err)
		}
		a.echo = echo.NewClient(svc, logger)
	}

	return a, nil
}

// publisherFunc adapts a function to networking.Publisher.
type publisherFunc func(ctx context.Context, topic, message string, cfg rpc.RelayConfig) error

func (f publisherFunc) Publish(ctx context.Context, topic, message string, cfg rpc.RelayConfig) error {
	return f(ctx, topic, message, cfg)
}

// Start opens the relay connection and starts monitors and the health
// server.
func (a *Agent) Start() error {
	if a.running.Swap(true) {
		return fmt.Errorf("agent already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.logger.Info("starting agent",
		logging.KeyURL, a.cfg.Relay.URL,
		"mode", a.cfg.Relay.ConnectionMode,
		"client_id", a.clientKey.PublicHex())

	a.monitor.Start(ctx)

	if a.cfg.Lifecycle.Signals {
		a.wg.Add(1)
		recovery.Go(a.logger, "lifecycle.signals", func() {
			defer a.wg.Done()
			relay.NotifyLifecycleSignals(ctx, a.observer, a.logger)
		}, nil)
	}

	var handler relay.SocketConnectionHandler
	var automatic *relay.AutomaticConnectionHandler
	switch a.cfg.Relay.ConnectionMode {
	case config.ModeManual:
		handler = relay.NewManualConnectionHandler(a.socket, a.cfg.Relay.DialTimeout, a.logger)
	default:
		automatic = relay.NewAutomaticConnectionHandler(relay.AutomaticConfig{
			Socket:     a.socket,
			AppState:   a.observer,
			Network:    a.monitor,
			Background: a.grants,
			Logger:     a.logger,
			Metrics:    a.metrics,
		})
		handler = automatic
	}

	client := relay.NewClient(relay.ClientConfig{
		Handler:        handler,
		Sender:         a.socket,
		RequestTimeout: a.cfg.Relay.RequestTimeout,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	client.SetOnMessage(a.handleMessage)

	a.mu.Lock()
	a.handler = handler
	a.automatic = automatic
	a.client = client
	a.mu.Unlock()

	if automatic == nil {
		if err := client.Connect(); err != nil {
			a.Stop()
			return fmt.Errorf("connect: %w", err)
		}
	}

	if a.cfg.Health.Enabled {
		srv := health.NewServer(health.ServerConfig{
			Address:      a.cfg.Health.Address,
			ReadTimeout:  a.cfg.Health.ReadTimeout,
			WriteTimeout: a.cfg.Health.WriteTimeout,
			Gatherer:     a.registry,
			EnablePprof:  a.cfg.Health.Pprof,
			Logger:       a.logger,
		}, a)
		if err := srv.Start(); err != nil {
			a.Stop()
			return fmt.Errorf("start health server: %w", err)
		}
		a.mu.Lock()
		a.healthServer = srv
		a.mu.Unlock()
	}

	return nil
}

// Stop shuts the agent down. It is safe to call more than once.
func (a *Agent) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.logger.Info("stopping agent")
		a.running.Store(false)

		a.mu.RLock()
		srv, automatic := a.healthServer, a.automatic
		a.mu.RUnlock()

		if srv != nil {
			err = srv.Stop()
		}
		if automatic != nil {
			automatic.Close()
		}
		if a.socket.IsConnected() {
			a.socket.Disconnect(relay.CloseNormal)
		}
		a.monitor.Stop()
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()

		a.logger.Info("agent stopped")
	})
	return err
}

// StopWithContext stops with a timeout.
func (a *Agent) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- a.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the agent is running.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// ClientKey returns the key the agent authenticates to the relay with.
func (a *Agent) ClientKey() *crypto.ClientKey {
	return a.clientKey
}

// AppState returns the observer that drives lifecycle transitions.
func (a *Agent) AppState() *relay.ManualAppStateObserver {
	return a.observer
}

// Network returns the reachability monitor.
func (a *Agent) Network() *relay.ProbeMonitor {
	return a.monitor
}

// Client returns the relay client, or nil before Start.
func (a *Agent) Client() *relay.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// History returns the request history fed by inbound messages.
func (a *Agent) History() *rpc.MemoryHistory {
	return a.history
}

// Acks returns the broadcaster subscription results are published on.
func (a *Agent) Acks() *push.AckBroadcaster {
	return a.acks
}

// Registry returns the agent's metrics registry.
func (a *Agent) Registry() *prometheus.Registry {
	return a.registry
}

// NewResponder builds a proposal responder that shares the agent's key
// store, history, interactor and acknowledgment stream.
func (a *Agent) NewResponder(requester push.SubscribeRequester) *push.ProposeResponder {
	return push.NewProposeResponder(push.ResponderConfig{
		History:    a.history,
		Requester:  requester,
		Acks:       a.acks,
		Keys:       a.keys,
		Interactor: a.interactor,
		AckTimeout: a.cfg.Push.AckTimeout,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
}

// Watch stores key for topic and subscribes to it, so requests arriving
// on topic are decoded into the history.
func (a *Agent) Watch(ctx context.Context, topic string, key crypto.SymmetricKey) (string, error) {
	client := a.Client()
	if client == nil {
		return "", relay.ErrNotConnected
	}
	if err := a.keys.SetSymmetricKey(key, topic); err != nil {
		return "", err
	}
	id, err := client.Subscribe(ctx, topic)
	if err != nil {
		a.keys.DeleteSymmetricKey(topic)
		return "", err
	}
	return id, nil
}

// Unwatch cancels the relay subscription id on topic and drops the topic's
// key and recorded requests. The local state is dropped even when the relay
// call fails.
func (a *Agent) Unwatch(ctx context.Context, topic, id string) error {
	client := a.Client()
	if client == nil {
		return relay.ErrNotConnected
	}
	err := client.Unsubscribe(ctx, topic, id)
	a.keys.DeleteSymmetricKey(topic)
	a.history.DeleteTopic(topic)
	return err
}

// RegisterDevice registers a raw push token with the echo server.
func (a *Agent) RegisterDevice(ctx context.Context, token []byte) error {
	if a.echo == nil {
		return ErrEchoDisabled
	}
	return a.echo.Register(ctx, token)
}

// Status implements health.StatusProvider.
func (a *Agent) Status() health.Status {
	network := "unknown"
	if status, ok := a.monitor.Status(); ok {
		network = status.String()
	}
	return health.Status{
		Connected:       a.socket.IsConnected(),
		Mode:            a.cfg.Relay.ConnectionMode,
		AppState:        a.observer.CurrentState().String(),
		Network:         network,
		LastConnect:     a.socket.LastConnect(),
		PendingRequests: len(a.history.Pending()),
		PendingAcks:     a.acks.Waiters(),
		ActiveGrants:    a.grants.Active(),
	}
}

func (a *Agent) publish(ctx context.Context, topic, message string, cfg rpc.RelayConfig) error {
	client := a.Client()
	if client == nil {
		return relay.ErrNotConnected
	}
	return client.Publish(ctx, topic, message, cfg)
}

func (a *Agent) handleFrame(data []byte) {
	if client := a.Client(); client != nil {
		client.HandleMessage(data)
	}
}

func (a *Agent) handleUnexpectedClose(code relay.CloseCode) {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		a.logger.Debug("socket closed before start", logging.KeyCloseCode, int(code))
		return
	}
	handler.HandleDisconnection(code)
}

// inbound is the part of a JSON-RPC message needed to tell requests from
// responses.
type inbound struct {
	ID     rpc.ID `json:"id"`
	Method string `json:"method"`
}

// handleMessage decodes a message on a watched topic into the history.
func (a *Agent) handleMessage(msg relay.Message) {
	payload, _, err := a.interactor.Decode(msg.Topic, msg.Message)
	if err != nil {
		a.logger.Debug("dropping undecodable message",
			logging.KeyTopic, msg.Topic,
			logging.KeyError, err)
		return
	}

	var head inbound
	if err := json.Unmarshal(payload, &head); err != nil {
		a.logger.Debug("dropping malformed payload", logging.KeyTopic, msg.Topic, logging.KeyError, err)
		return
	}

	if head.Method != "" {
		var req rpc.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		if err := a.history.Set(msg.Topic, req); err != nil {
			a.logger.Debug("request not recorded", logging.KeyRequestID, int64(req.ID), logging.KeyError, err)
			return
		}
		a.logger.Info("request received",
			logging.KeyTopic, msg.Topic,
			logging.KeyMethod, req.Method,
			logging.KeyRequestID, int64(req.ID))
		return
	}

	var resp rpc.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	if err := a.history.Resolve(resp); err != nil {
		a.logger.Debug("response not correlated", logging.KeyRequestID, int64(resp.ID), logging.KeyError, err)
	}
}

// shutdownTimeout bounds Stop when driven from the CLI.
const shutdownTimeout = 10 * time.Second

// ShutdownContext returns a context bounded by the default shutdown timeout.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
