package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/metrics"
	"github.com/postalsys/pushrelay/internal/rpc"
)

// Relay JSON-RPC methods.
const (
	MethodPublish      = "irn_publish"
	MethodSubscribe    = "irn_subscribe"
	MethodUnsubscribe  = "irn_unsubscribe"
	MethodSubscription = "irn_subscription"
)

const defaultRequestTimeout = 30 * time.Second

// Sender writes one framed message to the relay.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// PublishParams are the params of irn_publish.
type PublishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Tag     int    `json:"tag"`
	Prompt  bool   `json:"prompt,omitempty"`
}

// SubscribeParams are the params of irn_subscribe.
type SubscribeParams struct {
	Topic string `json:"topic"`
}

// UnsubscribeParams are the params of irn_unsubscribe.
type UnsubscribeParams struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

// Message is a payload delivered on a subscribed topic.
type Message struct {
	Topic       string `json:"topic"`
	Message     string `json:"message"`
	PublishedAt int64  `json:"publishedAt"`
}

type subscriptionParams struct {
	ID   string  `json:"id"`
	Data Message `json:"data"`
}

// frame is any inbound JSON-RPC message; requests carry Method.
type frame struct {
	ID     rpc.ID          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpc.Error      `json:"error,omitempty"`
}

// ClientConfig wires a Client.
type ClientConfig struct {
	Handler SocketConnectionHandler
	Sender  Sender

	// RequestTimeout bounds each request when ctx has no deadline.
	RequestTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client speaks the relay's JSON-RPC dialect over the socket. Opening and
// closing the connection goes through the connection handler.
type Client struct {
	handler        SocketConnectionHandler
	sender         Sender
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu        sync.Mutex
	pending   map[rpc.ID]chan rpc.Response
	onMessage func(Message)
}

// NewClient creates a relay client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Client{
		handler:        cfg.Handler,
		sender:         cfg.Sender,
		requestTimeout: cfg.RequestTimeout,
		logger:         logging.Component(cfg.Logger, "relay"),
		metrics:        cfg.Metrics,
		pending:        make(map[rpc.ID]chan rpc.Response),
	}
}

// Connect asks the connection handler to open the socket. In automatic
// mode this fails with ErrManualConnectForbidden.
func (c *Client) Connect() error {
	return c.handler.HandleConnect()
}

// Disconnect asks the connection handler to close the socket. In
// automatic mode this fails with ErrManualDisconnectForbidden.
func (c *Client) Disconnect(code CloseCode) error {
	return c.handler.HandleDisconnect(code)
}

// SetOnMessage sets the callback for payloads on subscribed topics.
func (c *Client) SetOnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Publish sends message on topic with the publish policy cfg.
func (c *Client) Publish(ctx context.Context, topic, message string, cfg rpc.RelayConfig) error {
	params := PublishParams{
		Topic:   topic,
		Message: message,
		TTL:     int64(cfg.TTL / time.Second),
		Tag:     cfg.Tag,
		Prompt:  cfg.Prompt,
	}
	var ok bool
	err := c.request(ctx, MethodPublish, params, &ok)
	if c.metrics != nil {
		c.metrics.RecordPublish(strconv.Itoa(cfg.Tag), err)
	}
	if err != nil {
		return fmt.Errorf("publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to topic and returns the relay's subscription id.
func (c *Client) Subscribe(ctx context.Context, topic string) (string, error) {
	var id string
	if err := c.request(ctx, MethodSubscribe, SubscribeParams{Topic: topic}, &id); err != nil {
		return "", fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return id, nil
}

// Unsubscribe cancels the subscription id on topic.
func (c *Client) Unsubscribe(ctx context.Context, topic, id string) error {
	var ok bool
	if err := c.request(ctx, MethodUnsubscribe, UnsubscribeParams{Topic: topic, ID: id}, &ok); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", topic, err)
	}
	return nil
}

// HandleMessage processes one inbound frame. Wire it to the socket's
// message callback.
func (c *Client) HandleMessage(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("dropping malformed frame", logging.KeyError, err)
		return
	}

	if f.Method != "" {
		c.handleRequest(f)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response for unknown request", logging.KeyRequestID, int64(f.ID))
		return
	}
	ch <- rpc.Response{ID: f.ID, JSONRPC: rpc.Version, Result: f.Result, Error: f.Error}
}

func (c *Client) handleRequest(f frame) {
	if f.Method != MethodSubscription {
		c.logger.Debug("ignoring relay request", logging.KeyMethod, f.Method)
		return
	}

	var params subscriptionParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		c.logger.Debug("malformed subscription payload", logging.KeyError, err)
		return
	}

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(params.Data)
	}

	ack, err := rpc.NewResponse(f.ID, true)
	if err != nil {
		return
	}
	raw, err := json.Marshal(ack)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()
	if err := c.sender.Send(ctx, raw); err != nil {
		c.logger.Debug("subscription ack failed", logging.KeyTopic, params.Data.Topic, logging.KeyError, err)
	}
}

func (c *Client) request(ctx context.Context, method string, params, result any) error {
	req, err := rpc.NewRequest(method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	ch := make(chan rpc.Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.sender.Send(ctx, raw); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		return resp.DecodeResult(result)
	case <-ctx.Done():
		return ctx.Err()
	}
}
