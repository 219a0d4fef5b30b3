// Package networking sends protocol messages to peers through the relay,
// sealing them with the key agreed for the destination topic.
package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/postalsys/pushrelay/internal/crypto"
	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/rpc"
)

// ErrNoSymmetricKey is returned when no key is stored for a topic.
var ErrNoSymmetricKey = errors.New("no symmetric key for topic")

// Publisher publishes a message on a relay topic.
type Publisher interface {
	Publish(ctx context.Context, topic, message string, cfg rpc.RelayConfig) error
}

// KeyStore looks up topic keys.
type KeyStore interface {
	GetSymmetricKey(topic string) (crypto.SymmetricKey, bool)
}

// RelayInteractor seals requests and responses and publishes them.
type RelayInteractor struct {
	publisher Publisher
	keys      KeyStore
	logger    *slog.Logger
}

// NewRelayInteractor creates an interactor.
func NewRelayInteractor(publisher Publisher, keys KeyStore, logger *slog.Logger) *RelayInteractor {
	return &RelayInteractor{
		publisher: publisher,
		keys:      keys,
		logger:    logging.Component(logger, "networking"),
	}
}

// Respond publishes resp on topic using the response policy of method.
func (i *RelayInteractor) Respond(ctx context.Context, topic string, resp rpc.Response, method rpc.ProtocolMethod, env crypto.EnvelopeType) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := i.send(ctx, topic, payload, method.ResponseConfig(), env); err != nil {
		return err
	}
	i.logger.Debug("response sent",
		logging.KeyTopic, topic,
		logging.KeyMethod, method.Method(),
		logging.KeyRequestID, int64(resp.ID))
	return nil
}

// Request publishes req on topic using the request policy of method.
func (i *RelayInteractor) Request(ctx context.Context, topic string, req rpc.Request, method rpc.ProtocolMethod) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return i.send(ctx, topic, payload, method.RequestConfig(), crypto.Type0())
}

// Decode opens a message received on topic and returns its payload and
// envelope type.
func (i *RelayInteractor) Decode(topic, message string) ([]byte, crypto.EnvelopeType, error) {
	key, ok := i.keys.GetSymmetricKey(topic)
	if !ok {
		return nil, crypto.EnvelopeType{}, fmt.Errorf("%w: %s", ErrNoSymmetricKey, topic)
	}
	defer key.Zero()

	sealed, err := crypto.DecodeBase64(message)
	if err != nil {
		return nil, crypto.EnvelopeType{}, err
	}
	return crypto.Open(key, sealed)
}

func (i *RelayInteractor) send(ctx context.Context, topic string, payload []byte, cfg rpc.RelayConfig, env crypto.EnvelopeType) error {
	key, ok := i.keys.GetSymmetricKey(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSymmetricKey, topic)
	}
	defer key.Zero()

	message, err := crypto.SealBase64(key, payload, env)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}
	return i.publisher.Publish(ctx, topic, message, cfg)
}
