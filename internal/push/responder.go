package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postalsys/pushrelay/internal/crypto"
	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/metrics"
	"github.com/postalsys/pushrelay/internal/rpc"
)

// HistoryStore looks up recorded inbound requests.
type HistoryStore interface {
	Get(id rpc.ID) (rpc.Record, bool)
}

// SubscribeRequester asks the push server to create a subscription. The
// outcome is reported asynchronously on the acknowledgment stream.
type SubscribeRequester interface {
	Subscribe(ctx context.Context, metadata AppMetadata, account string, onSign SigningCallback) (SubscriptionAuth, error)
}

// KeyManager owns ephemeral key material.
type KeyManager interface {
	CreateX25519KeyPair() (crypto.PublicKey, error)
	PerformKeyAgreement(self crypto.PublicKey, peerHex string) (crypto.AgreementKeys, error)
	SetSymmetricKey(key crypto.SymmetricKey, topic string) error
	DeleteSymmetricKey(topic string)
	DeletePrivateKey(pub crypto.PublicKey)
}

// Interactor sends a response to a peer on a topic.
type Interactor interface {
	Respond(ctx context.Context, topic string, resp rpc.Response, method rpc.ProtocolMethod, env crypto.EnvelopeType) error
}

// ResponderConfig wires a ProposeResponder.
type ResponderConfig struct {
	History    HistoryStore
	Requester  SubscribeRequester
	Acks       *AckBroadcaster
	Keys       KeyManager
	Interactor Interactor

	// AckTimeout bounds the acknowledgment wait. Zero waits until ctx is done.
	AckTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ProposeResponder approves notify proposals.
type ProposeResponder struct {
	history    HistoryStore
	requester  SubscribeRequester
	acks       *AckBroadcaster
	keys       KeyManager
	interactor Interactor
	ackTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	inFlight map[rpc.ID]struct{}
}

// NewProposeResponder creates a responder. Acks defaults to a fresh
// broadcaster when nil.
func NewProposeResponder(cfg ResponderConfig) *ProposeResponder {
	acks := cfg.Acks
	if acks == nil {
		acks = NewAckBroadcaster()
	}
	return &ProposeResponder{
		history:    cfg.History,
		requester:  cfg.Requester,
		acks:       acks,
		keys:       cfg.Keys,
		interactor: cfg.Interactor,
		ackTimeout: cfg.AckTimeout,
		logger:     logging.Component(cfg.Logger, "push"),
		metrics:    cfg.Metrics,
		inFlight:   make(map[rpc.ID]struct{}),
	}
}

// Acks returns the broadcaster that subscription results must be
// published on.
func (r *ProposeResponder) Acks() *AckBroadcaster {
	return r.acks
}

// Approve accepts the proposal recorded under requestID. It requests a
// subscription, waits for its acknowledgment, then answers the proposer on
// the topic derived from the proposer's key with a type 1 envelope.
//
// Key material created for the response is deleted before Approve returns,
// whether or not the send succeeded.
func (r *ProposeResponder) Approve(ctx context.Context, requestID rpc.ID, onSign SigningCallback) (err error) {
	start := time.Now()
	logger := r.logger.With(logging.KeyRequestID, int64(requestID))

	if !r.begin(requestID) {
		return fmt.Errorf("request %d: %w", requestID, ErrApprovalInProgress)
	}
	defer r.end(requestID)

	defer func() {
		if err != nil {
			logger.Debug("approve failed", logging.KeyError, err)
			r.recordError(err)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordHandshake(time.Since(start).Seconds())
		}
	}()

	record, ok := r.history.Get(requestID)
	if !ok {
		return fmt.Errorf("request %d: %w", requestID, ErrRecordNotFound)
	}

	params, err := decodeProposeParams(record.Request)
	if err != nil {
		return err
	}
	logger = logger.With(logging.KeyAccount, params.Account)

	waiter := r.acks.Register(params.Account)
	defer waiter.Cancel()

	logger.Debug("requesting subscription")
	auth, err := r.requester.Subscribe(ctx, params.Metadata, params.Account, onSign)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	waiter.Bind(auth.SubscriptionAuth)

	sub, err := waiter.Wait(ctx, r.ackTimeout)
	if err != nil {
		if isWaitAbort(err) {
			return err
		}
		r.recordAck(false)
		return &SubscriptionRejectedError{Cause: err}
	}
	r.recordAck(true)
	if sub != nil {
		logger.Debug("subscription acknowledged", logging.KeyTopic, sub.Topic)
	}

	peer, err := crypto.ParsePublicKeyHex(params.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRequestParams, err)
	}
	topic := crypto.DeriveTopic(peer)
	logger = logger.With(logging.KeyTopic, topic)

	self, err := r.keys.CreateX25519KeyPair()
	if err != nil {
		return fmt.Errorf("create key pair: %w", err)
	}
	defer r.keys.DeletePrivateKey(self)

	agreement, err := r.keys.PerformKeyAgreement(self, params.PublicKey)
	if err != nil {
		return fmt.Errorf("key agreement: %w", err)
	}
	defer r.keys.DeleteSymmetricKey(topic)
	if err := r.keys.SetSymmetricKey(agreement.SharedKey, topic); err != nil {
		return fmt.Errorf("store symmetric key: %w", err)
	}

	resp, err := rpc.NewResponse(requestID, auth)
	if err != nil {
		return err
	}

	logger.Debug("sending response")
	if err := r.interactor.Respond(ctx, topic, resp, NotifyProposeMethod{}, crypto.Type1(agreement.PublicKey)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportSend, err)
	}

	logger.Info("proposal approved")
	return nil
}

func (r *ProposeResponder) begin(id rpc.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *ProposeResponder) end(id rpc.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

func (r *ProposeResponder) recordError(err error) {
	if r.metrics != nil {
		r.metrics.RecordHandshakeError(errorKind(err))
	}
}

func (r *ProposeResponder) recordAck(success bool) {
	if r.metrics != nil {
		r.metrics.RecordAck(success)
	}
}

// isWaitAbort reports whether the wait ended without an event.
func isWaitAbort(err error) bool {
	return errors.Is(err, ErrAckTimeout) ||
		errors.Is(err, ErrWaiterClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func decodeProposeParams(req rpc.Request) (ProposeParams, error) {
	var params ProposeParams
	if err := req.DecodeParams(&params); err != nil {
		return ProposeParams{}, fmt.Errorf("%w: %w", ErrMalformedRequestParams, err)
	}
	if params.Account == "" {
		return ProposeParams{}, fmt.Errorf("%w: missing account", ErrMalformedRequestParams)
	}
	if params.PublicKey == "" {
		return ProposeParams{}, fmt.Errorf("%w: missing public key", ErrMalformedRequestParams)
	}
	return params, nil
}
