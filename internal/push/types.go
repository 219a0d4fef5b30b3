// Package push implements the wallet side of the push subscription
// handshake: approving a proposal, waiting for the subscription to be
// acknowledged, and answering the proposer on a topic derived from its key.
package push

import (
	"context"
	"time"

	"github.com/postalsys/pushrelay/internal/rpc"
)

// AppMetadata describes the dapp that sent a proposal.
type AppMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// ProposeParams are the params of a notify propose request.
type ProposeParams struct {
	Metadata  AppMetadata `json:"metadata"`
	Account   string      `json:"account"`
	PublicKey string      `json:"publicKey"`
}

// Subscription is a confirmed push subscription.
type Subscription struct {
	Topic    string      `json:"topic"`
	Account  string      `json:"account"`
	Relay    string      `json:"relay"`
	Metadata AppMetadata `json:"metadata"`
	Scope    []string    `json:"scope,omitempty"`
	Expiry   time.Time   `json:"expiry"`
}

// SubscriptionAuth wraps the signed subscription authorization returned to
// the proposer.
type SubscriptionAuth struct {
	SubscriptionAuth string `json:"subscriptionAuth"`
}

// SigningCallback signs message on behalf of account. It is supplied by the
// wallet and typically prompts the user.
type SigningCallback func(ctx context.Context, message string) (signature string, err error)

// NotifyProposeMethod is the protocol method of a notify proposal.
type NotifyProposeMethod struct{}

// Method implements rpc.ProtocolMethod.
func (NotifyProposeMethod) Method() string { return "wc_notifyPropose" }

// RequestConfig implements rpc.ProtocolMethod.
func (NotifyProposeMethod) RequestConfig() rpc.RelayConfig {
	return rpc.RelayConfig{Tag: 4010, TTL: 24 * time.Hour, Prompt: true}
}

// ResponseConfig implements rpc.ProtocolMethod.
func (NotifyProposeMethod) ResponseConfig() rpc.RelayConfig {
	return rpc.RelayConfig{Tag: 4011, TTL: 24 * time.Hour}
}
