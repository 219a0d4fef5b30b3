package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/postalsys/pushrelay/internal/crypto"
)

var (
	// ErrRecordNotFound is returned when no request is recorded for the
	// request id being approved.
	ErrRecordNotFound = errors.New("request record not found")

	// ErrMalformedRequestParams is returned when the recorded request does
	// not carry valid proposal params.
	ErrMalformedRequestParams = errors.New("malformed request params")

	// ErrAckTimeout is returned when no acknowledgment arrives in time.
	ErrAckTimeout = errors.New("timed out waiting for subscription acknowledgment")

	// ErrTransportSend wraps failures of the response send.
	ErrTransportSend = errors.New("transport send failed")

	// ErrApprovalInProgress is returned when the same request id is being
	// approved concurrently.
	ErrApprovalInProgress = errors.New("approval already in progress for request")

	// ErrWaiterClosed is returned by Wait after Cancel.
	ErrWaiterClosed = errors.New("acknowledgment waiter closed")
)

// SubscriptionRejectedError carries the failure reported on the
// acknowledgment stream.
type SubscriptionRejectedError struct {
	Cause error
}

func (e *SubscriptionRejectedError) Error() string {
	return fmt.Sprintf("subscription rejected: %v", e.Cause)
}

func (e *SubscriptionRejectedError) Unwrap() error {
	return e.Cause
}

// errorKind maps an approval error to a metrics label.
func errorKind(err error) string {
	var rejected *SubscriptionRejectedError
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrMalformedRequestParams):
		return "malformed_params"
	case errors.Is(err, ErrApprovalInProgress):
		return "in_progress"
	case errors.As(err, &rejected):
		return "subscription_rejected"
	case errors.Is(err, ErrAckTimeout):
		return "ack_timeout"
	case errors.Is(err, crypto.ErrInvalidPeerKey):
		return "invalid_peer_key"
	case errors.Is(err, crypto.ErrAgreementFailure):
		return "agreement_failure"
	case errors.Is(err, ErrTransportSend):
		return "transport_send"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
