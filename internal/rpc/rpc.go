// Package rpc defines the JSON-RPC request and response shapes exchanged
// between peers over the relay, and the request-history store that keeps
// them correlated.
package rpc

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the JSON-RPC protocol version carried on every message.
const Version = "2.0"

// ID identifies a request and correlates its response.
type ID int64

// NewID returns a time-ordered identifier: milliseconds since the epoch
// followed by three random decimal digits.
func NewID() ID {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return ID(time.Now().UnixMilli()*1000 + int64(binary.BigEndian.Uint16(b[:])%1000))
}

// Request is a JSON-RPC request.
type Request struct {
	ID      ID              `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request with a fresh ID.
func NewRequest(method string, params any) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("encode params: %w", err)
	}
	return Request{ID: NewID(), JSONRPC: Version, Method: method, Params: raw}, nil
}

// DecodeParams unmarshals the request params into v.
func (r Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return errors.New("request has no params")
	}
	return json.Unmarshal(r.Params, v)
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	ID      ID              `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds a successful response correlated to id.
func NewResponse(id ID, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("encode result: %w", err)
	}
	return Response{ID: id, JSONRPC: Version, Result: raw}, nil
}

// NewErrorResponse builds an error response correlated to id.
func NewErrorResponse(id ID, code int, message string) Response {
	return Response{ID: id, JSONRPC: Version, Error: &Error{Code: code, Message: message}}
}

// DecodeResult unmarshals the response result into v. An error response
// returns its *Error.
func (r Response) DecodeResult(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return errors.New("response has no result")
	}
	return json.Unmarshal(r.Result, v)
}

// RelayConfig is the relay publish policy of one side of a protocol method.
type RelayConfig struct {
	Tag    int
	TTL    time.Duration
	Prompt bool
}

// ProtocolMethod names a request method and how its request and response
// are published on the relay.
type ProtocolMethod interface {
	Method() string
	RequestConfig() RelayConfig
	ResponseConfig() RelayConfig
}
