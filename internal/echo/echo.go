// Package echo registers the device's push token with the echo server so
// the push server can wake the app.
package echo

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/postalsys/pushrelay/internal/logging"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrEmptyToken is returned when registering an empty device token.
	ErrEmptyToken = errors.New("empty device token")

	// ErrInvalidConfig is returned for incomplete service configuration.
	ErrInvalidConfig = errors.New("invalid echo configuration")
)

// PushType is the platform push provider.
type PushType string

const (
	PushAPNS PushType = "apns"
	PushFCM  PushType = "fcm"
)

// RegisterService registers a hex-encoded device token.
type RegisterService interface {
	Register(ctx context.Context, deviceToken string) error
}

// Client registers device tokens through a RegisterService.
type Client struct {
	service RegisterService
	logger  *slog.Logger
}

// NewClient creates a client backed by service.
func NewClient(service RegisterService, logger *slog.Logger) *Client {
	return &Client{service: service, logger: logging.Component(logger, "echo")}
}

// Register hex-encodes the raw device token and registers it.
func (c *Client) Register(ctx context.Context, deviceToken []byte) error {
	if len(deviceToken) == 0 {
		return ErrEmptyToken
	}
	if err := c.service.Register(ctx, hex.EncodeToString(deviceToken)); err != nil {
		return fmt.Errorf("register device token: %w", err)
	}
	c.logger.Info("device token registered")
	return nil
}

// StatusError is returned when the echo server answers with a non-2xx
// status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("echo server returned %s", e.Status)
}

// HTTPConfig configures an HTTPRegisterService.
type HTTPConfig struct {
	BaseURL   string
	ProjectID string
	ClientID  string
	PushType  PushType
	Timeout   time.Duration

	// HTTPClient overrides the default HTTP/2-capable client.
	HTTPClient *http.Client
}

type registerRequest struct {
	ClientID string   `json:"client_id"`
	Type     PushType `json:"type"`
	Token    string   `json:"token"`
}

// HTTPRegisterService registers tokens with
// POST {base}/{project}/clients.
type HTTPRegisterService struct {
	endpoint string
	clientID string
	pushType PushType
	http     *http.Client
}

// NewHTTPRegisterService validates cfg and builds the service.
func NewHTTPRegisterService(cfg HTTPConfig) (*HTTPRegisterService, error) {
	if cfg.BaseURL == "" || cfg.ProjectID == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: base url, project id and client id are required", ErrInvalidConfig)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.PushType == "" {
		cfg.PushType = PushAPNS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client, err = newHTTPClient(cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	return &HTTPRegisterService{
		endpoint: base.JoinPath(cfg.ProjectID, "clients").String(),
		clientID: cfg.ClientID,
		pushType: cfg.PushType,
		http:     client,
	}, nil
}

func newHTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// Register implements RegisterService.
func (s *HTTPRegisterService) Register(ctx context.Context, deviceToken string) error {
	if deviceToken == "" {
		return ErrEmptyToken
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(registerRequest{
		ClientID: s.clientID,
		Type:     s.pushType,
		Token:    deviceToken,
	}); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
