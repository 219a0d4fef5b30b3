package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/postalsys/pushrelay/internal/logging"
)

const defaultConnectTimeout = 30 * time.Second

// ManualConnectionHandler leaves the socket lifecycle to the caller.
// Unexpected disconnections are logged and otherwise ignored.
type ManualConnectionHandler struct {
	socket  Socket
	timeout time.Duration
	logger  *slog.Logger
}

// NewManualConnectionHandler creates a pass-through handler. HandleConnect
// gives up after timeout; zero selects 30 seconds.
func NewManualConnectionHandler(socket Socket, timeout time.Duration, logger *slog.Logger) *ManualConnectionHandler {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &ManualConnectionHandler{
		socket:  socket,
		timeout: timeout,
		logger:  logging.Component(logger, "connection"),
	}
}

// HandleConnect opens the socket.
func (h *ManualConnectionHandler) HandleConnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.socket.Connect(ctx)
}

// HandleDisconnect closes the socket with code.
func (h *ManualConnectionHandler) HandleDisconnect(code CloseCode) error {
	h.socket.Disconnect(code)
	return nil
}

// HandleDisconnection logs the close.
func (h *ManualConnectionHandler) HandleDisconnection(code CloseCode) {
	h.logger.Info("socket closed", logging.KeyCloseCode, int(code))
}
