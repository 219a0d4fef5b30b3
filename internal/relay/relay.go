// Package relay keeps the client's single relay connection alive and
// carries JSON-RPC traffic over it.
//
// The connection is owned by a SocketConnectionHandler. In automatic mode
// the handler reacts to app lifecycle and network signals on its own and
// callers may not open or close the socket directly.
package relay

import (
	"context"
	"errors"

	"nhooyr.io/websocket"
)

var (
	// ErrManualConnectForbidden is returned by HandleConnect when the
	// connection is managed automatically.
	ErrManualConnectForbidden = errors.New("manual socket connection is forbidden in automatic mode")

	// ErrManualDisconnectForbidden is returned by HandleDisconnect when the
	// connection is managed automatically.
	ErrManualDisconnectForbidden = errors.New("manual socket disconnection is forbidden in automatic mode")

	// ErrNotConnected is returned when sending on a closed socket.
	ErrNotConnected = errors.New("socket not connected")
)

// CloseCode is a WebSocket close status code.
type CloseCode int

// Close codes used by the client.
const (
	CloseNormal    CloseCode = CloseCode(websocket.StatusNormalClosure)
	CloseGoingAway CloseCode = CloseCode(websocket.StatusGoingAway)
	CloseAbnormal  CloseCode = CloseCode(websocket.StatusAbnormalClosure)
)

func (c CloseCode) String() string {
	return websocket.StatusCode(c).String()
}

// AppState is the host application's lifecycle state.
type AppState uint8

const (
	AppForeground AppState = iota
	AppBackground
)

func (s AppState) String() string {
	switch s {
	case AppForeground:
		return "foreground"
	case AppBackground:
		return "background"
	default:
		return "unknown"
	}
}

// NetworkStatus is the reachability reported by a NetworkMonitor.
type NetworkStatus uint8

const (
	NetworkConnected NetworkStatus = iota
	NetworkDisconnected
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkConnected:
		return "connected"
	case NetworkDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Socket is a reconnectable duplex connection to the relay.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect(code CloseCode)
	Reconnect(ctx context.Context) error
	IsConnected() bool
}

// AppStateObserver reports lifecycle transitions. Callbacks may be invoked
// from any goroutine.
type AppStateObserver interface {
	SetOnWillEnterBackground(func())
	SetOnWillEnterForeground(func())
	CurrentState() AppState
}

// NetworkMonitor publishes reachability changes. The returned function
// unsubscribes and closes the channel.
type NetworkMonitor interface {
	Subscribe() (<-chan NetworkStatus, func())
}

// BackgroundTaskRegistrar grants extra execution time while the app is in
// the background. onExpire runs when the grant is about to run out.
type BackgroundTaskRegistrar interface {
	Register(label string, onExpire func()) BackgroundTask
}

// BackgroundTask is a held background grant.
type BackgroundTask interface {
	Release()
}

// SocketConnectionHandler decides who may open and close the socket.
type SocketConnectionHandler interface {
	HandleConnect() error
	HandleDisconnect(code CloseCode) error
	HandleDisconnection(code CloseCode)
}
