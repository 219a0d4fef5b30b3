package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/pushrelay/internal/crypto"
)

type relayServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	queries  chan string
	received chan []byte
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	s := &relayServer{
		conns:    make(chan *websocket.Conn, 4),
		queries:  make(chan string, 4),
		received: make(chan []byte, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.queries <- r.URL.RawQuery
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			s.received <- data
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *relayServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server accepted no connection")
		return nil
	}
}

func TestWebSocketSocket_ConnectSendReceive(t *testing.T) {
	srv := newRelayServer(t)
	key, _ := crypto.GenerateClientKey()

	sock := NewWebSocketSocket(WebSocketConfig{
		URL:       srv.wsURL(),
		ProjectID: "proj-1",
		Auth:      NewAuthenticator(key, srv.wsURL(), time.Minute),
	})
	inbound := make(chan []byte, 1)
	sock.SetOnMessage(func(b []byte) { inbound <- b })

	if err := sock.Send(context.Background(), []byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before connect = %v, want ErrNotConnected", err)
	}

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sock.Disconnect(CloseNormal)
	if !sock.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if sock.LastConnect().IsZero() {
		t.Error("LastConnect not recorded")
	}

	query := <-srv.queries
	if !strings.Contains(query, "projectId=proj-1") {
		t.Errorf("query %q lacks projectId", query)
	}
	token := ""
	for _, kv := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(kv, "auth="); ok {
			token = v
		}
	}
	if _, err := parseToken(token); err != nil {
		t.Errorf("auth token does not verify: %v", err)
	}

	server := srv.accept(t)

	// Second Connect is a no-op
	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if err := sock.Send(context.Background(), []byte(`{"hello":1}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-srv.received:
		if string(got) != `{"hello":1}` {
			t.Errorf("server got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}

	if err := server.Write(context.Background(), websocket.MessageText, []byte("from relay")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case got := <-inbound:
		if string(got) != "from relay" {
			t.Errorf("client got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client received nothing")
	}
}

func TestWebSocketSocket_UnexpectedClose(t *testing.T) {
	srv := newRelayServer(t)
	sock := NewWebSocketSocket(WebSocketConfig{URL: srv.wsURL()})

	closed := make(chan CloseCode, 1)
	sock.SetOnUnexpectedClose(func(code CloseCode) { closed <- code })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := srv.accept(t)

	go server.Close(websocket.StatusGoingAway, "restarting")

	select {
	case code := <-closed:
		if code != CloseGoingAway {
			t.Errorf("close code = %v, want %v", code, CloseGoingAway)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unexpected close not reported")
	}
	if sock.IsConnected() {
		t.Error("IsConnected() = true after remote close")
	}
}

func TestWebSocketSocket_LocalDisconnectIsNotReported(t *testing.T) {
	srv := newRelayServer(t)
	sock := NewWebSocketSocket(WebSocketConfig{URL: srv.wsURL()})

	closed := make(chan CloseCode, 1)
	sock.SetOnUnexpectedClose(func(code CloseCode) { closed <- code })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.accept(t)

	sock.Disconnect(CloseNormal)
	sock.Disconnect(CloseNormal)
	if sock.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}

	select {
	case code := <-closed:
		t.Errorf("local disconnect reported as unexpected (%v)", code)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketSocket_Reconnect(t *testing.T) {
	srv := newRelayServer(t)
	sock := NewWebSocketSocket(WebSocketConfig{URL: srv.wsURL(), DialRate: 100, DialBurst: 2})
	defer sock.Disconnect(CloseNormal)

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.accept(t)

	if err := sock.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	srv.accept(t)
	if !sock.IsConnected() {
		t.Error("IsConnected() = false after Reconnect")
	}
}

func TestWebSocketSocket_DialFailure(t *testing.T) {
	sock := NewWebSocketSocket(WebSocketConfig{URL: "ws://127.0.0.1:1", DialTimeout: time.Second})
	if err := sock.Connect(context.Background()); err == nil {
		t.Fatal("Connect to closed port succeeded")
	}
	if sock.IsConnected() {
		t.Error("IsConnected() = true after failed dial")
	}
}
