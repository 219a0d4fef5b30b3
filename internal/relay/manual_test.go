package relay

import (
	"testing"
)

func TestManualHandler_PassesThrough(t *testing.T) {
	socket := &fakeSocket{}
	h := NewManualConnectionHandler(socket, 0, nil)

	if err := h.HandleConnect(); err != nil {
		t.Fatalf("HandleConnect: %v", err)
	}
	if !socket.IsConnected() {
		t.Fatal("socket not connected")
	}
	if err := h.HandleDisconnect(CloseNormal); err != nil {
		t.Fatalf("HandleDisconnect: %v", err)
	}
	if socket.IsConnected() {
		t.Fatal("socket still connected")
	}

	h.HandleDisconnection(CloseAbnormal)
	if calls := socket.Calls(); len(calls) != 2 {
		t.Errorf("calls = %v, want [connect disconnect]", calls)
	}
}
