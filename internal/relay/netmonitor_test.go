package relay

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestProbeMonitor_Transitions(t *testing.T) {
	var up atomic.Bool
	up.Store(true)

	m := NewProbeMonitor(ProbeConfig{
		Address:  "relay.test:443",
		Interval: 5 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			if !up.Load() {
				return nil, errors.New("unreachable")
			}
			client, server := net.Pipe()
			server.Close()
			return client, nil
		},
	})

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	expect := func(want NetworkStatus) {
		t.Helper()
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("status = %v, want %v", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %v status", want)
		}
	}

	expect(NetworkConnected)
	up.Store(false)
	expect(NetworkDisconnected)
	up.Store(true)
	expect(NetworkConnected)
}

func TestProbeMonitor_LatestValueOnly(t *testing.T) {
	m := NewProbeMonitor(ProbeConfig{Address: "unused:1"})
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Set(NetworkConnected)
	m.Set(NetworkDisconnected)
	m.Set(NetworkConnected)
	m.Set(NetworkConnected)

	if got := <-ch; got != NetworkConnected {
		t.Errorf("status = %v, want connected", got)
	}
	select {
	case got := <-ch:
		t.Errorf("unexpected extra status %v", got)
	default:
	}

	if status, ok := m.Status(); !ok || status != NetworkConnected {
		t.Errorf("Status() = %v, %v", status, ok)
	}
}

func TestProbeMonitor_Unsubscribe(t *testing.T) {
	m := NewProbeMonitor(ProbeConfig{Address: "unused:1"})
	ch, unsubscribe := m.Subscribe()

	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel open after unsubscribe")
	}
	m.Set(NetworkDisconnected)
}

func TestProbeMonitor_StopClosesSubscriptions(t *testing.T) {
	m := NewProbeMonitor(ProbeConfig{Address: "unused:1"})
	ch, unsubscribe := m.Subscribe()

	m.Stop()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel open after Stop")
	}
}
