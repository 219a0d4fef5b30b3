package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m.HandshakesTotal == nil || m.SocketConnected == nil || m.Publishes == nil {
		t.Fatal("collectors not initialized")
	}

	// A second registration on the same registry must panic
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	NewMetricsWithRegistry(reg)
}

func TestRecordHandshake(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordHandshake(0.2)
	m.RecordHandshake(0.4)
	m.RecordHandshakeError("record_not_found")

	if got := testutil.ToFloat64(m.HandshakesTotal); got != 2 {
		t.Errorf("HandshakesTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HandshakeErrors.WithLabelValues("record_not_found")); got != 1 {
		t.Errorf("HandshakeErrors = %v, want 1", got)
	}
}

func TestRecordSocket(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSocketConnect()
	if got := testutil.ToFloat64(m.SocketConnected); got != 1 {
		t.Errorf("SocketConnected = %v, want 1", got)
	}

	m.RecordSocketDisconnect("network")
	if got := testutil.ToFloat64(m.SocketConnected); got != 0 {
		t.Errorf("SocketConnected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.SocketDisconnects.WithLabelValues("network")); got != 1 {
		t.Errorf("SocketDisconnects = %v, want 1", got)
	}
}

func TestRecordReconnect(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordReconnect("foreground", nil)
	m.RecordReconnect("network", errors.New("dial failed"))

	if got := testutil.ToFloat64(m.ReconnectAttempts.WithLabelValues("foreground")); got != 1 {
		t.Errorf("foreground attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReconnectFailures); got != 1 {
		t.Errorf("ReconnectFailures = %v, want 1", got)
	}
}

func TestRecordLifecycle(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordBackgroundGrant()
	m.RecordBackgroundExpired()
	m.RecordLifecycleEvent("background")
	m.RecordAck(true)
	m.RecordAck(false)
	m.RecordPublish("4011", nil)
	m.RecordPublish("4011", errors.New("closed"))
	m.RecordMessageReceived()

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"grants", m.BackgroundGrants, 1},
		{"expired", m.BackgroundExpired, 1},
		{"lifecycle", m.LifecycleEvents.WithLabelValues("background"), 1},
		{"ack success", m.AcksReceived.WithLabelValues("success"), 1},
		{"ack failure", m.AcksReceived.WithLabelValues("failure"), 1},
		{"publishes", m.Publishes.WithLabelValues("4011"), 2},
		{"publish errors", m.PublishErrors, 1},
		{"received", m.MessagesRecved, 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Default returned different instances")
	}
}
