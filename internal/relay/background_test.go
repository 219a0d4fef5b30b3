package relay

import (
	"testing"
	"time"
)

func TestTimerRegistrar_Expiry(t *testing.T) {
	r := NewTimerRegistrar(10*time.Millisecond, nil)

	expired := make(chan struct{}, 1)
	task := r.Register(BackgroundTaskLabel, func() { expired <- struct{}{} })

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("grant did not expire")
	}

	if got := r.Active(); got != 1 {
		t.Errorf("Active() = %d before release, want 1", got)
	}
	task.Release()
	task.Release()
	if got := r.Active(); got != 0 {
		t.Errorf("Active() = %d after release, want 0", got)
	}
}

func TestTimerRegistrar_ReleaseBeforeExpiry(t *testing.T) {
	r := NewTimerRegistrar(20*time.Millisecond, nil)

	expired := make(chan struct{}, 1)
	task := r.Register("work", func() { expired <- struct{}{} })
	task.Release()

	select {
	case <-expired:
		t.Fatal("released grant expired")
	case <-time.After(60 * time.Millisecond):
	}
	if got := r.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestTimerRegistrar_UniqueIDs(t *testing.T) {
	r := NewTimerRegistrar(0, nil)

	a := r.Register("a", nil).(*TimerTask)
	b := r.Register("b", nil).(*TimerTask)
	defer a.Release()
	defer b.Release()

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
	if a.Label != "a" {
		t.Errorf("label = %q, want a", a.Label)
	}
	if got := r.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}
}
