package relay

import (
	"sync"
	"testing"
)

func TestManualAppStateObserver_Transitions(t *testing.T) {
	obs := NewManualAppStateObserver(AppForeground)

	var background, foreground int
	obs.SetOnWillEnterBackground(func() { background++ })
	obs.SetOnWillEnterForeground(func() { foreground++ })

	obs.EnterForeground()
	if foreground != 0 {
		t.Errorf("foreground callback ran without a transition")
	}

	obs.EnterBackground()
	obs.EnterBackground()
	if background != 1 {
		t.Errorf("background callbacks = %d, want 1", background)
	}
	if got := obs.CurrentState(); got != AppBackground {
		t.Errorf("state = %v, want background", got)
	}

	obs.EnterForeground()
	if foreground != 1 {
		t.Errorf("foreground callbacks = %d, want 1", foreground)
	}
	if got := obs.CurrentState(); got != AppForeground {
		t.Errorf("state = %v, want foreground", got)
	}
}

func TestManualAppStateObserver_NilCallbacks(t *testing.T) {
	obs := NewManualAppStateObserver(AppBackground)
	obs.SetOnWillEnterForeground(nil)
	obs.EnterForeground()
	if got := obs.CurrentState(); got != AppForeground {
		t.Errorf("state = %v, want foreground", got)
	}
}

func TestManualAppStateObserver_CallbacksFollowStateOrder(t *testing.T) {
	obs := NewManualAppStateObserver(AppForeground)

	var mu sync.Mutex
	var seen []AppState
	record := func(s AppState) func() {
		return func() {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		}
	}
	obs.SetOnWillEnterBackground(record(AppBackground))
	obs.SetOnWillEnterForeground(record(AppForeground))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); obs.EnterBackground() }()
		go func() { defer wg.Done(); obs.EnterForeground() }()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	prev := AppForeground
	for i, s := range seen {
		if s == prev {
			t.Fatalf("callback %d repeats %v: callbacks out of order with transitions", i, s)
		}
		prev = s
	}
	last := AppForeground
	if len(seen) > 0 {
		last = seen[len(seen)-1]
	}
	if got := obs.CurrentState(); got != last {
		t.Errorf("state = %v, last callback = %v", got, last)
	}
}

func TestAppState_String(t *testing.T) {
	tests := []struct {
		state AppState
		want  string
	}{
		{AppForeground, "foreground"},
		{AppBackground, "background"},
		{AppState(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("AppState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
