package relay

import (
	"sync"
)

// ManualAppStateObserver is an AppStateObserver driven by explicit calls,
// for hosts without a native lifecycle source.
type ManualAppStateObserver struct {
	// tmu serializes transitions so callbacks run in state-change order.
	tmu sync.Mutex

	mu           sync.Mutex
	state        AppState
	onBackground func()
	onForeground func()
}

// NewManualAppStateObserver returns an observer in the initial state.
func NewManualAppStateObserver(initial AppState) *ManualAppStateObserver {
	return &ManualAppStateObserver{state: initial}
}

// SetOnWillEnterBackground sets the callback run on entering the background.
func (o *ManualAppStateObserver) SetOnWillEnterBackground(fn func()) {
	o.mu.Lock()
	o.onBackground = fn
	o.mu.Unlock()
}

// SetOnWillEnterForeground sets the callback run on entering the foreground.
func (o *ManualAppStateObserver) SetOnWillEnterForeground(fn func()) {
	o.mu.Lock()
	o.onForeground = fn
	o.mu.Unlock()
}

// CurrentState returns the latest state.
func (o *ManualAppStateObserver) CurrentState() AppState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// EnterBackground moves to the background and notifies the observer's
// callback. It is a no-op when already backgrounded.
func (o *ManualAppStateObserver) EnterBackground() {
	o.transition(AppBackground)
}

// EnterForeground moves to the foreground and notifies the observer's
// callback. It is a no-op when already foregrounded.
func (o *ManualAppStateObserver) EnterForeground() {
	o.transition(AppForeground)
}

// transition must not be called from a callback.
func (o *ManualAppStateObserver) transition(to AppState) {
	o.tmu.Lock()
	defer o.tmu.Unlock()

	o.mu.Lock()
	if o.state == to {
		o.mu.Unlock()
		return
	}
	o.state = to
	cb := o.onForeground
	if to == AppBackground {
		cb = o.onBackground
	}
	o.mu.Unlock()

	if cb != nil {
		cb()
	}
}
