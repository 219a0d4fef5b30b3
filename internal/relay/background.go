package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postalsys/pushrelay/internal/logging"
)

// TimerRegistrar hands out background grants that expire after a fixed
// duration, standing in for the host platform's background task API.
type TimerRegistrar struct {
	maxDuration time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	active map[string]*TimerTask
}

// NewTimerRegistrar creates a registrar whose grants expire after
// maxDuration. A non-positive maxDuration grants never expire.
func NewTimerRegistrar(maxDuration time.Duration, logger *slog.Logger) *TimerRegistrar {
	return &TimerRegistrar{
		maxDuration: maxDuration,
		logger:      logging.Component(logger, "background"),
		active:      make(map[string]*TimerTask),
	}
}

// Register starts a grant. onExpire runs on its own goroutine when the
// grant runs out before being released.
func (r *TimerRegistrar) Register(label string, onExpire func()) BackgroundTask {
	t := &TimerTask{
		ID:    uuid.NewString(),
		Label: label,
		r:     r,
	}

	r.mu.Lock()
	r.active[t.ID] = t
	r.mu.Unlock()

	if r.maxDuration > 0 {
		t.timer = time.AfterFunc(r.maxDuration, func() { t.expire(onExpire) })
	}

	r.logger.Debug("grant started",
		logging.KeyTaskID, t.ID,
		logging.KeyLabel, label,
		logging.KeyDuration, r.maxDuration)
	return t
}

// Active returns the number of unreleased grants.
func (r *TimerRegistrar) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *TimerRegistrar) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return false
	}
	delete(r.active, id)
	return true
}

func (r *TimerRegistrar) isActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// TimerTask is a grant issued by TimerRegistrar.
type TimerTask struct {
	ID    string
	Label string

	r       *TimerRegistrar
	timer   *time.Timer
	release sync.Once
}

// Release ends the grant. Only the first call has an effect.
func (t *TimerTask) Release() {
	t.release.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.r.remove(t.ID) {
			t.r.logger.Debug("grant released", logging.KeyTaskID, t.ID)
		}
	})
}

func (t *TimerTask) expire(onExpire func()) {
	if !t.r.isActive(t.ID) {
		return
	}
	t.r.logger.Debug("grant expiring", logging.KeyTaskID, t.ID, logging.KeyLabel, t.Label)
	if onExpire != nil {
		onExpire()
	}
}
