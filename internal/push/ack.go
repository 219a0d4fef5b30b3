package push

import (
	"context"
	"sync"
	"time"
)

// SubscriptionResult is one event on the acknowledgment stream.
//
// Account correlates the event to the subscribe attempt that produced it.
// An empty Account matches any waiter. SubscriptionAuth, when set, names the
// exact attempt: the auth payload its Subscribe call returned.
type SubscriptionResult struct {
	Account          string
	SubscriptionAuth string
	Subscription     *Subscription
	Err              error
}

// Succeeded returns a success event for sub.
func Succeeded(sub Subscription) SubscriptionResult {
	return SubscriptionResult{Account: sub.Account, Subscription: &sub}
}

// Failed returns a failure event for account.
func Failed(account string, err error) SubscriptionResult {
	return SubscriptionResult{Account: account, Err: err}
}

// For returns a copy of res correlated to the attempt that returned auth.
func (res SubscriptionResult) For(auth string) SubscriptionResult {
	res.SubscriptionAuth = auth
	return res
}

// AckBroadcaster routes acknowledgment events to registered waiters.
//
// A correlated event resolves only the waiter bound to its auth. An event
// without an auth resolves the oldest waiter for its account. Events that
// nothing can take are dropped.
type AckBroadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]*AckWaiter
}

// NewAckBroadcaster returns a broadcaster with no waiters.
func NewAckBroadcaster() *AckBroadcaster {
	return &AckBroadcaster{waiters: make(map[uint64]*AckWaiter)}
}

// Register subscribes a new single-shot waiter for account. Only events
// published after Register returns can resolve it.
func (b *AckBroadcaster) Register(account string) *AckWaiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	w := &AckWaiter{
		b:       b,
		id:      b.nextID,
		account: account,
		result:  make(chan SubscriptionResult, 1),
		done:    make(chan struct{}),
	}
	b.waiters[w.id] = w
	return w
}

// Publish routes res and returns the number of waiters it resolved (0 or 1).
//
// A correlated event that arrives before its waiter is bound is held by
// every unbound waiter of the account until Bind decides.
func (b *AckBroadcaster) Publish(res SubscriptionResult) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if res.SubscriptionAuth == "" {
		var oldest *AckWaiter
		for _, w := range b.waiters {
			if w.matches(res) && (oldest == nil || w.id < oldest.id) {
				oldest = w
			}
		}
		if oldest == nil {
			return 0
		}
		b.deliver(oldest, res)
		return 1
	}

	for _, w := range b.waiters {
		if !w.matches(res) {
			continue
		}
		if !w.bound {
			w.pending = append(w.pending, res)
			continue
		}
		if w.auth == res.SubscriptionAuth {
			b.deliver(w, res)
			return 1
		}
	}
	return 0
}

// Waiters returns the number of registered waiters.
func (b *AckBroadcaster) Waiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// deliver resolves w. Callers hold b.mu.
func (b *AckBroadcaster) deliver(w *AckWaiter, res SubscriptionResult) {
	w.result <- res
	w.pending = nil
	delete(b.waiters, w.id)
}

func (b *AckBroadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, id)
}

// AckWaiter resolves to the first matching event published after it was
// registered.
type AckWaiter struct {
	b       *AckBroadcaster
	id      uint64
	account string

	// Guarded by b.mu.
	bound   bool
	auth    string
	pending []SubscriptionResult

	// result has capacity 1 and receives at most one value, sent while the
	// waiter is still registered.
	result    chan SubscriptionResult
	done      chan struct{}
	closeOnce sync.Once
}

func (w *AckWaiter) matches(res SubscriptionResult) bool {
	return res.Account == "" || w.account == "" || res.Account == w.account
}

// Bind ties the waiter to the attempt that returned auth. A held event for
// auth resolves it at once; other held events are discarded. An empty auth
// leaves the waiter to uncorrelated events only.
func (w *AckWaiter) Bind(auth string) {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()

	if _, ok := w.b.waiters[w.id]; !ok {
		return
	}
	w.bound = true
	w.auth = auth
	held := w.pending
	w.pending = nil
	if auth == "" {
		return
	}
	for _, res := range held {
		if res.SubscriptionAuth == auth {
			w.b.deliver(w, res)
			return
		}
	}
}

// Wait blocks until an event arrives, ctx is done, timeout elapses (if
// positive) or Cancel is called. The waiter is unsubscribed on return.
func (w *AckWaiter) Wait(ctx context.Context, timeout time.Duration) (*Subscription, error) {
	defer w.Cancel()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-w.result:
		return resolve(res)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, ErrAckTimeout
	case <-w.done:
		// A result may have been delivered just before Cancel
		select {
		case res := <-w.result:
			return resolve(res)
		default:
			return nil, ErrWaiterClosed
		}
	}
}

// Cancel unsubscribes the waiter. It is safe to call more than once.
func (w *AckWaiter) Cancel() {
	w.closeOnce.Do(func() {
		w.b.remove(w.id)
		close(w.done)
	})
}

func resolve(res SubscriptionResult) (*Subscription, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Subscription, nil
}
