package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "readLoop")
		panic("boom")
	}()
	wg.Wait()

	output := buf.String()
	for _, want := range []string{"panic recovered", "readLoop", "boom", "stack="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestRecoverWithLog_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithLog(logger, "quiet")
	}()

	if buf.Len() != 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}
}

func TestGo_InvokesCallback(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))

	got := make(chan any, 1)
	Go(logger, "eventLoop", func() { panic("loop failed") }, func(r any) { got <- r })

	if r := <-got; r != "loop failed" {
		t.Errorf("recovered = %v, want loop failed", r)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "eventLoop") {
		t.Errorf("expected goroutine name logged, got: %s", buf.String())
	}
}

func TestGo_NilLogger(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "nil-logger", func() { panic("x") }, func(any) { close(done) })
	<-done
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
