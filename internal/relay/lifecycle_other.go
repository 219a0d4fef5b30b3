//go:build !unix

package relay

import (
	"context"
	"log/slog"

	"github.com/postalsys/pushrelay/internal/logging"
)

// NotifyLifecycleSignals blocks until ctx is done. Lifecycle signals are
// only bound on Unix.
func NotifyLifecycleSignals(ctx context.Context, obs *ManualAppStateObserver, logger *slog.Logger) {
	logging.Component(logger, "lifecycle").Debug("lifecycle signals not supported on this platform")
	<-ctx.Done()
}
