//go:build unix

package relay

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/postalsys/pushrelay/internal/logging"
)

// NotifyLifecycleSignals drives obs from process signals until ctx is
// done: SIGUSR1 enters the background, SIGUSR2 the foreground.
func NotifyLifecycleSignals(ctx context.Context, obs *ManualAppStateObserver, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(sigCh)

	dispatchLifecycleSignals(ctx, sigCh, obs, logging.Component(logger, "lifecycle"))
}

func dispatchLifecycleSignals(ctx context.Context, sigCh <-chan os.Signal, obs *ManualAppStateObserver, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case unix.SIGUSR1:
				logger.Info("entering background", "signal", unix.SignalName(unix.SIGUSR1))
				obs.EnterBackground()
			case unix.SIGUSR2:
				logger.Info("entering foreground", "signal", unix.SignalName(unix.SIGUSR2))
				obs.EnterForeground()
			}
		}
	}
}
