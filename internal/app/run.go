package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"conductor/internal/formatting"
	"conductor/pkg/logging"
)

// Run drives the full lifecycle: start every registered service in
// dependency order, notify the service manager, block until a signal or
// context cancellation, then run the phased shutdown and print its report.
//
// The returned error reflects startup only. Shutdown failures are recorded
// in the report, not surfaced as a process error.
func (a *Application) Run(ctx context.Context) error {
	if err := a.orch.Startup(ctx); err != nil {
		// Unwind whatever did come up before reporting the failure.
		report := a.orch.Shutdown("startup failed")
		if !a.config.Silent {
			fmt.Fprint(os.Stderr, formatting.FormatReport(report))
		}
		return err
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("App", "sd_notify READY failed: %v", err)
	} else if sent {
		logging.Debug("App", "notified service manager: ready")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var reason string
	select {
	case sig := <-sigChan:
		reason = sig.String()
	case <-ctx.Done():
		reason = "context cancelled"
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Warn("App", "sd_notify STOPPING failed: %v", err)
	}

	report := a.orch.Shutdown(reason)
	if !a.config.Silent {
		fmt.Print(formatting.FormatReport(report))
	}
	return nil
}
