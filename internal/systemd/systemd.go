// Package systemd integrates the service with systemd: sd_notify
// READY/STOPPING for Type=notify units and watchdog pings gated on a
// health check. All functions degrade to no-ops when not running
// under systemd (no NOTIFY_SOCKET).
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends sd_notify READY=1 once initialization completes.
func NotifyReady() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("failed to send systemd ready notification", "error", err)
	}
}

// NotifyStopping sends sd_notify STOPPING=1 at the start of shutdown
// so systemd waits for the process instead of killing it.
func NotifyStopping() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		slog.Warn("failed to send systemd stopping notification", "error", err)
	}
}

// HealthCheck reports whether the service is healthy enough to keep
// feeding the watchdog.
type HealthCheck func() bool

// StartWatchdog begins watchdog pinging if the unit configures
// WatchdogSec, pinging at half the configured interval as systemd
// recommends. An unhealthy check skips the ping so systemd restarts
// the service. Returns immediately when the watchdog is not enabled.
func StartWatchdog(ctx context.Context, healthy HealthCheck) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		slog.Debug("systemd watchdog not enabled")
		return
	}

	ping := interval / 2
	slog.Info("starting systemd watchdog",
		"watchdog_interval", interval,
		"ping_interval", ping,
	)

	go func() {
		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !healthy() {
					slog.Warn("health check failed, skipping watchdog ping")
					continue
				}
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to send watchdog ping", "error", err)
				}
			}
		}
	}()
}
