// Package sysready notifies systemd that the tunnel has finished bringing
// up its device, socket, and peers and is ready to pass traffic.
package sysready

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends READY=1 to the supervising systemd unit, if any. It is
// a no-op (not an error) when NOTIFY_SOCKET is unset, which is the normal
// case outside of a systemd service.
func NotifyReady() error {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("sysready: notify failed: %w", err)
	}
	_ = sent
	return nil
}

// NotifyStopping sends STOPPING=1, letting systemd know shutdown is under
// way before the process exits.
func NotifyStopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		return fmt.Errorf("sysready: notify failed: %w", err)
	}
	return nil
}

// Watchdog returns the interval systemd expects a keepalive ping on, and
// whether watchdog supervision is enabled for this unit.
func Watchdog() (interval int64, enabled bool, err error) {
	d, enabled, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, false, fmt.Errorf("sysready: watchdog check failed: %w", err)
	}
	return int64(d), enabled, nil
}

// Ping sends the WATCHDOG=1 keepalive.
func Ping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	if err != nil {
		return fmt.Errorf("sysready: watchdog ping failed: %w", err)
	}
	return nil
}
