// Package systemd reports service state to the service manager over the
// sd_notify protocol. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "upgradebot/pkg/logx"
)

type Notifier struct {
	log logx.Logger
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnv bool, state string) (bool, error)
	// watchdog is daemon.SdWatchdogEnabled; replaced in tests.
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

func (n *Notifier) send(state string) bool {
	ok, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// Ready reports READY=1 and returns whether a service manager received it.
func (n *Notifier) Ready() bool {
	ok := n.send(daemon.SdNotifyReady)
	if ok {
		n.log.Info("systemd notified ready")
	}
	return ok
}

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status publishes a free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Watchdog pings at half the WATCHDOG_USEC interval until ctx is done. A
// ping is skipped while healthy returns an error, so a wedged process gets
// restarted. It returns at once when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context, healthy func(ctx context.Context) error) error {
	every, err := n.watchdog(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if healthy != nil {
			hctx, cancel := context.WithTimeout(ctx, every)
			err := healthy(hctx)
			cancel()
			if err != nil {
				n.log.Warn("health check failed; skipping watchdog ping", logx.Err(err))
				continue
			}
		}
		n.send(daemon.SdNotifyWatchdog)
	}
}
