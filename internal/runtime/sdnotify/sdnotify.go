// Package sdnotify reports readiness and liveness to systemd.
//
// Everything here is a no-op outside a Type=notify unit (no NOTIFY_SOCKET).
package sdnotify

import (
	"context"
	"fmt"
	"time"

	logx "ps2notify/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
	healthy  func() bool
}

type Option func(*Notifier)

// WithHealthCheck withholds watchdog pings while fn reports false, so
// systemd restarts a wedged process.
func WithHealthCheck(fn func() bool) Option { return func(n *Notifier) { n.healthy = fn } }

func New(enabled bool, log logx.Logger, opts ...Option) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{
		enabled:  enabled,
		log:      log.With(logx.String("comp", "sdnotify")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Trace("sd_notify skipped; no socket", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form unit status line shown by systemctl status.
func (n *Notifier) Status(format string, a ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, a...))
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns at once when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) error {
	if n == nil || !n.enabled {
		return nil
	}
	every, err := n.interval()
	if err != nil {
		return fmt.Errorf("watchdog interval: %w", err)
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Debug("systemd watchdog enabled", logx.Duration("ping", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n.healthy != nil && !n.healthy() {
				n.log.Warn("watchdog ping withheld; unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
