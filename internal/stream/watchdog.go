package stream

import (
	"sync"
	"time"
)

// Watchdog calls fire when Kick has not been called within timeout. It
// re-arms after firing, so a stream that stays silent keeps being poked.
type Watchdog struct {
	timeout time.Duration
	fire    func()

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// NewWatchdog returns an armed watchdog. A non-positive timeout disables it.
func NewWatchdog(timeout time.Duration, fire func()) *Watchdog {
	w := &Watchdog{timeout: timeout, fire: fire}
	if timeout <= 0 || fire == nil {
		w.stopped = true
		return w
	}
	w.mu.Lock()
	w.t = time.AfterFunc(timeout, w.expire)
	w.mu.Unlock()
	return w
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.t.Reset(w.timeout)
	w.mu.Unlock()
	w.fire()
}

// Kick restarts the timeout.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.t.Reset(w.timeout)
}

// Stop disarms the watchdog. A fire already in progress may still complete.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.t.Stop()
}
