package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/eventbus"
	logx "ps2notify/pkg/logx"
)

// State is the connection state reported through Status.
type State int

const (
	StateConnecting State = iota + 1
	StateOpen
	StateError
	StateClosed
	StateLost
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Status is emitted on every state change.
type Status struct {
	State State
	// Attempt is the consecutive failure count for Error and Lost, and the
	// connection attempt number for Connecting.
	Attempt int
	Err     error
	// Retry is the scheduled wait after an Error.
	Retry time.Duration
	At    time.Time
}

// Handlers receive frames and status changes. Both run on the handle's
// run loop, one at a time. They must not call Close.
type Handlers struct {
	OnFrame  func(frame []byte)
	OnStatus func(st Status)
}

// Client opens streaming handles.
type Client struct {
	cfg    Config
	log    logx.Logger
	dialer Dialer
	bus    eventbus.Bus
	now    func() time.Time
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(c *Client) {
		if b != nil {
			c.bus = b
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "stream")),
		dialer: WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout},
		bus:    eventbus.Nop{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open starts a connection generation for sub and returns immediately.
// Dial and subscribe failures never surface here; they drive the
// reconnect loop and are reported through h.OnStatus.
func (c *Client) Open(ctx context.Context, sub census.Subscription, h Handlers) (*Handle, error) {
	if sub.Empty() {
		return nil, ErrEmptySubscription
	}
	frames, err := census.EncodeSubscribe(sub)
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	hd := &Handle{
		c:      c,
		sub:    sub,
		frames: frames,
		h:      h,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go hd.run()
	return hd, nil
}

// Handle owns one logical connection and its reconnect loop.
type Handle struct {
	c      *Client
	sub    census.Subscription
	frames [][]byte
	h      Handlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards closed, the reconnect timer and the live conn. Close sets
	// closed and clears the timer in one critical section, so a pending
	// reconnect can never start a new connection afterwards.
	mu        sync.Mutex
	closed    bool
	timer     *time.Timer
	conn      Conn
	reconnect error

	closeOnce sync.Once
}

// Subscription returns the subscription this handle replays.
func (h *Handle) Subscription() census.Subscription { return h.sub }

// Done is closed when the run loop has exited (after Close or Lost).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close stops the handle. It is idempotent; the Closed status is emitted
// exactly once, and no callback runs after Close returns.
func (h *Handle) Close() error {
	first := false
	h.closeOnce.Do(func() {
		first = true
		h.mu.Lock()
		h.closed = true
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		conn := h.conn
		h.conn = nil
		h.mu.Unlock()

		h.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		<-h.done
	})
	if !first {
		return nil
	}
	h.deliver(Status{State: StateClosed, At: h.c.now()})
	return nil
}

// Reconnect drops the current connection so the loop reconnects with
// backoff. It does not block. A nil reason is reported as a plain reconnect.
func (h *Handle) Reconnect(reason error) {
	h.mu.Lock()
	if h.closed || h.conn == nil {
		h.mu.Unlock()
		return
	}
	if reason == nil {
		reason = errors.New("stream: reconnect requested")
	}
	h.reconnect = reason
	conn := h.conn
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Handle) run() {
	defer close(h.done)
	log := h.c.log
	failures := 0
	generation := 0

	for h.ctx.Err() == nil {
		generation++
		h.emit(Status{State: StateConnecting, Attempt: generation})

		opened, err := h.session(generation)
		if h.ctx.Err() != nil {
			return
		}
		if opened {
			failures = 0
		}
		if err == nil {
			err = errors.New("stream: connection closed")
		}

		failures++
		if h.c.cfg.MaxRetries > 0 && failures > h.c.cfg.MaxRetries {
			lost := fmt.Errorf("%w after %d attempts: %v", ErrConnectionLost, failures, err)
			log.Error("stream connection lost", logx.Int("attempts", failures), logx.Err(err))
			h.emit(Status{State: StateLost, Attempt: failures, Err: lost})
			return
		}

		delay := h.c.cfg.Backoff.Delay(failures)
		log.Warn("stream connection failed", logx.Int("failures", failures), logx.Duration("retry_in", delay), logx.Err(err))
		h.emit(Status{State: StateError, Attempt: failures, Err: err, Retry: delay})
		if !h.wait(delay) {
			return
		}
	}
}

// session runs one connection until it fails. opened reports whether the
// subscriptions were sent; the caller then restarts its failure count, so a
// dropped established connection counts as the first failure.
func (h *Handle) session(generation int) (opened bool, err error) {
	conn, err := h.c.dialer.Dial(h.ctx, h.c.cfg.Endpoint())
	if err != nil {
		return false, err
	}
	if !h.attach(conn) {
		_ = conn.Close()
		return false, nil
	}
	defer h.detach(conn)

	if generation > 1 && h.c.cfg.ClearOnReplay {
		if err := writeText(conn, census.ClearSubscribe(), h.c.cfg.WriteTimeout); err != nil {
			return false, fmt.Errorf("clear subscribe: %w", err)
		}
	}
	for _, f := range h.frames {
		if err := writeText(conn, f, h.c.cfg.WriteTimeout); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	h.c.log.Info("stream open", logx.Int("generation", generation), logx.String("subscription", h.sub.String()))
	h.emit(Status{State: StateOpen, Attempt: generation})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if reason := h.takeReconnectReason(); reason != nil {
				return true, reason
			}
			return true, fmt.Errorf("read: %w", err)
		}
		if h.ctx.Err() != nil {
			return true, nil
		}
		if h.h.OnFrame != nil {
			h.h.OnFrame(data)
		}
	}
}

func (h *Handle) attach(conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conn = conn
	h.reconnect = nil
	return true
}

func (h *Handle) detach(conn Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Handle) takeReconnectReason() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.reconnect
	h.reconnect = nil
	return r
}

// wait sleeps for d on a timer registered under mu. It returns false when
// the handle was closed first.
func (h *Handle) wait(d time.Duration) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	t := time.NewTimer(d)
	h.timer = t
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.timer == t {
			h.timer = nil
		}
		h.mu.Unlock()
		t.Stop()
	}()

	select {
	case <-t.C:
		return h.ctx.Err() == nil
	case <-h.ctx.Done():
		return false
	}
}

// emit reports a status from the run loop. Nothing is emitted once the
// handle is closing; Close reports Closed itself.
func (h *Handle) emit(st Status) {
	if h.ctx.Err() != nil {
		return
	}
	if st.At.IsZero() {
		st.At = h.c.now()
	}
	h.deliver(st)
}

func (h *Handle) deliver(st Status) {
	h.c.bus.Publish(eventbus.Event{Type: eventbus.TypeStreamStatus, Time: st.At, Data: st})
	if h.h.OnStatus != nil {
		h.h.OnStatus(st)
	}
}

// redact hides the service id in logged URLs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("service-id") {
		q.Set("service-id", "s:***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
