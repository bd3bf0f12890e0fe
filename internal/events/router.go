package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	logx "ps2notify/pkg/logx"
)

// Handler reacts to one Event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// HandlerFault is a single handler's error or panic during dispatch.
type HandlerFault struct {
	Kind  Kind
	Index int
	Err   error
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("handler %s#%d: %v", f.Kind, f.Index, f.Err)
}

func (f *HandlerFault) Unwrap() error { return f.Err }

// Router fans an Event out to every handler registered for its Kind.
type Router struct {
	log logx.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewRouter(log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{log: log.With(logx.String("comp", "router")), handlers: map[Kind][]Handler{}}
}

// Register appends h to the handlers for kind. Dispatch calls them in
// registration order.
func (r *Router) Register(kind Kind, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.handlers[kind] = append(r.handlers[kind], h)
	r.mu.Unlock()
}

// Handlers returns how many handlers are registered for kind.
func (r *Router) Handlers(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Dispatch runs every handler for ev.Kind(). A failing or panicking handler
// does not stop the rest; each failure is returned as a *HandlerFault.
func (r *Router) Dispatch(ctx context.Context, ev Event) []error {
	if ev == nil {
		return nil
	}
	kind := ev.Kind()
	r.mu.RLock()
	hs := r.handlers[kind]
	r.mu.RUnlock()

	var faults []error
	for i, h := range hs {
		if err := r.call(ctx, h, ev); err != nil {
			f := &HandlerFault{Kind: kind, Index: i, Err: err}
			r.log.Error("handler failed", logx.String("kind", kind.String()), logx.Int("index", i), logx.Err(err))
			faults = append(faults, f)
		}
	}
	return faults
}

func (r *Router) call(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Debug("handler panic stack", logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.Handle(ctx, ev)
}
