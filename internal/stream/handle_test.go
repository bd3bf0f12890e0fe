package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ps2notify/internal/census"
	logx "ps2notify/pkg/logx"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDialer struct {
	fail  error
	conns chan *fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

type recorder struct {
	mu   sync.Mutex
	list []Status
	ch   chan Status
}

func newRecorder() *recorder { return &recorder{ch: make(chan Status, 64)} }

func (r *recorder) on(st Status) {
	r.mu.Lock()
	r.list = append(r.list, st)
	r.mu.Unlock()
	select {
	case r.ch <- st:
	default:
	}
}

func (r *recorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.list {
		if st.State == s {
			n++
		}
	}
	return n
}

func (r *recorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.list...)
}

func (r *recorder) waitFor(t *testing.T, s State) Status {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-r.ch:
			if st.State == s {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v; got %v", s, r.all())
		}
	}
}

var testSub = census.NewSubscription(
	[]string{"all"}, []string{census.EventFacilityControl},
	[]string{"5428059164954198113"}, []string{census.EventDeath},
)

func TestOpenRejectsEmptySubscription(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop(), WithDialer(&fakeDialer{conns: make(chan *fakeConn, 1)}))
	if _, err := c.Open(context.Background(), census.Subscription{}, Handlers{}); !errors.Is(err, ErrEmptySubscription) {
		t.Fatalf("Open err = %v, want ErrEmptySubscription", err)
	}
}

func TestHandleOverWebsocket(t *testing.T) {
	t.Parallel()
	got := make(chan [][]byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("service-id") != "s:test" {
			http.Error(w, "bad service id", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frames [][]byte
		for range 2 {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames = append(frames, b)
		}
		got <- frames
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"service":"event","type":"heartbeat"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	endpoint := EndpointURL("ws"+strings.TrimPrefix(srv.URL, "http"), "ps2", "test")
	rec := newRecorder()
	frames := make(chan []byte, 4)
	c := New(Config{URL: endpoint}, logx.Nop())
	h, err := c.Open(context.Background(), testSub, Handlers{
		OnFrame:  func(b []byte) { frames <- b },
		OnStatus: rec.on,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case sent := <-got:
		sub, err := census.DecodeSubscribe(sent)
		if err != nil {
			t.Fatalf("DecodeSubscribe: %v", err)
		}
		if !sub.Equal(testSub) {
			t.Fatalf("server saw %v, want %v", sub, testSub)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received subscribe frames")
	}

	select {
	case b := <-frames:
		if env, ok := census.Decode(b); !ok || env.Type != census.TypeHeartbeat {
			t.Fatalf("frame = %s, want heartbeat", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no frame delivered")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := rec.count(StateClosed); n != 1 {
		t.Fatalf("closed statuses = %d, want 1", n)
	}
	before := len(rec.all())
	time.Sleep(20 * time.Millisecond)
	if after := len(rec.all()); after != before {
		t.Fatalf("statuses after Close: %d -> %d", before, after)
	}
}

func TestConnectionLostAfterMaxRetries(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{fail: errors.New("connection refused")}
	rec := newRecorder()
	c := New(Config{Backoff: Backoff{Base: 10 * time.Millisecond, Max: 80 * time.Millisecond}, MaxRetries: 3},
		logx.Nop(), WithDialer(d))
	h, err := c.Open(context.Background(), testSub, Handlers{OnStatus: rec.on})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	lost := rec.waitFor(t, StateLost)
	if !errors.Is(lost.Err, ErrConnectionLost) {
		t.Fatalf("lost err = %v, want ErrConnectionLost", lost.Err)
	}
	if got := d.dials.Load(); got != 4 {
		t.Fatalf("dials = %d, want 4", got)
	}

	var waits []time.Duration
	for _, st := range rec.all() {
		if st.State == StateError {
			waits = append(waits, st.Retry)
		}
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("retry waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("retry waits = %v, want %v", waits, want)
		}
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop still running after Lost")
	}
	time.Sleep(100 * time.Millisecond)
	if got := d.dials.Load(); got != 4 {
		t.Fatalf("dials after Lost = %d, want 4", got)
	}
}

func TestReconnectReplaysSubscription(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{conns: make(chan *fakeConn, 4)}
	rec := newRecorder()
	c := New(Config{Backoff: Backoff{Base: time.Millisecond, Max: time.Millisecond}, ClearOnReplay: true},
		logx.Nop(), WithDialer(d))
	h, err := c.Open(context.Background(), testSub, Handlers{OnStatus: rec.on})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	first := <-d.conns
	rec.waitFor(t, StateOpen)
	h.Reconnect(ErrStalled)

	errSt := rec.waitFor(t, StateError)
	if !errors.Is(errSt.Err, ErrStalled) || errSt.Attempt != 1 {
		t.Fatalf("error status = %+v, want ErrStalled attempt 1", errSt)
	}
	var second *fakeConn
	select {
	case second = <-d.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	rec.waitFor(t, StateOpen)

	w1 := first.Writes()
	w2 := second.Writes()
	if len(w2) != len(w1)+1 {
		t.Fatalf("second conn writes = %d, want %d", len(w2), len(w1)+1)
	}
	if string(w2[0]) != string(census.ClearSubscribe()) {
		t.Fatalf("first replay frame = %s, want clearSubscribe", w2[0])
	}
	s1, _ := census.DecodeSubscribe(w1)
	s2, _ := census.DecodeSubscribe(w2[1:])
	if !s1.Equal(s2) || !s2.Equal(testSub) {
		t.Fatalf("replayed %v, first %v", s2, s1)
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{fail: errors.New("boom")}
	rec := newRecorder()
	c := New(Config{Backoff: Backoff{Base: time.Hour, Max: time.Hour}}, logx.Nop(), WithDialer(d))
	h, err := c.Open(context.Background(), testSub, Handlers{OnStatus: rec.on})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec.waitFor(t, StateError)

	done := make(chan struct{})
	go func() {
		_ = h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on pending reconnect")
	}
	if got := d.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if n := rec.count(StateClosed); n != 1 {
		t.Fatalf("closed statuses = %d, want 1", n)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
		{0, time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.n); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()
	got := Config{Environment: "ps2", ServiceID: "abc"}.Endpoint()
	want := "wss://push.planetside2.com/streaming?environment=ps2&service-id=s%3Aabc"
	if got != want {
		t.Fatalf("Endpoint = %q, want %q", got, want)
	}
	if r := redact(got); strings.Contains(r, "abc") {
		t.Fatalf("redact leaked service id: %s", r)
	}
}
