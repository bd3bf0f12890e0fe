package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrConnectionLost is reported once reconnect retries are exhausted.
	ErrConnectionLost = errors.New("stream: connection lost")
	// ErrStalled is the reason given when the watchdog forces a reconnect.
	ErrStalled = errors.New("stream: no heartbeat within watchdog timeout")
	// ErrEmptySubscription is returned by Open when there is nothing to subscribe to.
	ErrEmptySubscription = errors.New("stream: empty subscription")
)

const DefaultEndpoint = "wss://push.planetside2.com/streaming"

// Config controls one streaming client.
type Config struct {
	// URL overrides the endpoint built from Environment and ServiceID.
	URL         string
	Environment string
	ServiceID   string

	Backoff Backoff
	// MaxRetries is the number of consecutive failed reconnects tolerated
	// before the handle gives up with ErrConnectionLost. 0 means unlimited.
	MaxRetries int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ClearOnReplay sends a clearSubscribe frame before replaying
	// subscriptions on every connection after the first.
	ClearOnReplay bool
}

func (c Config) withDefaults() Config {
	c.Backoff = c.Backoff.withDefaults()
	if c.Environment == "" {
		c.Environment = "ps2"
	}
	if c.ServiceID == "" {
		c.ServiceID = "example"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Endpoint returns the push-service URL for this config.
func (c Config) Endpoint() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		return u
	}
	return EndpointURL(DefaultEndpoint, c.Environment, c.ServiceID)
}

// EndpointURL appends the environment and service id query to base.
func EndpointURL(base, environment, serviceID string) string {
	q := url.Values{}
	q.Set("environment", environment)
	q.Set("service-id", "s:"+serviceID)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// Backoff is an exponential reconnect delay without jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay returns the wait before retry n (n >= 1): Base<<(n-1), capped at Max.
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()
	if n < 1 {
		n = 1
	}
	if n-1 >= 62 {
		return b.Max
	}
	d := b.Base << (n - 1)
	if d <= 0 || d > b.Max || d>>(n-1) != b.Base {
		return b.Max
	}
	return d
}

func (b Backoff) String() string { return fmt.Sprintf("%v..%v", b.Base, b.Max) }
