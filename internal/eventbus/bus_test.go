package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	streamCh, unsubStream := b.Subscribe(4, "stream.")
	defer unsubStream()
	allCh, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeStreamStatus, Data: "open"})
	b.Publish(Event{Type: TypeNotifierSent})

	select {
	case e := <-streamCh:
		if e.Type != TypeStreamStatus {
			t.Fatalf("Type = %s, want %s", e.Type, TypeStreamStatus)
		}
		if e.Time.IsZero() {
			t.Fatal("expected Publish to stamp time")
		}
	case <-time.After(time.Second):
		t.Fatal("stream subscriber got nothing")
	}
	select {
	case e := <-streamCh:
		t.Fatalf("unexpected event for stream subscriber: %s", e.Type)
	default:
	}
	if len(allCh) != 2 {
		t.Fatalf("unfiltered subscriber buffered %d events, want 2", len(allCh))
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeNotifierQueued})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeStreamStatus})
}
