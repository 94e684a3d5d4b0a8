package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, TopicZone)
	defer sub.Close()

	b.Publish(ctx, TopicZone, "example.com.")

	select {
	case ev := <-sub.Ch:
		if ev.Topic != TopicZone || ev.Data != "example.com." {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsOnFullSubscriberBuffer(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	sub := b.Subscribe(ctx, TopicRRL)
	defer sub.Close()

	// Fill the one-slot buffer, then a second publish must not block.
	b.Publish(ctx, TopicRRL, 1)
	done := make(chan struct{})
	go func() {
		b.Publish(ctx, TopicRRL, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	sub := b.Subscribe(ctx, TopicZone)
	sub.Close()

	// Draining Ch after Close must eventually observe it closed.
	select {
	case _, ok := <-sub.Ch:
		if ok {
			t.Fatal("expected channel to be closed or empty")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}
