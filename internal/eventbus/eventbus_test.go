package eventbus

import (
	"context"
	"testing"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe(Room("session:1"))
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, Event{Kind: KindHuntStepStarted, Room: Room("session:1")}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		ev := <-sub.C
		if ev.Kind != KindHuntStepStarted {
			t.Fatalf("unexpected kind %v", ev.Kind)
		}
	}
}

func TestPublishRejectsUnknownKind(t *testing.T) {
	bus := New(4)
	err := bus.Publish(context.Background(), Event{Kind: Kind("bogus"), Room: Global})
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestGlobalFanout(t *testing.T) {
	bus := New(4)
	sessionSub := bus.Subscribe(Room("session:1"))
	defer sessionSub.Close()

	if err := bus.Publish(context.Background(), Event{Kind: KindSystemBackpressure, Room: Global}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := <-sessionSub.C
	if ev.Kind != KindSystemBackpressure {
		t.Fatalf("expected global event to reach session subscriber, got %v", ev.Kind)
	}
}

func TestBackpressureDropsOldest(t *testing.T) {
	bus := New(2)
	sub := bus.Subscribe(Room("asset:x"))
	defer sub.Close()

	ctx := context.Background()
	// Fill the buffer, then overflow it.
	for i := 0; i < 5; i++ {
		_ = bus.Publish(ctx, Event{Kind: KindTerminalOutput, Room: Room("asset:x")})
	}

	sawBackpressure := false
	for len(sub.C) > 0 {
		ev := <-sub.C
		if ev.Kind == KindSystemBackpressure {
			sawBackpressure = true
		}
	}
	if !sawBackpressure {
		t.Fatalf("expected a backpressure marker after overflowing the buffer")
	}
}
