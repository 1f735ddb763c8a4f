// Package eventbus implements the Event Bus (spec.md §4.1): an
// in-process publish/subscribe hub that fans out domain events to
// Gateway WebSocket subscribers scoped by room. Grounded on the
// teacher's messaging package's topic-based fanout shape, rebuilt
// around a bounded per-subscriber channel with drop-oldest
// backpressure instead of messaging's at-least-once federation
// queue, since spec.md §4.1 explicitly chooses availability over
// durability for this bus (a dropped live event is acceptable; a
// stuck subscriber blocking every publisher is not).
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Kind is the closed set of event kinds the bus will carry (spec.md
// §4.1). Publish rejects any other value.
type Kind string

const (
	KindSessionState      Kind = "session_state"
	KindTerminalOutput    Kind = "terminal_output"
	KindHuntStepStarted   Kind = "hunt_step_started"
	KindHuntStepFinished  Kind = "hunt_step_finished"
	KindHuntStatus        Kind = "hunt_status"
	KindAIReasoningState  Kind = "ai_reasoning_state"
	KindAIReportChunk     Kind = "ai_report_chunk"
	KindFindingUpserted   Kind = "finding_upserted"
	KindTimelineEvent     Kind = "timeline_event"
	KindSystemBackpressure Kind = "system.backpressure"
)

var validKinds = map[Kind]bool{
	KindSessionState: true, KindTerminalOutput: true, KindHuntStepStarted: true,
	KindHuntStepFinished: true, KindHuntStatus: true, KindAIReasoningState: true,
	KindAIReportChunk: true, KindFindingUpserted: true, KindTimelineEvent: true,
	KindSystemBackpressure: true,
}

// Room scopes an event to a subscriber's interest: "global",
// "session:<id>", or "asset:<id>" (spec.md §4.1).
type Room string

// Global is the room every subscriber implicitly also receives
// (system-wide announcements such as system.backpressure).
const Global Room = "global"

// Event is one published message.
type Event struct {
	Kind    Kind
	Room    Room
	Payload any
	At      time.Time
}

// DefaultBufferSize is the per-subscriber channel capacity before
// drop-oldest backpressure kicks in, matching
// internal/config.EventBusConfig.DefaultBufferSize.
const DefaultBufferSize = 256

// Bus is the Event Bus. Zero value is not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Room]map[*Subscription]struct{}
	bufferSize  int
}

// New constructs a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[Room]map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscription is a live subscriber's inbox. Events arrive on C in
// the order Publish was called for this room; if the subscriber falls
// behind, the oldest buffered events are dropped to make room for a
// KindSystemBackpressure marker and the new event (with a buffer of
// one, only the new event is kept) (spec.md §4.1: "slow subscribers
// lose history, not liveness").
type Subscription struct {
	C    chan Event
	bus  *Bus
	room Room
	mu   sync.Mutex
}

// Subscribe registers a new subscription to room. The caller must
// call Close when done to avoid leaking the subscriber from the bus's
// registry.
func (b *Bus) Subscribe(room Room) *Subscription {
	sub := &Subscription{
		C:    make(chan Event, b.bufferSize),
		bus:  b,
		room: room,
	}

	b.mu.Lock()
	if b.subscribers[room] == nil {
		b.subscribers[room] = make(map[*Subscription]struct{})
	}
	b.subscribers[room][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Close unregisters the subscription and closes C. Idempotent.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.room][s]; !ok {
		return
	}
	delete(s.bus.subscribers[s.room], s)
	close(s.C)
}

// deliver enqueues event on the subscription, dropping the oldest
// buffered event and substituting a backpressure marker if the
// channel is full. Never blocks.
func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.C <- event:
		return
	default:
	}

	// Buffer full: drop the oldest entry, signal backpressure, retry.
	select {
	case <-s.C:
	default:
	}
	select {
	case s.C <- Event{Kind: KindSystemBackpressure, Room: s.room, At: event.At}:
	default:
	}
	select {
	case s.C <- event:
	default:
		// The marker took the freed slot: drop the next-oldest entry
		// too so the new event itself is still delivered.
		select {
		case <-s.C:
		default:
		}
		select {
		case s.C <- event:
		default:
		}
	}
}

// Publish delivers event to every subscriber of event.Room plus every
// subscriber of Global; an event published to Global itself reaches
// the subscribers of every room. Publish never blocks on a slow subscriber and
// never returns an error for backpressure — only for an invalid Kind,
// per spec.md §4.1 ("publishers are never slowed by subscribers").
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if !validKinds[event.Kind] {
		return errInvalidKind(event.Kind)
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[event.Room] {
		sub.deliver(event)
	}
	if event.Room != Global {
		for sub := range b.subscribers[Global] {
			sub.deliver(event)
		}
	} else {
		for room, subs := range b.subscribers {
			if room == Global {
				continue
			}
			for sub := range subs {
				sub.deliver(event)
			}
		}
	}
	_ = ctx // reserved: a future bounded-publish-deadline policy may select on ctx.Done()
	return nil
}

type errInvalidKind Kind

func (e errInvalidKind) Error() string { return "eventbus: invalid event kind: " + string(e) }
