package event

import (
	"context"
	"sync"

	"github.com/smallnest/spice/log"
)

// Bus is the sink the engine publishes lifecycle events to. Publish is
// fire-and-forget from the runner's viewpoint; implementations must be
// safe for concurrent use.
type Bus interface {
	Publish(ctx context.Context, e Event)
}

// BusFunc adapts a function to the Bus interface.
type BusFunc func(ctx context.Context, e Event)

// Publish implements Bus.
func (f BusFunc) Publish(ctx context.Context, e Event) {
	f(ctx, e)
}

// NopBus drops all events.
type NopBus struct{}

// Publish implements Bus.
func (NopBus) Publish(context.Context, Event) {}

// Subscriber receives events from a MemoryBus.
type Subscriber interface {
	OnEvent(ctx context.Context, e Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, e Event)

// OnEvent implements Subscriber.
func (f SubscriberFunc) OnEvent(ctx context.Context, e Event) {
	f(ctx, e)
}

// MemoryBus fans events out to registered subscribers synchronously.
// Subscriber panics are isolated so a misbehaving subscriber cannot
// abort graph execution.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe registers a subscriber.
func (b *MemoryBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("event subscriber panic on %s: %v", e.Type, r)
				}
			}()
			s.OnEvent(ctx, e)
		}()
	}
}

// Recorder is a subscriber that keeps every event it sees. Intended
// for tests and debugging.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent implements Subscriber.
func (r *Recorder) OnEvent(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Publish implements Bus, so a Recorder can also be used directly as a sink.
func (r *Recorder) Publish(ctx context.Context, e Event) {
	r.OnEvent(ctx, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns recorded events of the given type.
func (r *Recorder) ByType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
