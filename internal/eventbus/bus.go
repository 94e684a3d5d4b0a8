// Package eventbus is a small in-process pub/sub used to fan out zone
// and rate-limiting state changes to subscribers that would otherwise
// have to poll internal/server's zone map or internal/rrl's stats.
package eventbus

import (
	"context"
	"sync"
)

// Topic names a stream of events. Only the topics internal/server
// actually publishes on are defined here; a control surface that wants
// its own topic should add one alongside its publisher, not speculate
// on a general-purpose set up front.
type Topic string

const (
	// TopicZone carries ZoneEvent values from internal/server whenever a
	// zone is loaded, added, or removed.
	TopicZone Topic = "zone"

	// TopicRRL carries RRLEvent values whenever the response rate
	// limiter drops or slips a response, so an operator can watch abuse
	// in real time without scraping the Prometheus counters.
	TopicRRL Topic = "rrl"
)

// Event is one message published to a Topic. Data's concrete type is
// topic-specific (ZoneEvent for TopicZone, RRLEvent for TopicRRL);
// subscribers type-assert on the topic they subscribed to.
type Event struct {
	Topic Topic
	Data  interface{}
}

// Subscriber is a live subscription returned by Bus.Subscribe. Reading
// from Ch stops once Close is called or the context passed to Subscribe
// is canceled.
type Subscriber struct {
	Ch   <-chan Event
	stop context.CancelFunc
}

// Close ends the subscription and closes Ch.
func (s *Subscriber) Close() {
	if s.stop != nil {
		s.stop()
	}
}

// Bus is a fixed-topic, best-effort pub/sub: a slow subscriber drops
// events rather than blocking the publisher, since a missed zone-load
// notification is recoverable (poll GetZone) but a blocked query path
// is not.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
	buf  int
}

// New returns a Bus whose per-subscriber channels are buffered buf deep.
func New(buf int) *Bus {
	return &Bus{subs: make(map[Topic][]chan Event), buf: buf}
}

// Publish fans data out to every current subscriber of topic.
// Subscribers whose channel is full miss the event; Publish never
// blocks the caller.
func (b *Bus) Publish(ctx context.Context, topic Topic, data interface{}) {
	b.mu.RLock()
	chs := b.subs[topic]
	b.mu.RUnlock()

	event := Event{Topic: topic, Data: data}
	for _, ch := range chs {
		select {
		case ch <- event:
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Subscribe registers a new subscriber to topic. The subscription ends,
// and Ch is closed, when ctx is canceled or Subscriber.Close is called.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) *Subscriber {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-cctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return &Subscriber{Ch: ch, stop: cancel}
}
