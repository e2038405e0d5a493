package replication

import "sync"

// Publisher is the in-process event bus capability the Session Manager
// publishes decoded events to. Publication is synchronous: the Session
// Manager does not read the next message until Publish returns, so a slow
// Publisher is the flow-control mechanism by design — backpressure here
// slows decoding, which slows status feedback, which lets WAL grow
// upstream.
type Publisher interface {
	Publish(event string) error
}

// ChannelBus is the minimal Publisher: a single buffered channel of JSON
// event strings, the simplest valid backing for the publish capability.
type ChannelBus struct {
	ch chan string
}

// NewChannelBus creates a ChannelBus with the given buffer size.
func NewChannelBus(buffer int) *ChannelBus {
	return &ChannelBus{ch: make(chan string, buffer)}
}

// Publish sends event on the channel, blocking if the buffer is full —
// this is the intended backpressure path.
func (b *ChannelBus) Publish(event string) error {
	b.ch <- event
	return nil
}

// Events returns the receive side of the channel for a single consumer.
func (b *ChannelBus) Events() <-chan string {
	return b.ch
}

// Close releases the channel. Only call this after the Session Manager
// has stopped publishing.
func (b *ChannelBus) Close() {
	close(b.ch)
}

// FanoutBus is a multi-subscriber Publisher using the same
// subscribe/unsubscribe pattern as internal/metrics.Collector and
// internal/server's websocket hub, so that any number of dashboards
// (HTTP/WebSocket, TUI, tests) can observe the same event stream without
// slowing each other down.
type FanoutBus struct {
	mu          sync.Mutex
	subscribers map[chan string]struct{}
}

// NewFanoutBus creates an empty FanoutBus.
func NewFanoutBus() *FanoutBus {
	return &FanoutBus{subscribers: make(map[chan string]struct{})}
}

// Publish delivers event to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it rather than stalling the
// whole bus — slow dashboards should not be able to apply backpressure to
// every other subscriber, only the Session Manager's own direct Publisher
// does that (see ChannelBus).
func (b *FanoutBus) Publish(event string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a new receiver channel.
func (b *FanoutBus) Subscribe(buffer int) chan string {
	ch := make(chan string, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a receiver channel.
func (b *FanoutBus) Unsubscribe(ch chan string) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}
