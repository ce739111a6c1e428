// Package broadcaster implements Broadcaster (spec.md §4.9): translates
// domain-level calls into push.Frame envelopes and hands them to PushServer,
// buffering while no server is attached. Grounded on the teacher's
// reconnect-with-backoff pattern (internal/errors/circuit_breaker.go uses
// the same "classify transient, then retry with backoff" shape) and the
// domain-event fan-out convention in internal/delivery/server (one named
// method per event kind rather than a generic Publish(topic, payload)).
package broadcaster

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"alex/internal/apperr"
	"alex/internal/logging"
	"alex/internal/push"
)

// RoomBroadcaster is the subset of PushServer the broadcaster depends on,
// defined locally to avoid importing the full push package surface.
type RoomBroadcaster interface {
	BroadcastToRoom(room string, frame push.Frame)
}

// bufferedEvent is one envelope parked in the FIFO buffer while no server
// is attached.
type bufferedEvent struct {
	room  string
	frame push.Frame
}

const defaultBufferCapacity = 1000
const maxReconnectAttempts = 5

// Broadcaster is the Broadcaster component.
type Broadcaster struct {
	mu     sync.Mutex
	server RoomBroadcaster
	logger logging.Logger

	bufferEnabled bool
	bufferCap     int
	buffer        []bufferedEvent

	reconnectAttempts int
	backoffPolicy     backoff.BackOff
}

// New builds a Broadcaster with buffering enabled at the default capacity
// (1000). Pass a nil server to start detached.
func New(server RoomBroadcaster, logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		server:        server,
		logger:        logging.OrNop(logger).With("component", "broadcaster"),
		bufferEnabled: true,
		bufferCap:     defaultBufferCapacity,
		backoffPolicy: newBackoffPolicy(),
	}
}

func newBackoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// SetBuffering toggles buffering and its capacity. Disabling buffering
// drops any events already queued.
func (b *Broadcaster) SetBuffering(enabled bool, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bufferEnabled = enabled
	if capacity > 0 {
		b.bufferCap = capacity
	}
	if !enabled {
		b.buffer = nil
	}
}

// Attach connects a live server, per spec.md §4.9 ("when the server
// reattaches, Flush drains the buffer").
func (b *Broadcaster) Attach(server RoomBroadcaster) {
	b.mu.Lock()
	b.server = server
	b.reconnectAttempts = 0
	b.backoffPolicy = newBackoffPolicy()
	b.mu.Unlock()
}

// Detach removes the current server, switching the broadcaster into
// buffering mode for subsequent publishes.
func (b *Broadcaster) Detach() {
	b.mu.Lock()
	b.server = nil
	b.mu.Unlock()
}

// publish is the shared emit path: deliver immediately if a server is
// attached, else (optionally) buffer.
func (b *Broadcaster) publish(room string, frame push.Frame) {
	b.mu.Lock()
	server := b.server
	b.mu.Unlock()

	if server == nil {
		b.enqueue(room, frame)
		return
	}

	if err := b.deliver(server, room, frame); err != nil {
		b.logger.Warn("broadcast delivery failed, buffering: %v", err)
		b.enqueue(room, frame)
		b.scheduleReconnect()
	}
}

// deliver wraps the send so a panic-free, error-returning call site exists
// for future transports; push.Server.BroadcastToRoom itself is best-effort
// and does not currently return an error, so this never fails today but
// keeps the reconnect path exercised by transports that do.
func (b *Broadcaster) deliver(server RoomBroadcaster, room string, frame push.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.NewInternal(fmt.Errorf("broadcast panic: %v", r))
		}
	}()
	server.BroadcastToRoom(room, frame)
	return nil
}

func (b *Broadcaster) enqueue(room string, frame push.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bufferEnabled {
		return
	}
	b.buffer = append(b.buffer, bufferedEvent{room: room, frame: frame})
	if len(b.buffer) > b.bufferCap {
		b.buffer = b.buffer[len(b.buffer)-b.bufferCap:] // drop-oldest
	}
}

// scheduleReconnect tracks a connection-type failure toward the capped
// reconnect budget; the caller (typically a housekeeping goroutine) decides
// when to actually retry via NextBackOff.
func (b *Broadcaster) scheduleReconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconnectAttempts >= maxReconnectAttempts {
		b.reconnectAttempts = 0
		b.backoffPolicy = newBackoffPolicy()
		return
	}
	b.reconnectAttempts++
}

// NextBackOff returns how long to wait before the next reconnect attempt:
// 0 when no failure is pending, otherwise the next exponential interval. It
// never returns backoff.Stop; scheduleReconnect resets the attempt counter
// once the capped budget (5) is exhausted.
func (b *Broadcaster) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconnectAttempts == 0 {
		return 0
	}
	return b.backoffPolicy.NextBackOff()
}

// Flush drains the buffer in insertion order against the currently attached
// server, reporting how many delivered successfully. If no server is
// attached, it is a no-op returning 0.
func (b *Broadcaster) Flush() int {
	b.mu.Lock()
	server := b.server
	pending := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if server == nil {
		b.mu.Lock()
		b.buffer = pending
		b.mu.Unlock()
		return 0
	}

	delivered := 0
	for _, ev := range pending {
		if err := b.deliver(server, ev.room, ev.frame); err != nil {
			b.enqueue(ev.room, ev.frame)
			continue
		}
		delivered++
	}
	return delivered
}

// BufferLen reports how many events are currently queued.
func (b *Broadcaster) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
