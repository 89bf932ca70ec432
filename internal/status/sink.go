// Package status fans engine events out to the host application. The sink
// decouples the producers (monitoring loops, the purchase executor) from
// however the host consumes events; a slow consumer costs dropped events,
// never a stalled loop.
package status

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
)

// DefaultBufferSize is generous enough that drops only happen when the
// consumer has stopped keeping up entirely.
const DefaultBufferSize = 1024

// Consumer receives events one at a time, in publish order, on the sink's
// single consumer goroutine.
type Consumer func(event schemas.StatusEvent)

// Sink is a bounded, non-blocking schemas.StatusSink. Publish never waits:
// when the buffer is full the event is counted and discarded.
type Sink struct {
	logger *zap.Logger
	events chan schemas.StatusEvent

	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
}

var _ schemas.StatusSink = (*Sink)(nil)

// NewSink starts the consumer goroutine and returns the running sink.
// A buffer of zero or less selects DefaultBufferSize.
func NewSink(logger *zap.Logger, buffer int, consumer Consumer) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	s := &Sink{
		logger: logger.Named("status"),
		events: make(chan schemas.StatusEvent, buffer),
	}
	s.wg.Add(1)
	go s.consume(consumer)
	return s
}

// Publish enqueues the event for the consumer. Events published after Close,
// or while the buffer is full, are counted in Dropped and discarded.
func (s *Sink) Publish(event schemas.StatusEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		s.logger.Debug("Event after close discarded",
			zap.String("type", string(event.Type)),
			zap.String("profile_id", event.ProfileID),
		)
		return
	}

	select {
	case s.events <- event:
	default:
		total := s.dropped.Add(1)
		s.logger.Warn("Status buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("profile_id", event.ProfileID),
			zap.Uint64("total_dropped", total),
		)
	}
}

// Dropped reports how many events have been discarded since the sink started.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events, lets the consumer drain what is already
// buffered, and returns once the consumer goroutine has exited. Safe to call
// more than once.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Debug("Status sink drained", zap.Uint64("dropped", s.dropped.Load()))
	})
}

func (s *Sink) consume(consumer Consumer) {
	defer s.wg.Done()
	for event := range s.events {
		s.deliver(consumer, event)
	}
}

// deliver isolates the host's callback: a panicking consumer costs one event,
// not the consumer goroutine.
func (s *Sink) deliver(consumer Consumer, event schemas.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Status consumer panicked",
				zap.Any("panic", r),
				zap.String("type", string(event.Type)),
				zap.String("profile_id", event.ProfileID),
			)
		}
	}()
	if consumer != nil {
		consumer(event)
	}
}
