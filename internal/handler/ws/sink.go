package ws

import "sync"

// sink adapts the registry's non-blocking write surface onto the websocket
// write pump. The pump goroutine is the only writer on the wire; Send only
// ever enqueues.
type sink struct {
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSink(buffer int) *sink {
	return &sink{
		outbox: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues one frame. A saturated outbox means a consumer that cannot
// keep up; reporting failure lets the engine evict rather than letting one
// slow socket stall the broadcast pass.
func (s *sink) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- data:
		return true
	default:
		return false
	}
}

// Close signals the pump to tear the transport down. Idempotent.
func (s *sink) Close() {
	s.once.Do(func() { close(s.done) })
}
