package tcp

import "sync"

// sink mirrors the websocket transport's outbox: the write pump is the only
// writer on the socket, Send only enqueues.
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

func (s *sink) Close() {
	s.once.Do(func() { close(s.done) })
}
