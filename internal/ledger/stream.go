package ledger

import (
	"sync"
)

// Stream is the Subscription implementation shared by ledger clients.
type Stream struct {
	requests chan OracleRequest
	errc     chan error
	quit     chan struct{}
	once     sync.Once
	onEnd    func()
}

// NewStream returns a live stream. onEnd, if set, runs once when the stream
// ends, whether through Unsubscribe or Fail.
func NewStream(buffer int, onEnd func()) *Stream {
	return &Stream{
		requests: make(chan OracleRequest, buffer),
		errc:     make(chan error, 1),
		quit:     make(chan struct{}),
		onEnd:    onEnd,
	}
}

func (s *Stream) Requests() <-chan OracleRequest { return s.requests }

func (s *Stream) Err() <-chan error { return s.errc }

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.quit }

// Deliver hands req to the consumer. It blocks while the buffer is full and
// returns false if the stream ended first.
func (s *Stream) Deliver(req OracleRequest) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.requests <- req:
		return true
	case <-s.quit:
		return false
	}
}

// Fail ends the stream with err.
func (s *Stream) Fail(err error) {
	s.end(err)
}

// Unsubscribe ends the stream without error.
func (s *Stream) Unsubscribe() {
	s.end(nil)
}

func (s *Stream) end(err error) {
	s.once.Do(func() {
		close(s.quit)
		if err != nil {
			s.errc <- err
		}
		close(s.errc)
		if s.onEnd != nil {
			s.onEnd()
		}
	})
}
