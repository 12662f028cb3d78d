package reconcile

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultStreamInterval is the minimum gap between intermediate deliveries.
const DefaultStreamInterval = 200 * time.Millisecond

// Streamer turns raw model fragments into throttled visible-text snapshots.
// A single updater goroutine calls deliver, so at most one delivery is in flight;
// stale snapshots waiting for it are replaced by newer ones.
type Streamer struct {
	deliver func(string)
	limiter *rate.Limiter

	mu       sync.Mutex
	buf      strings.Builder
	last     string
	finished bool

	mailbox chan string
	done    chan struct{}
}

// NewStreamer starts the updater. deliver may be nil when nobody listens.
func NewStreamer(deliver func(string), interval time.Duration) *Streamer {
	s := &Streamer{
		deliver: deliver,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		mailbox: make(chan string, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Streamer) run() {
	defer close(s.done)
	for v := range s.mailbox {
		if s.deliver != nil {
			s.deliver(v)
		}
	}
}

// Append records a fragment and offers the extracted reply to the updater.
func (s *Streamer) Append(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.buf.WriteString(fragment)

	value, ok := ExtractPartial(s.buf.String())
	if !ok || value == "" || value == s.last {
		return
	}
	if !s.limiter.Allow() {
		return
	}
	s.last = value

	select {
	case <-s.mailbox:
	default:
	}
	s.mailbox <- value
}

// Text returns everything appended so far.
func (s *Streamer) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Finish stops the updater and delivers final unconditionally after any pending snapshot.
func (s *Streamer) Finish(final string) {
	if !s.stop() {
		return
	}
	if s.deliver != nil && final != "" {
		s.deliver(final)
	}
}

// Stop ends the stream without a final delivery.
func (s *Streamer) Stop() {
	s.stop()
}

func (s *Streamer) stop() bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	close(s.mailbox)
	s.mu.Unlock()
	<-s.done
	return true
}
