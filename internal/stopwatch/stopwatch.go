// Package stopwatch accumulates the time a crawl has spent running across
// pause/resume cycles and process restarts.
package stopwatch

import (
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

var (
	// ErrAlreadyStarted is returned by Start on a running stopwatch.
	ErrAlreadyStarted = errors.New("stopwatch already started")
	// ErrNotStarted is returned by Stop on a stopped stopwatch.
	ErrNotStarted = errors.New("stopwatch not started")
)

// Stopwatch is safe for concurrent use.
type Stopwatch struct {
	clock clock.Clock

	mu      sync.Mutex
	elapsed time.Duration
	start   time.Time
	running bool
}

// New returns a stopped stopwatch that already holds initial. A nil clock
// means the wall clock.
func New(clk clock.Clock, initial time.Duration) *Stopwatch {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Stopwatch{clock: clk, elapsed: initial}
}

func (s *Stopwatch) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	s.start = s.clock.Now()
	s.running = true
	return nil
}

func (s *Stopwatch) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotStarted
	}
	s.elapsed += s.clock.Now().Sub(s.start)
	s.running = false
	return nil
}

// Reset clears the accumulated time. A running stopwatch keeps running from now.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elapsed = 0
	if s.running {
		s.start = s.clock.Now()
	}
}

func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed returns the accumulated time including the current run, if any.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.elapsed + s.clock.Now().Sub(s.start)
	}
	return s.elapsed
}
