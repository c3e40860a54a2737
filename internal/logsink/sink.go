// Package logsink holds the bounded line buffer every scheduler slot writes
// its process output to.
//
// Writers are serialized by a mutex. Readers never lock: every append
// publishes a fresh immutable slice, so Lines always observes a complete,
// ordered sequence of at most Cap entries.
package logsink

import (
	"sync"
	"sync/atomic"
)

// DefaultCap is the number of lines a Sink keeps when created with New(0).
const DefaultCap = 50

type Sink struct {
	mx    sync.Mutex
	cap   int
	lines atomic.Pointer[[]string]
}

func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	s := &Sink{cap: capacity}
	s.lines.Store(&[]string{})
	return s
}

// Append adds line to the tail and evicts the oldest lines once the sink
// holds more than its capacity.
func (s *Sink) Append(lines ...string) {
	if len(lines) == 0 {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()

	cur := *s.lines.Load()
	total := len(cur) + len(lines)
	drop := max(total-s.cap, 0)

	next := make([]string, 0, min(total, s.cap))
	if drop < len(cur) {
		next = append(next, cur[drop:]...)
		next = append(next, lines...)
	} else {
		next = append(next, lines[drop-len(cur):]...)
	}
	s.lines.Store(&next)
}

// Reset drops all lines.
func (s *Sink) Reset() {
	s.mx.Lock()
	s.lines.Store(&[]string{})
	s.mx.Unlock()
}

// Lines returns the current content. The returned slice is shared and must
// not be modified.
func (s *Sink) Lines() []string {
	return *s.lines.Load()
}

func (s *Sink) Len() int {
	return len(s.Lines())
}

func (s *Sink) Cap() int {
	return s.cap
}
