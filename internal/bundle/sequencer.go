package bundle

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sequencer hands out sequence keys: ULID strings that are strictly
// increasing for the lifetime of the Sequencer, even if the wall clock steps back.
type Sequencer struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
}

// NewSequencer creates a Sequencer seeded from crypto/rand.
func NewSequencer() *Sequencer {
	return &Sequencer{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a key greater than every key previously returned.
func (s *Sequencer) Next(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := ulid.Timestamp(t)
	if last := s.last.Time(); ms < last {
		ms = last
	}

	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		return "", err
	}
	s.last = id
	return id.String(), nil
}
