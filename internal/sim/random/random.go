package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields integers in [min, max], both inclusive.
type Source interface {
	RandomInt(min, max int) int
}

// Seeded wraps math/rand with a fixed seed so a game can be replayed.
// It is safe for concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded creates a source. A zero seed means the current time.
func NewSeeded(seed int64) *Seeded {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeded{rng: rand.New(rand.NewSource(seed))}
}

func (s *Seeded) RandomInt(min, max int) int {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rng.Intn(max-min+1)
}

// Reseed restarts the stream from seed.
func (s *Seeded) Reseed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Seed(seed)
}

// Intn returns a value in [0, n).
func (s *Seeded) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Fixed replays a list of values, clamped to the requested range. Once
// exhausted it keeps returning min. Used by tests that need exact outcomes.
type Fixed struct {
	mu     sync.Mutex
	values []int
}

func NewFixed(values ...int) *Fixed { return &Fixed{values: values} }

func (f *Fixed) RandomInt(min, max int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return min
	}
	v := f.values[0]
	f.values = f.values[1:]
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
