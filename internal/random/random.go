// Package random isolates every source of simulated "intelligence" behind a
// small interface so that runs can be seeded or replayed.
package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields uniform values. Float64 is in [0,1); Intn is in [0,n).
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Rand is a Source safe for concurrent use.
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a seeded Source. A zero seed picks one from the wall clock.
func New(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{rng: rand.New(rand.NewSource(seed))}
}

func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *Rand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// Int63 lets a Rand back a math/rand Source consumer such as faker.
func (r *Rand) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63()
}

func (r *Rand) Seed(seed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Seed(seed)
}

// Sequence replays a fixed list of values in [0,1), wrapping around.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func (s *Sequence) Intn(n int) int {
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Between returns a uniform value in [min,max).
func Between(src Source, min, max float64) float64 {
	return min + src.Float64()*(max-min)
}

// Chance reports true with probability p.
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}

// Pick returns a uniformly chosen element of items.
func Pick[T any](src Source, items []T) T {
	return items[src.Intn(len(items))]
}
