// Package random provides the seedable randomness used for jitter,
// note selection and image sampling.
package random

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

// Source is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func New(seed int64) *Source {
	return &Source{rnd: rand.New(rand.NewSource(seed))}
}

// NewFromClock seeds from the wall clock.
func NewFromClock() *Source {
	return New(time.Now().UnixNano())
}

// Derive returns a Source for one account. A zero base seed yields a
// clock-seeded source so unattended runs do not repeat values.
func Derive(baseSeed int64, key string) *Source {
	if baseSeed == 0 {
		return NewFromClock()
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return New(baseSeed ^ int64(h.Sum64()))
}

func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// Uniform returns a value in [-bound, bound).
func (s *Source) Uniform(bound float64) float64 {
	return (s.Float64()*2 - 1) * bound
}

func (s *Source) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// Sample picks k distinct indices from [0, n). When k >= n every index is
// returned in shuffled order.
func (s *Source) Sample(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	s.mu.Lock()
	perm := s.rnd.Perm(n)
	s.mu.Unlock()
	if k > n {
		k = n
	}
	return perm[:k]
}
