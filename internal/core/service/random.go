package service

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Random is the randomness used for shuffles and score jitter.
type Random interface {
	// Float64 returns a value in [0, 1)
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// LockedRandom is a seeded PRNG safe for concurrent use.
type LockedRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed uint64) *LockedRandom {
	return &LockedRandom{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func NewTimeSeededRandom() *LockedRandom {
	return NewRandom(uint64(time.Now().UnixNano()))
}

func (r *LockedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *LockedRandom) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(n, swap)
}

// shuffled returns a shuffled copy of in.
func shuffled[T any](rnd Random, in []T) []T {
	out := append([]T(nil), in...)
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// truncate keeps the first limit entries; limit <= 0 keeps everything.
func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
