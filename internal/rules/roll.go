package rules

import (
	"math/rand"
	"sync"
	"time"
)

// Roll captures a single percentile roll, 1 through 100. The total is fixed
// at creation and never re-sampled: revising a test reuses the same roll, so
// evaluation stays deterministic.
type Roll struct {
	Total int
}

// LastDigit returns the terminal digit of the roll, the digit consulted by
// critical tables and last-digit outcome entries. A roll of 100 yields 0.
func (r Roll) LastDigit() int {
	return r.Total % 10
}

// Roller produces percentile rolls from a seeded source. The same seed
// yields the same sequence, which keeps journal replays reproducible.
// A Roller is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a roller seeded with seed.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// D100 rolls one percentile die.
func (r *Roller) D100() Roll {
	return Roll{Total: r.RollN(100)}
}

// RollN rolls a single die with the given number of sides, returning a value
// in [1, sides].
func (r *Roller) RollN(sides int) int {
	if sides < 1 {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1
}

var (
	defaultRollerOnce sync.Once
	defaultRoller     *Roller
)

// DefaultRoller returns the process-wide roller, seeded once from the clock.
// Tests that need determinism construct their own seeded Roller instead.
func DefaultRoller() *Roller {
	defaultRollerOnce.Do(func() {
		defaultRoller = NewRoller(time.Now().UnixNano())
	})
	return defaultRoller
}
