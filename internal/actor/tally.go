package actor

// TallyKind names a tracked condition pool on an actor.
type TallyKind string

const (
	TallyWounds  TallyKind = "wounds"
	TallyFatigue TallyKind = "fatigue"
	TallyFate    TallyKind = "fate"
)

// Tally is a named non-negative counter.
type Tally struct {
	Kind  TallyKind
	Count int
}

// NewTally builds a tally; counts below zero start at zero.
func NewTally(kind TallyKind, count int) *Tally {
	if count < 0 {
		count = 0
	}
	return &Tally{Kind: kind, Count: count}
}

// Add increases the tally. Non-positive amounts are ignored.
func (t *Tally) Add(amount int) {
	if amount > 0 {
		t.Count += amount
	}
}

// Remove decreases the tally, clamping at zero. It returns how many were
// actually removed.
func (t *Tally) Remove(amount int) int {
	if amount <= 0 {
		return 0
	}
	if amount > t.Count {
		amount = t.Count
	}
	t.Count -= amount
	return amount
}

// Copy deep-copies the tally.
func (t *Tally) Copy() *Tally {
	return &Tally{Kind: t.Kind, Count: t.Count}
}

// TallySet manages an actor's condition tallies.
type TallySet struct {
	tallies map[TallyKind]*Tally
}

// NewTallySet returns an empty tally set.
func NewTallySet() *TallySet {
	return &TallySet{tallies: make(map[TallyKind]*Tally)}
}

// Add increases the tally of the given kind, creating it if needed.
func (ts *TallySet) Add(kind TallyKind, amount int) {
	if amount <= 0 {
		return
	}
	if t, ok := ts.tallies[kind]; ok {
		t.Add(amount)
		return
	}
	ts.tallies[kind] = NewTally(kind, amount)
}

// Remove decreases the tally of the given kind, clamping at zero, and
// returns how many were removed. Empty tallies are dropped.
func (ts *TallySet) Remove(kind TallyKind, amount int) int {
	t, ok := ts.tallies[kind]
	if !ok {
		return 0
	}
	removed := t.Remove(amount)
	if t.Count == 0 {
		delete(ts.tallies, kind)
	}
	return removed
}

// Count returns the tally of the given kind, zero when absent.
func (ts *TallySet) Count(kind TallyKind) int {
	if t, ok := ts.tallies[kind]; ok {
		return t.Count
	}
	return 0
}

// Spend removes exactly amount if the tally covers it, reporting whether
// the spend happened. Partial spends never occur.
func (ts *TallySet) Spend(kind TallyKind, amount int) bool {
	if amount <= 0 {
		return false
	}
	if ts.Count(kind) < amount {
		return false
	}
	ts.Remove(kind, amount)
	return true
}

// Copy deep-copies the set.
func (ts *TallySet) Copy() *TallySet {
	out := NewTallySet()
	for kind, t := range ts.tallies {
		out.tallies[kind] = t.Copy()
	}
	return out
}

// TallyView is the wire form of one tally.
type TallyView struct {
	Kind  TallyKind `json:"kind"`
	Count int       `json:"count"`
}

// Views renders the set for clients in a stable order.
func (ts *TallySet) Views() []TallyView {
	order := []TallyKind{TallyWounds, TallyFatigue, TallyFate}
	var views []TallyView
	for _, kind := range order {
		if c := ts.Count(kind); c > 0 {
			views = append(views, TallyView{Kind: kind, Count: c})
		}
	}
	return views
}
