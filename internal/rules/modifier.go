package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// effectiveSigDigits is the significant-digit precision of every reduced
// value. Keeping it fixed makes recomputed values reproduce persisted ones
// bit for bit.
const effectiveSigDigits = 3

// DisabledMarker replaces the breakdown of a disabled modifier.
const DisabledMarker = "✗"

// CustomHandler folds a boolean-valued custom delta into the reduction. It
// receives the accumulator after additive and multiplicative terms and
// returns its replacement.
type CustomHandler func(acc float64, flag bool) float64

// ZeroWhenSet is the stock custom handler: a raised flag forces the
// accumulator to zero.
func ZeroWhenSet(acc float64, flag bool) float64 {
	if flag {
		return 0
	}
	return acc
}

// Modifier owns an optional base value and an ordered set of deltas, and
// keeps the reduced effective value current after every mutation. The base
// is exposed for display but never folded into the reduction; owners that
// want it counted emit an explicit base delta.
//
// Modifiers are not safe for concurrent use. Actors and encounters are
// evaluated single-threaded; managers that share modifiers guard them.
type Modifier struct {
	base    float64
	hasBase bool

	deltas   []Delta
	disabled string
	handlers map[string]CustomHandler

	effective float64
	breakdown string
}

// NewModifier returns an empty modifier with no base value.
func NewModifier() *Modifier {
	m := &Modifier{}
	m.recompute()
	return m
}

// NewModifierWithBase returns an empty modifier carrying a display base.
func NewModifierWithBase(base float64) *Modifier {
	m := &Modifier{base: base, hasBase: true}
	m.recompute()
	return m
}

// Base returns the display base value.
func (m *Modifier) Base() float64 {
	return m.base
}

// HasBase reports whether a base value was set.
func (m *Modifier) HasBase() bool {
	return m.hasBase
}

// SetBase updates the display base.
func (m *Modifier) SetBase(base float64) {
	m.base = base
	m.hasBase = true
	m.recompute()
}

// ClearBase removes the display base.
func (m *Modifier) ClearBase() {
	m.base = 0
	m.hasBase = false
	m.recompute()
}

// Effective returns the reduced value. It is zero while the modifier is
// disabled and is rounded to three significant digits otherwise.
func (m *Modifier) Effective() float64 {
	return m.effective
}

// Breakdown renders the deltas in insertion order, comma separated, using
// the operator glyphs from Delta.Format. Disabled modifiers render the
// disabled marker followed by the reason.
func (m *Modifier) Breakdown() string {
	return m.breakdown
}

// Disabled returns the disable reason, empty when the modifier is active.
func (m *Modifier) Disabled() string {
	return m.disabled
}

// SetDisabled disables the modifier with a reason, forcing the effective
// value to zero. An empty reason re-enables it; the prior deltas are kept
// and the effective value is restored by recomputation.
func (m *Modifier) SetDisabled(reason string) {
	m.disabled = reason
	m.recompute()
}

// RegisterCustom installs the handler for custom deltas keyed by abbrev.
// Registering recomputes so a restored custom delta starts folding as soon
// as its handler arrives.
func (m *Modifier) RegisterCustom(abbrev string, h CustomHandler) {
	if m.handlers == nil {
		m.handlers = map[string]CustomHandler{}
	}
	m.handlers[abbrev] = h
	m.recompute()
}

func (m *Modifier) handlerFor(abbrev string) CustomHandler {
	if m.handlers == nil {
		return nil
	}
	return m.handlers[abbrev]
}

// Add upserts an additive delta.
func (m *Modifier) Add(source Source, abbrev string, v float64) error {
	return m.upsert(source, abbrev, OpAdd, Number(v))
}

// AddFlag upserts a boolean additive delta; flags combine with OR.
func (m *Modifier) AddFlag(source Source, abbrev string, v bool) error {
	return m.upsert(source, abbrev, OpAdd, Flag(v))
}

// Mul upserts a multiplicative delta.
func (m *Modifier) Mul(source Source, abbrev string, v float64) error {
	return m.upsert(source, abbrev, OpMul, Number(v))
}

// MulFlag upserts a boolean multiplicative delta; flags combine with AND.
func (m *Modifier) MulFlag(source Source, abbrev string, v bool) error {
	return m.upsert(source, abbrev, OpMul, Flag(v))
}

// Floor upserts a lower bound; the largest floor wins.
func (m *Modifier) Floor(source Source, abbrev string, v float64) error {
	return m.upsert(source, abbrev, OpFloor, Number(v))
}

// Ceil upserts an upper bound; the smallest ceiling wins and a ceiling
// below a floor beats the floor.
func (m *Modifier) Ceil(source Source, abbrev string, v float64) error {
	return m.upsert(source, abbrev, OpCeil, Number(v))
}

// Override upserts an override delta. A non-zero override is sticky: while
// present, non-override mutations are ignored outright. A later override
// replaces it, and replacing a zero-valued override discards every other
// delta.
func (m *Modifier) Override(source Source, abbrev string, v float64) error {
	return m.upsert(source, abbrev, OpOverride, Number(v))
}

// OverrideFlag upserts a boolean override delta.
func (m *Modifier) OverrideFlag(source Source, abbrev string, v bool) error {
	return m.upsert(source, abbrev, OpOverride, Flag(v))
}

// SetCustom upserts a boolean custom delta. The handler for abbrev must be
// registered first.
func (m *Modifier) SetCustom(source Source, abbrev string, flag bool) error {
	if m.handlerFor(abbrev) == nil {
		return fmt.Errorf("%w: %q", ErrNoCustomHandler, abbrev)
	}
	return m.upsert(source, abbrev, OpCustom, Flag(flag))
}

func (m *Modifier) upsert(source Source, abbrev string, op Op, value Value) error {
	d, err := NewDelta(source, abbrev, op, value)
	if err != nil {
		return err
	}
	if idx := m.overrideIndex(); idx >= 0 {
		if op != OpOverride {
			if !m.deltas[idx].value.IsZero() {
				// Sticky override: the mutation is dropped, not an error.
				return nil
			}
		} else {
			zero := m.deltas[idx].value.IsZero()
			m.deltas = append(m.deltas[:idx], m.deltas[idx+1:]...)
			if zero {
				m.deltas = m.deltas[:0]
			}
		}
	}
	m.removeAbbrev(abbrev)
	m.deltas = append(m.deltas, d)
	m.recompute()
	return nil
}

func (m *Modifier) overrideIndex() int {
	for i, d := range m.deltas {
		if d.op == OpOverride {
			return i
		}
	}
	return -1
}

func (m *Modifier) removeAbbrev(abbrev string) bool {
	for i, d := range m.deltas {
		if d.abbrev == abbrev {
			m.deltas = append(m.deltas[:i], m.deltas[i+1:]...)
			return true
		}
	}
	return false
}

// Delete removes the delta keyed by abbrev, if present.
func (m *Modifier) Delete(abbrev string) bool {
	if m.removeAbbrev(abbrev) {
		m.recompute()
		return true
	}
	return false
}

// Get returns the delta keyed by abbrev.
func (m *Modifier) Get(abbrev string) (Delta, bool) {
	for _, d := range m.deltas {
		if d.abbrev == abbrev {
			return d, true
		}
	}
	return Delta{}, false
}

// Has reports whether a delta keyed by abbrev is present.
func (m *Modifier) Has(abbrev string) bool {
	_, ok := m.Get(abbrev)
	return ok
}

// Len returns the number of deltas.
func (m *Modifier) Len() int {
	return len(m.deltas)
}

// Deltas returns the deltas in insertion order. The slice is a copy.
func (m *Modifier) Deltas() []Delta {
	out := make([]Delta, len(m.deltas))
	copy(out, m.deltas)
	return out
}

// Clear drops every delta, keeping the base and disable state.
func (m *Modifier) Clear() {
	m.deltas = m.deltas[:0]
	m.recompute()
}

// Clone deep-copies the modifier, including registered handlers.
func (m *Modifier) Clone() *Modifier {
	c := &Modifier{
		base:      m.base,
		hasBase:   m.hasBase,
		disabled:  m.disabled,
		effective: m.effective,
		breakdown: m.breakdown,
	}
	c.deltas = make([]Delta, len(m.deltas))
	copy(c.deltas, m.deltas)
	if m.handlers != nil {
		c.handlers = make(map[string]CustomHandler, len(m.handlers))
		for k, v := range m.handlers {
			c.handlers[k] = v
		}
	}
	return c
}

// recompute reduces the delta set into the effective value. The pass runs
// over a stable sort by operator precedence so that same-operator deltas
// keep insertion order; floors track the largest lower bound, ceilings the
// smallest upper bound, and the last override wins. Bounds clamp the
// accumulator floor first, then ceiling, then the override replaces it.
func (m *Modifier) recompute() {
	if m.disabled != "" {
		m.effective = 0
		m.breakdown = DisabledMarker + " " + m.disabled
		return
	}

	sorted := make([]Delta, len(m.deltas))
	copy(sorted, m.deltas)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].op < sorted[j].op
	})

	var acc float64
	var flagAcc, sawFlag, sawNumeric bool
	var floorV, ceilV float64
	var overrideV Value
	var hasFloor, hasCeil, hasOverride bool
	for _, d := range sorted {
		switch d.op {
		case OpAdd:
			if d.value.kind == KindFlag {
				if !sawFlag {
					flagAcc = d.value.flag
					sawFlag = true
				} else {
					flagAcc = flagAcc || d.value.flag
				}
				continue
			}
			sawNumeric = true
			acc += d.value.num
		case OpMul:
			if d.value.kind == KindFlag {
				if !sawFlag {
					flagAcc = d.value.flag
					sawFlag = true
				} else {
					flagAcc = flagAcc && d.value.flag
				}
				continue
			}
			sawNumeric = true
			acc *= d.value.num
		case OpFloor:
			if !hasFloor || d.value.num > floorV {
				floorV = d.value.num
				hasFloor = true
			}
		case OpCeil:
			if !hasCeil || d.value.num < ceilV {
				ceilV = d.value.num
				hasCeil = true
			}
		case OpOverride:
			overrideV = d.value
			hasOverride = true
		case OpCustom:
			if h := m.handlerFor(d.abbrev); h != nil {
				acc = h(acc, d.value.flag)
				sawNumeric = true
			}
		}
	}
	if sawFlag && !sawNumeric {
		acc = boolToFloat(flagAcc)
	}
	if hasFloor && acc < floorV {
		acc = floorV
	}
	if hasCeil && acc > ceilV {
		acc = ceilV
	}
	if hasOverride {
		if overrideV.kind == KindFlag {
			acc = boolToFloat(overrideV.flag)
		} else {
			acc = overrideV.num
		}
	}
	if math.IsNaN(acc) || acc == 0 {
		acc = 0
	}
	m.effective = roundSig(acc, effectiveSigDigits)
	m.breakdown = m.formatBreakdown()
}

func (m *Modifier) formatBreakdown() string {
	if len(m.deltas) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.deltas))
	for _, d := range m.deltas {
		parts = append(parts, d.Format())
	}
	return strings.Join(parts, ", ")
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// roundSig rounds v to the given number of significant digits.
func roundSig(v float64, digits int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	mag := math.Ceil(math.Log10(math.Abs(v)))
	scale := math.Pow(10, float64(digits)-mag)
	return math.Round(v*scale) / scale
}
