// Package rules implements the Greymarch modifier-aggregation and
// contested-test engine: named deltas reduce to an effective value under a
// fixed operator precedence, percentile rolls test against that value with
// critical-outcome detection, and two tests may be opposed to decide a winner.
package rules

import (
	"errors"
	"fmt"
	"strconv"
)

// Op identifies how a delta contributes to the reduction. Declaration order
// is the reduction precedence: additive terms fold before multipliers,
// multipliers before bounds, and an override always wins last.
type Op int

const (
	OpAdd Op = iota
	OpMul
	// OpFloor raises the reduced value to at least the delta value.
	OpFloor
	// OpCeil caps the reduced value at the delta value. A ceiling is applied
	// after any floor, so a ceiling below a floor wins.
	OpCeil
	OpOverride
	// OpCustom is a boolean-valued hook resolved by a handler registered on
	// the owning modifier.
	OpCustom
)

var opNames = map[Op]string{
	OpAdd:      "add",
	OpMul:      "mul",
	OpFloor:    "floor",
	OpCeil:     "ceil",
	OpOverride: "override",
	OpCustom:   "custom",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op_%d", int(op))
}

// Valid reports whether op belongs to the operator catalog.
func (op Op) Valid() bool {
	return op >= OpAdd && op <= OpCustom
}

// ParseOp resolves the persisted operator name back to an Op.
func ParseOp(name string) (Op, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, name)
}

// MarshalJSON encodes the operator by name.
func (op Op) MarshalJSON() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, int(op))
	}
	return []byte(strconv.Quote(op.String())), nil
}

// UnmarshalJSON decodes an operator name.
func (op *Op) UnmarshalJSON(data []byte) error {
	name, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownOp, data)
	}
	parsed, err := ParseOp(name)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// Source tags a delta with the game concern that produced it. Mutators
// reject sources outside the catalog so persisted documents stay queryable.
type Source string

const (
	SourceBase        Source = "base"
	SourceAttribute   Source = "attribute"
	SourceSkill       Source = "skill"
	SourceItem        Source = "item"
	SourceArmor       Source = "armor"
	SourceSpell       Source = "spell"
	SourceInjury      Source = "injury"
	SourceFatigue     Source = "fatigue"
	SourceEncumbrance Source = "encumbrance"
	SourceSituation   Source = "situation"
	SourceMagic       Source = "magic"
	SourceFate        Source = "fate"
	SourceSetting     Source = "setting"
)

var sourceCatalog = map[Source]bool{
	SourceBase:        true,
	SourceAttribute:   true,
	SourceSkill:       true,
	SourceItem:        true,
	SourceArmor:       true,
	SourceSpell:       true,
	SourceInjury:      true,
	SourceFatigue:     true,
	SourceEncumbrance: true,
	SourceSituation:   true,
	SourceMagic:       true,
	SourceFate:        true,
	SourceSetting:     true,
}

// Valid reports whether s belongs to the source catalog.
func (s Source) Valid() bool {
	return sourceCatalog[s]
}

// ValueKind discriminates the two delta payload types.
type ValueKind int

const (
	KindNumber ValueKind = iota
	KindFlag
)

// Value is the payload of a delta: a number for arithmetic operators or a
// boolean flag. Flag deltas reduce on truthiness instead of arithmetic:
// adds combine with OR, multiplies with AND, and an override replaces.
type Value struct {
	kind ValueKind
	num  float64
	flag bool
}

// Number wraps a numeric payload.
func Number(v float64) Value {
	return Value{kind: KindNumber, num: v}
}

// Flag wraps a boolean payload.
func Flag(v bool) Value {
	return Value{kind: KindFlag, flag: v}
}

// Kind returns the payload discriminator.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Num returns the numeric payload; zero for flag values.
func (v Value) Num() float64 {
	return v.num
}

// Bool returns the flag payload; false for numeric values.
func (v Value) Bool() bool {
	return v.flag
}

// IsZero reports whether the value is the zero of its kind: 0 (or NaN) for
// numbers, false for flags.
func (v Value) IsZero() bool {
	if v.kind == KindFlag {
		return !v.flag
	}
	return v.num == 0 || v.num != v.num
}

func (v Value) String() string {
	if v.kind == KindFlag {
		return strconv.FormatBool(v.flag)
	}
	return formatNumber(v.num)
}

// formatNumber renders a float in its shortest round-trip form.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Validation errors are raised at the point of mutation and bubble to the
// caller unchanged; the engine never swallows them.
var (
	ErrUnknownOp       = errors.New("rules: operator not in catalog")
	ErrUnknownSource   = errors.New("rules: source not in catalog")
	ErrMissingAbbrev   = errors.New("rules: delta abbreviation required")
	ErrValueKind       = errors.New("rules: value kind does not match operator")
	ErrNoCustomHandler = errors.New("rules: custom delta has no registered handler")
	ErrDigitRange      = errors.New("rules: critical digits must be 0 through 9")
)

// Delta is one named adjustment owned by a Modifier. Deltas are immutable;
// the owning modifier replaces a delta sharing the same abbreviation instead
// of mutating it in place.
type Delta struct {
	source Source
	abbrev string
	op     Op
	value  Value
}

// NewDelta validates and builds a delta. Arithmetic operators require a
// numeric value; OpCustom requires a flag.
func NewDelta(source Source, abbrev string, op Op, value Value) (Delta, error) {
	if !op.Valid() {
		return Delta{}, fmt.Errorf("%w: %d", ErrUnknownOp, int(op))
	}
	if !source.Valid() {
		return Delta{}, fmt.Errorf("%w: %q", ErrUnknownSource, string(source))
	}
	if abbrev == "" {
		return Delta{}, ErrMissingAbbrev
	}
	if op == OpCustom && value.kind != KindFlag {
		return Delta{}, fmt.Errorf("%w: %s requires a flag", ErrValueKind, op)
	}
	if op == OpFloor || op == OpCeil {
		if value.kind != KindNumber {
			return Delta{}, fmt.Errorf("%w: %s requires a number", ErrValueKind, op)
		}
	}
	return Delta{source: source, abbrev: abbrev, op: op, value: value}, nil
}

// Source returns the catalog tag of the delta.
func (d Delta) Source() Source {
	return d.source
}

// Abbrev returns the display key that identifies the delta for upserts.
func (d Delta) Abbrev() string {
	return d.abbrev
}

// Op returns the delta operator.
func (d Delta) Op() Op {
	return d.op
}

// Value returns the delta payload.
func (d Delta) Value() Value {
	return d.value
}

// Format renders the delta for breakdown strings: +5, ×2, ≥3, ≤10, =40.
func (d Delta) Format() string {
	switch d.op {
	case OpAdd:
		if d.value.kind == KindNumber && d.value.num < 0 {
			return formatNumber(d.value.num)
		}
		return "+" + d.value.String()
	case OpMul:
		return "×" + d.value.String()
	case OpFloor:
		return "≥" + d.value.String()
	case OpCeil:
		return "≤" + d.value.String()
	case OpOverride:
		return "=" + d.value.String()
	default:
		return d.abbrev + ":" + d.value.String()
	}
}
