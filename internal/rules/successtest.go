package rules

import "fmt"

// SuccessLevel is the four-point ordinal outcome scale. Success-level shifts
// add to it directly, so a shifted level can sit beyond the named points
// while criticals are allowed; the predicates treat "at or beyond" an
// extreme as critical.
type SuccessLevel int

const (
	CriticalFailure SuccessLevel = iota - 1
	MarginalFailure
	MarginalSuccess
	CriticalSuccess
)

func (l SuccessLevel) String() string {
	switch {
	case l <= CriticalFailure:
		return "critical failure"
	case l == MarginalFailure:
		return "marginal failure"
	case l == MarginalSuccess:
		return "marginal success"
	default:
		return "critical success"
	}
}

// SuccessTest resolves one percentile roll against a mastery snapshot. The
// snapshot is cloned at construction so later mutation of the source
// modifier cannot retroactively alter a completed test. A test evaluates at
// most once; re-evaluation returns the stored verdict.
type SuccessTest struct {
	mastery *MasteryModifier
	roll    Roll
	actorID string
	label   string
	auth    Authorizer
	shift   int

	evaluated bool
	permitted bool
	level     SuccessLevel
	outcome   OutcomeText
}

// NewSuccessTest snapshots the modifier and binds the roll. The modifier's
// success-level shift is captured now; prompt adjustments add to it before
// evaluation.
func NewSuccessTest(m *MasteryModifier, roll Roll, actorID string, auth Authorizer) *SuccessTest {
	return &SuccessTest{
		mastery: m.Clone(),
		roll:    roll,
		actorID: actorID,
		auth:    auth,
		shift:   m.SuccessLevelMod(),
	}
}

// Revise returns a fresh unevaluated test that reuses this test's roll with
// a new snapshot of m. The roll is never re-sampled; only the modifier and
// the resulting classification may change.
func (t *SuccessTest) Revise(m *MasteryModifier) *SuccessTest {
	r := NewSuccessTest(m, t.roll, t.actorID, t.auth)
	r.label = t.label
	return r
}

// Evaluate classifies the test and returns whether evaluation ran. It
// returns false without touching the test when the acting party is not
// permitted to test this actor.
func (t *SuccessTest) Evaluate() bool {
	if t.evaluated {
		return t.permitted
	}
	if t.auth != nil && !t.auth.CanTest(t.actorID) {
		return false
	}

	target := t.mastery.ConstrainedEffective()
	rawSuccess := float64(t.roll.Total) <= target
	digit := t.roll.LastDigit()

	level := MarginalFailure
	if t.mastery.CritAllowed() {
		switch {
		case rawSuccess && t.mastery.critSuccessDigit(digit):
			level = CriticalSuccess
		case rawSuccess:
			level = MarginalSuccess
		case t.mastery.critFailureDigit(digit):
			level = CriticalFailure
		}
		level += SuccessLevel(t.shift)
	} else {
		if rawSuccess {
			level = MarginalSuccess
		}
		level += SuccessLevel(t.shift)
		if level < MarginalFailure {
			level = MarginalFailure
		}
		if level > MarginalSuccess {
			level = MarginalSuccess
		}
	}
	t.level = level

	if text, ok := t.mastery.table.Describe(target, digit, t); ok {
		t.outcome = text
	} else {
		t.outcome = t.defaultOutcome()
	}
	t.evaluated = true
	t.permitted = true
	return true
}

func (t *SuccessTest) defaultOutcome() OutcomeText {
	label := t.label
	if label == "" {
		label = "Test"
	}
	return OutcomeText{
		Label:       label,
		Description: fmt.Sprintf("%s: %s", label, t.level),
		Success:     t.level >= MarginalSuccess,
		Result:      float64(t.level),
	}
}

// Evaluated reports whether the test has been classified.
func (t *SuccessTest) Evaluated() bool {
	return t.evaluated
}

// IsSuccess reports whether the final level sits at marginal success or
// better. A shift can turn a raw failure into a success.
func (t *SuccessTest) IsSuccess() bool {
	return t.level >= MarginalSuccess
}

// IsCritical reports whether criticals are allowed and the final level sits
// at or beyond either extreme.
func (t *SuccessTest) IsCritical() bool {
	if !t.mastery.CritAllowed() {
		return false
	}
	return t.level >= CriticalSuccess || t.level <= CriticalFailure
}

// Level returns the shifted success level. It may sit beyond the named
// scale points after a large shift.
func (t *SuccessTest) Level() SuccessLevel {
	return t.level
}

// NormLevel folds the level back onto the four named scale points.
func (t *SuccessTest) NormLevel() SuccessLevel {
	if t.IsSuccess() {
		if t.IsCritical() {
			return CriticalSuccess
		}
		return MarginalSuccess
	}
	if t.IsCritical() {
		return CriticalFailure
	}
	return MarginalFailure
}

// LastDigit returns the terminal digit of the bound roll.
func (t *SuccessTest) LastDigit() int {
	return t.roll.LastDigit()
}

// Capped reports whether the target range constrained the rolled-against
// value.
func (t *SuccessTest) Capped() bool {
	return t.mastery.Capped()
}

// Roll returns the bound percentile roll.
func (t *SuccessTest) Roll() Roll {
	return t.roll
}

// Target returns the value the roll was compared against.
func (t *SuccessTest) Target() float64 {
	return t.mastery.ConstrainedEffective()
}

// ActorID names the tested actor.
func (t *SuccessTest) ActorID() string {
	return t.actorID
}

// Label names the tested capability.
func (t *SuccessTest) Label() string {
	return t.label
}

// Shift returns the total success-level shift applied at evaluation.
func (t *SuccessTest) Shift() int {
	return t.shift
}

// Outcome returns the resolved outcome text. Zero until evaluated.
func (t *SuccessTest) Outcome() OutcomeText {
	return t.outcome
}

// Mastery returns the test's private modifier snapshot.
func (t *SuccessTest) Mastery() *MasteryModifier {
	return t.mastery
}
