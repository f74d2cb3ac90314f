package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// MasteryModifier specializes Modifier for roll-under success tests. It
// clamps the reduced value into a permitted target range, carries the digit
// tables that decide critical outcomes, applies a success-level shift, and
// renders outcome descriptions from a band table.
type MasteryModifier struct {
	Modifier

	minTarget float64
	maxTarget float64

	successLevelMod   int
	critSuccessDigits []int
	critFailureDigits []int

	table OutcomeTable
}

// DefaultCritSuccessDigits marks doubles-style lucky digits on a successful
// roll. DefaultCritFailureDigits marks the unlucky ones on a failed roll.
var (
	DefaultCritSuccessDigits = []int{1, 5}
	DefaultCritFailureDigits = []int{0, 9}
)

// NewMasteryModifier returns a mastery modifier with an unconstrained target
// range and the default critical digit tables.
func NewMasteryModifier() *MasteryModifier {
	m := &MasteryModifier{
		minTarget:         math.Inf(-1),
		maxTarget:         math.Inf(1),
		critSuccessDigits: append([]int(nil), DefaultCritSuccessDigits...),
		critFailureDigits: append([]int(nil), DefaultCritFailureDigits...),
	}
	m.recompute()
	return m
}

// SetTargetRange constrains the effective value to [min, max] for test
// evaluation. The unconstrained value stays readable through Effective.
func (m *MasteryModifier) SetTargetRange(min, max float64) {
	m.minTarget = min
	m.maxTarget = max
}

// MinTarget returns the lower target bound; -Inf when unconstrained.
func (m *MasteryModifier) MinTarget() float64 {
	return m.minTarget
}

// MaxTarget returns the upper target bound; +Inf when unconstrained.
func (m *MasteryModifier) MaxTarget() float64 {
	return m.maxTarget
}

// ConstrainedEffective returns the effective value clamped into the target
// range. Tests always roll against this value.
func (m *MasteryModifier) ConstrainedEffective() float64 {
	v := m.Effective()
	if v < m.minTarget {
		v = m.minTarget
	}
	if v > m.maxTarget {
		v = m.maxTarget
	}
	return v
}

// Capped reports whether the target range changed the effective value.
func (m *MasteryModifier) Capped() bool {
	return m.ConstrainedEffective() != m.Effective()
}

// SuccessLevelMod returns the shift applied to every test's success level.
func (m *MasteryModifier) SuccessLevelMod() int {
	return m.successLevelMod
}

// SetSuccessLevelMod sets the shift applied to every test's success level.
func (m *MasteryModifier) SetSuccessLevelMod(n int) {
	m.successLevelMod = n
}

// SetCritDigits replaces the critical digit tables. Pass nil for both to
// disable critical outcomes entirely; tests then clamp their level to the
// marginal band. Digits outside 0 through 9 are rejected.
func (m *MasteryModifier) SetCritDigits(success, failure []int) error {
	s, err := normalizeDigits(success)
	if err != nil {
		return err
	}
	f, err := normalizeDigits(failure)
	if err != nil {
		return err
	}
	m.critSuccessDigits = s
	m.critFailureDigits = f
	return nil
}

// CritSuccessDigits returns the sorted success digit table.
func (m *MasteryModifier) CritSuccessDigits() []int {
	return append([]int(nil), m.critSuccessDigits...)
}

// CritFailureDigits returns the sorted failure digit table.
func (m *MasteryModifier) CritFailureDigits() []int {
	return append([]int(nil), m.critFailureDigits...)
}

// CritAllowed reports whether either digit table is populated.
func (m *MasteryModifier) CritAllowed() bool {
	return len(m.critSuccessDigits) > 0 || len(m.critFailureDigits) > 0
}

func (m *MasteryModifier) critSuccessDigit(d int) bool {
	return containsDigit(m.critSuccessDigits, d)
}

func (m *MasteryModifier) critFailureDigit(d int) bool {
	return containsDigit(m.critFailureDigits, d)
}

// SetOutcomeTable installs the band table used to describe test outcomes.
// Bands are kept sorted ascending by MaxValue.
func (m *MasteryModifier) SetOutcomeTable(t OutcomeTable) {
	sorted := make(OutcomeTable, len(t))
	copy(sorted, t)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MaxValue < sorted[j].MaxValue
	})
	m.table = sorted
}

// OutcomeTableBands returns the installed band table.
func (m *MasteryModifier) OutcomeTableBands() OutcomeTable {
	return append(OutcomeTable(nil), m.table...)
}

// Clone deep-copies the mastery modifier.
func (m *MasteryModifier) Clone() *MasteryModifier {
	c := &MasteryModifier{
		Modifier:        *m.Modifier.Clone(),
		minTarget:       m.minTarget,
		maxTarget:       m.maxTarget,
		successLevelMod: m.successLevelMod,
	}
	c.critSuccessDigits = append([]int(nil), m.critSuccessDigits...)
	c.critFailureDigits = append([]int(nil), m.critFailureDigits...)
	c.table = append(OutcomeTable(nil), m.table...)
	return c
}

// Authorizer answers whether the acting party may evaluate tests for an
// actor. A nil Authorizer permits everything.
type Authorizer interface {
	CanTest(actorID string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(actorID string) bool

// CanTest calls f.
func (f AuthorizerFunc) CanTest(actorID string) bool {
	return f(actorID)
}

// Prompter collects a situational adjustment from the player before a test
// is evaluated. Implementations may block on user input. A nil response with
// a nil error means the player dismissed the prompt and the test is off.
type Prompter interface {
	CollectSituational(ctx context.Context, req PromptRequest) (*PromptResponse, error)
}

// PromptRequest describes the pending test to the interaction layer.
type PromptRequest struct {
	ActorID string
	Label   string
	Target  float64
}

// PromptResponse carries the player's situational adjustment: a flat
// modifier folded in as an additive delta and a shift on the success level.
type PromptResponse struct {
	Modifier        float64
	SuccessLevelMod int
}

// TestContext carries the caller-side inputs for a success test.
type TestContext struct {
	// ActorID names the subject; Auth may veto testing it.
	ActorID string
	Auth    Authorizer

	// Roll fixes the percentile roll. When nil, Roller supplies one, and
	// when that is nil too the process-wide roller does.
	Roll   *Roll
	Roller *Roller

	// Prior revises an earlier test: its roll is reused and only the
	// modifier snapshot and classification change.
	Prior *SuccessTest

	// Preset supplies the situational adjustment programmatically. When nil
	// and SkipPrompt is unset, Prompter is consulted.
	Preset     *PromptResponse
	SkipPrompt bool
	Prompter   Prompter

	// Label names the tested capability in prompts and outcome text.
	Label string
}

// SituationalAbbrev keys the delta added from a prompt or preset.
const SituationalAbbrev = "Situational"

// SuccessTest builds and evaluates a test against this modifier. The
// modifier is snapshotted into the test, an optional situational adjustment
// is collected, and the test is evaluated.
//
// The return contract mirrors the three failure modes: a validation problem
// returns an error; a dismissed prompt or cancelled context returns
// (nil, nil); an authorization veto returns the test unevaluated with
// Evaluated() false.
func (m *MasteryModifier) SuccessTest(ctx context.Context, tc TestContext) (*SuccessTest, error) {
	var test *SuccessTest
	if tc.Prior != nil {
		test = tc.Prior.Revise(m)
		// Revision is re-authorized for the current requester, not the one
		// who rolled the prior test.
		if tc.Auth != nil {
			test.auth = tc.Auth
		}
	} else {
		roll := m.resolveRoll(tc)
		test = NewSuccessTest(m, roll, tc.ActorID, tc.Auth)
	}
	if tc.Label != "" {
		test.label = tc.Label
	}

	resp := tc.Preset
	if resp == nil && !tc.SkipPrompt && tc.Prompter != nil {
		var err error
		resp, err = tc.Prompter.CollectSituational(ctx, PromptRequest{
			ActorID: tc.ActorID,
			Label:   tc.Label,
			Target:  test.mastery.ConstrainedEffective(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("collect situational: %w", err)
		}
		if resp == nil {
			return nil, nil
		}
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	if resp != nil {
		if resp.Modifier != 0 {
			if err := test.mastery.Add(SourceSituation, SituationalAbbrev, resp.Modifier); err != nil {
				return nil, err
			}
		}
		test.shift += resp.SuccessLevelMod
	}

	test.Evaluate()
	return test, nil
}

func (m *MasteryModifier) resolveRoll(tc TestContext) Roll {
	if tc.Roll != nil {
		return *tc.Roll
	}
	if tc.Roller != nil {
		return tc.Roller.D100()
	}
	return DefaultRoller().D100()
}

func normalizeDigits(digits []int) ([]int, error) {
	if len(digits) == 0 {
		return nil, nil
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(digits))
	for _, d := range digits {
		if d < 0 || d > 9 {
			return nil, fmt.Errorf("%w: %d", ErrDigitRange, d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

func containsDigit(digits []int, d int) bool {
	for _, v := range digits {
		if v == d {
			return true
		}
	}
	return false
}
