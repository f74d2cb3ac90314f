package rules

// TieBreak names the side a tied contest should favor when the caller asks
// for ties to be broken.
type TieBreak int

const (
	TieBreakNone TieBreak = iota
	TieBreakFavorSource
	TieBreakFavorTarget
)

func (tb TieBreak) String() string {
	switch tb {
	case TieBreakFavorSource:
		return "favor_source"
	case TieBreakFavorTarget:
		return "favor_target"
	default:
		return "none"
	}
}

// OpposedTest pairs a source and a target success test and compares their
// normalized success levels. Both legs evaluate independently: if either
// participant fails authorization, the whole contest fails.
type OpposedTest struct {
	source *SuccessTest
	target *SuccessTest

	tieBreak  TieBreak
	breakTies bool

	evaluated bool
	permitted bool
}

// NewOpposedTest pairs two unevaluated or evaluated tests into a contest.
func NewOpposedTest(source, target *SuccessTest) *OpposedTest {
	return &OpposedTest{source: source, target: target}
}

// SetTieBreak arms the tie-break bias. The bias applies only when the
// contest is tied and breakTies is set; it never manufactures a win for a
// side that lost outright.
func (o *OpposedTest) SetTieBreak(policy TieBreak, breakTies bool) {
	o.tieBreak = policy
	o.breakTies = breakTies
}

// TieBreak returns the armed policy.
func (o *OpposedTest) TieBreak() (TieBreak, bool) {
	return o.tieBreak, o.breakTies
}

// Source returns the initiating leg.
func (o *OpposedTest) Source() *SuccessTest {
	return o.source
}

// Target returns the defending leg.
func (o *OpposedTest) Target() *SuccessTest {
	return o.target
}

// Evaluate runs both legs and reports whether both were permitted. Both
// legs always evaluate so a veto on one side still leaves the other leg's
// verdict readable.
func (o *OpposedTest) Evaluate() bool {
	if o.evaluated {
		return o.permitted
	}
	srcOK := o.source.Evaluate()
	tgtOK := o.target.Evaluate()
	if !srcOK || !tgtOK {
		return false
	}
	o.evaluated = true
	o.permitted = true
	return true
}

// Evaluated reports whether the contest has been resolved.
func (o *OpposedTest) Evaluated() bool {
	return o.evaluated
}

// BothFail reports whether neither leg succeeded. A contest where both
// sides fail has no winner and no tie.
func (o *OpposedTest) BothFail() bool {
	return !o.source.IsSuccess() && !o.target.IsSuccess()
}

// IsTied reports whether both legs landed on the same normalized level and
// at least one succeeded. A tie stays a tie even when a tie-break bias
// decides the winner.
func (o *OpposedTest) IsTied() bool {
	if o.BothFail() {
		return false
	}
	return o.source.NormLevel() == o.target.NormLevel()
}

// SourceWins reports whether the initiating side prevails, either by a
// strictly better normalized level or by an armed tie-break in its favor.
func (o *OpposedTest) SourceWins() bool {
	if o.BothFail() {
		return false
	}
	if o.source.NormLevel() > o.target.NormLevel() {
		return true
	}
	return o.IsTied() && o.breakTies && o.tieBreak == TieBreakFavorSource
}

// TargetWins reports whether the defending side prevails.
func (o *OpposedTest) TargetWins() bool {
	if o.BothFail() {
		return false
	}
	if o.target.NormLevel() > o.source.NormLevel() {
		return true
	}
	return o.IsTied() && o.breakTies && o.tieBreak == TieBreakFavorTarget
}
