package rules

// OutcomeText is the resolved, display-ready outcome of a test.
type OutcomeText struct {
	Label       string
	Description string
	Success     bool
	Result      float64
}

// OutcomeBand describes outcomes for targets at or below MaxValue. A band
// may carry last-digit sub-entries that refine the outcome by the roll's
// terminal digit. The function variants win over the literal fields when
// set, letting tables derive text or results from the evaluated test.
type OutcomeBand struct {
	MaxValue   float64
	LastDigits []int
	Sub        []OutcomeBand

	Label       string
	Description string
	Success     bool
	Result      float64

	LabelFunc       func(*SuccessTest) string
	DescriptionFunc func(*SuccessTest) string
	ResultFunc      func(*SuccessTest) float64
}

func (b OutcomeBand) matchesDigit(d int) bool {
	if len(b.LastDigits) == 0 {
		return true
	}
	return containsDigit(b.LastDigits, d)
}

func (b OutcomeBand) resolve(t *SuccessTest) OutcomeText {
	out := OutcomeText{
		Label:       b.Label,
		Description: b.Description,
		Success:     b.Success,
		Result:      b.Result,
	}
	if b.LabelFunc != nil {
		out.Label = b.LabelFunc(t)
	}
	if b.DescriptionFunc != nil {
		out.Description = b.DescriptionFunc(t)
	}
	if b.ResultFunc != nil {
		out.Result = b.ResultFunc(t)
	}
	return out
}

// OutcomeTable is a band table sorted ascending by MaxValue.
type OutcomeTable []OutcomeBand

// Describe picks the first band whose MaxValue covers the target, narrowing
// into last-digit sub-entries when the band has them. It reports false when
// no band covers the target or no sub-entry matches the digit.
func (t OutcomeTable) Describe(target float64, lastDigit int, test *SuccessTest) (OutcomeText, bool) {
	for _, band := range t {
		if target > band.MaxValue {
			continue
		}
		if len(band.Sub) == 0 {
			return band.resolve(test), true
		}
		for _, sub := range band.Sub {
			if sub.matchesDigit(lastDigit) {
				return sub.resolve(test), true
			}
		}
		return OutcomeText{}, false
	}
	return OutcomeText{}, false
}
