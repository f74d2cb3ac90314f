// Package balance analyzes the d100 rules numerically: exhaustive roll
// distributions for single tests and seeded Monte Carlo runs for contests,
// so target numbers can be tuned before they reach a table.
package balance

import (
	"github.com/greymarch/greymarch-server/internal/rules"
)

// Table clamps applied to every simulated profile, matching the defaults a
// live table runs with.
const (
	tableMinTarget = 5
	tableMaxTarget = 95
)

// Profile describes one simulated participant: the unclamped target its
// deltas would reduce to and the success-level shift its gear or training
// grants.
type Profile struct {
	Name   string
	Target float64
	Shift  int
}

// NewProfile builds a simulation profile.
func NewProfile(name string, target float64, shift int) Profile {
	return Profile{Name: name, Target: target, Shift: shift}
}

// mastery renders the profile as a mastery modifier under table clamps and
// the default critical digit tables. The inputs are fixed and valid, so the
// delta upserts cannot fail.
func (p Profile) mastery() *rules.MasteryModifier {
	m := rules.NewMasteryModifier()
	m.SetTargetRange(tableMinTarget, tableMaxTarget)
	_ = m.Add(rules.SourceSkill, "Simulated", p.Target)
	m.SetSuccessLevelMod(p.Shift)
	return m
}

// BandCounts tallies rolls per normalized outcome band. Over an exhaustive
// sweep of all 100 rolls the counts double as percentages.
type BandCounts struct {
	CritFailure int
	Failure     int
	Success     int
	CritSuccess int
}

// DistributionResult is the exhaustive outcome distribution for one profile.
type DistributionResult struct {
	Profile Profile
	// Target is the clamped value rolls actually compare against.
	Target float64
	Bands  BandCounts
	// SuccessRate is the percentage of rolls at marginal success or better.
	SuccessRate float64
	CritRate    float64
	FumbleRate  float64
	// MeanLevel averages the shifted success level across all 100 rolls.
	MeanLevel float64
}

// SuccessDistribution enumerates every percentile roll against the profile.
// The roll space is small enough that sampling would only add noise.
func SuccessDistribution(p Profile) DistributionResult {
	m := p.mastery()
	res := DistributionResult{Profile: p, Target: m.ConstrainedEffective()}

	levelSum := 0
	for roll := 1; roll <= 100; roll++ {
		t := rules.NewSuccessTest(m, rules.Roll{Total: roll}, p.Name, nil)
		t.Evaluate()
		levelSum += int(t.Level())
		switch t.NormLevel() {
		case rules.CriticalSuccess:
			res.Bands.CritSuccess++
		case rules.MarginalSuccess:
			res.Bands.Success++
		case rules.MarginalFailure:
			res.Bands.Failure++
		default:
			res.Bands.CritFailure++
		}
	}

	res.SuccessRate = float64(res.Bands.Success + res.Bands.CritSuccess)
	res.CritRate = float64(res.Bands.CritSuccess)
	res.FumbleRate = float64(res.Bands.CritFailure)
	res.MeanLevel = float64(levelSum) / 100
	return res
}

// MatchupResult summarizes a Monte Carlo contest run.
type MatchupResult struct {
	Source     Profile
	Target     Profile
	Iterations int

	SourceWins int
	TargetWins int
	Tied       int
	BothFail   int
}

// SourceWinRate returns source wins as a percentage of all iterations.
func (r MatchupResult) SourceWinRate() float64 { return pct(r.SourceWins, r.Iterations) }

// TargetWinRate returns target wins as a percentage of all iterations.
func (r MatchupResult) TargetWinRate() float64 { return pct(r.TargetWins, r.Iterations) }

// TieRate returns unresolved ties as a percentage of all iterations.
func (r MatchupResult) TieRate() float64 { return pct(r.Tied, r.Iterations) }

// BothFailRate returns no-winner contests as a percentage of all iterations.
func (r MatchupResult) BothFailRate() float64 { return pct(r.BothFail, r.Iterations) }

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// RunMatchup plays iterations contests between the two profiles with a
// seeded roller, so a run is reproducible from its seed.
func RunMatchup(source, target Profile, tieBreak rules.TieBreak, breakTies bool, iterations int, seed int64) MatchupResult {
	roller := rules.NewRoller(seed)
	sm := source.mastery()
	tm := target.mastery()

	res := MatchupResult{Source: source, Target: target, Iterations: iterations}
	for i := 0; i < iterations; i++ {
		src := rules.NewSuccessTest(sm, roller.D100(), "source", nil)
		tgt := rules.NewSuccessTest(tm, roller.D100(), "target", nil)

		contest := rules.NewOpposedTest(src, tgt)
		contest.SetTieBreak(tieBreak, breakTies)
		contest.Evaluate()

		switch {
		case contest.SourceWins():
			res.SourceWins++
		case contest.TargetWins():
			res.TargetWins++
		case contest.BothFail():
			res.BothFail++
		default:
			res.Tied++
		}
	}
	return res
}

// RevisionReport measures what a fate revision bonus buys a profile.
type RevisionReport struct {
	Profile Profile
	Bonus   float64
	// BaseSuccessRate and RevisedSuccessRate are exhaustive success
	// percentages before and after the bonus.
	BaseSuccessRate    float64
	RevisedSuccessRate float64
	// RescuedRate is the percentage of all rolls that fail flat but succeed
	// once the bonus lands: the band a table actually burns fate for.
	RescuedRate float64
}

// RevisionGain enumerates every roll with and without the fate bonus. The
// revision mechanic keeps the original roll, so the gain is exactly the
// band of rolls between the two targets.
func RevisionGain(p Profile, bonus float64) RevisionReport {
	base := p.mastery()
	revised := p.mastery()
	_ = revised.Add(rules.SourceFate, "FatePoint", bonus)

	rep := RevisionReport{Profile: p, Bonus: bonus}
	baseWins, revisedWins, rescued := 0, 0, 0
	for roll := 1; roll <= 100; roll++ {
		b := rules.NewSuccessTest(base, rules.Roll{Total: roll}, p.Name, nil)
		b.Evaluate()
		r := rules.NewSuccessTest(revised, rules.Roll{Total: roll}, p.Name, nil)
		r.Evaluate()

		if b.IsSuccess() {
			baseWins++
		}
		if r.IsSuccess() {
			revisedWins++
			if !b.IsSuccess() {
				rescued++
			}
		}
	}

	rep.BaseSuccessRate = float64(baseWins)
	rep.RevisedSuccessRate = float64(revisedWins)
	rep.RescuedRate = float64(rescued)
	return rep
}
