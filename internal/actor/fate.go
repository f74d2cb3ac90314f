package actor

import "github.com/greymarch/greymarch-server/internal/rules"

// FateRevisionCost is the fate cost of revising a completed test.
const FateRevisionCost = 1

// FateTrait reserves the fate pool's seat in the pass so snapshots and
// views enumerate it alongside the other traits. The pool itself lives in
// the tally set; fate spends happen between passes.
type FateTrait struct{}

// NewFateTrait builds the trait.
func NewFateTrait() *FateTrait {
	return &FateTrait{}
}

// ID implements Trait.
func (t *FateTrait) ID() string {
	return "trait:fate"
}

// Initialize implements Trait.
func (t *FateTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate implements Trait.
func (t *FateTrait) Evaluate(*Pass) error {
	return nil
}

// Finalize implements Trait.
func (t *FateTrait) Finalize(*Pass) error {
	return nil
}

// BurnFateForRevision spends one fate point and stamps the revision bonus
// onto the skill so the revised test's breakdown shows where the luck came
// from. The delta lasts until the next pass rebuilds the skill, which is
// exactly the revision window. It reports false without side effects when
// the pool is empty or the skill is unknown.
func (a *Actor) BurnFateForRevision(skillName string, bonus float64) bool {
	skill, ok := a.Skill(skillName)
	if !ok {
		return false
	}
	if !a.SpendFate(FateRevisionCost) {
		return false
	}
	if err := skill.Add(rules.SourceFate, "FatePoint", bonus); err != nil {
		a.tallies.Add(TallyFate, FateRevisionCost)
		return false
	}
	return true
}
