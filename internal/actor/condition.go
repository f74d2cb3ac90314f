package actor

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// Injury is a lasting wound: it penalizes one attribute and feeds the wound
// tally by its severity.
type Injury struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Attribute string  `json:"attribute"`
	Penalty   float64 `json:"penalty"`
	Severity  int     `json:"severity"`
}

// Injuries returns the actor's open wounds.
func (a *Actor) Injuries() []*Injury {
	return append([]*Injury(nil), a.injuries...)
}

// AddInjury records a wound and raises the wound tally by its severity.
// The penalty lands on the next pass.
func (a *Actor) AddInjury(injury Injury) *Injury {
	if injury.ID == "" {
		injury.ID = uuid.NewString()
	}
	if injury.Severity < 1 {
		injury.Severity = 1
	}
	added := injury
	a.injuries = append(a.injuries, &added)
	a.tallies.Add(TallyWounds, added.Severity)
	return &added
}

// HealInjury removes a wound and lowers the wound tally by its severity.
func (a *Actor) HealInjury(id string) bool {
	for i, inj := range a.injuries {
		if inj.ID == id {
			a.injuries = append(a.injuries[:i], a.injuries[i+1:]...)
			a.tallies.Remove(TallyWounds, inj.Severity)
			return true
		}
	}
	return false
}

// InjuriesTrait applies wound penalties to attributes and, once the wound
// tally crosses the threshold, disables every skill.
type InjuriesTrait struct{}

// NewInjuriesTrait builds the trait.
func NewInjuriesTrait() *InjuriesTrait {
	return &InjuriesTrait{}
}

// ID implements Trait.
func (t *InjuriesTrait) ID() string {
	return "trait:injuries"
}

// Initialize implements Trait.
func (t *InjuriesTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate emits one penalty delta per injury, keyed by the injury label.
func (t *InjuriesTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	for _, inj := range a.injuries {
		attr, ok := a.Attribute(inj.Attribute)
		if !ok {
			continue
		}
		if err := attr.Add(rules.SourceInjury, inj.Label, -inj.Penalty); err != nil {
			return err
		}
	}
	return nil
}

// Finalize disables every skill when the actor is incapacitated.
func (t *InjuriesTrait) Finalize(p *Pass) error {
	a := p.Actor()
	if !a.Incapacitated() {
		return nil
	}
	for _, name := range a.SkillNames() {
		if skill, ok := a.Skill(name); ok {
			skill.SetDisabled("incapacitated")
		}
	}
	p.Log().Debug("actor incapacitated",
		zap.String("actor_id", a.ID()),
		zap.Int("wounds", a.Tallies().Count(TallyWounds)),
	)
	return nil
}

// FatigueTrait applies a flat penalty per fatigue point to every skill.
type FatigueTrait struct{}

// NewFatigueTrait builds the trait.
func NewFatigueTrait() *FatigueTrait {
	return &FatigueTrait{}
}

// ID implements Trait.
func (t *FatigueTrait) ID() string {
	return "trait:fatigue"
}

// Initialize implements Trait.
func (t *FatigueTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate emits the fatigue penalty.
func (t *FatigueTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	fatigue := a.Tallies().Count(TallyFatigue)
	if fatigue == 0 {
		return nil
	}
	penalty := -float64(fatigue) * a.Settings().FatiguePenalty
	for _, name := range a.SkillNames() {
		skill, ok := a.Skill(name)
		if !ok {
			continue
		}
		if err := skill.Add(rules.SourceFatigue, "Fatigue", penalty); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements Trait.
func (t *FatigueTrait) Finalize(*Pass) error {
	return nil
}
