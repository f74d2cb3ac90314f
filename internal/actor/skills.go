package actor

import (
	"fmt"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// SkillsTrait owns the actor's trained skills. A skill's target folds the
// governing attribute's effective value and the flat training bonus, so the
// trait must evaluate after attributes, injuries, and effects have settled
// the attribute modifiers.
type SkillsTrait struct {
	defs []SkillDef
}

// NewSkillsTrait builds the trait from skill definitions.
func NewSkillsTrait(defs []SkillDef) *SkillsTrait {
	return &SkillsTrait{defs: append([]SkillDef(nil), defs...)}
}

// ID implements Trait.
func (t *SkillsTrait) ID() string {
	return "trait:skills"
}

// Initialize declares one mastery modifier per skill and installs the table
// rules: target clamps and critical digit tables.
func (t *SkillsTrait) Initialize(p *Pass) error {
	settings := p.Actor().Settings()
	for _, def := range t.defs {
		m := p.Actor().ensureSkill(def.Name)
		m.SetTargetRange(settings.MinTarget, settings.MaxTarget)
		if err := m.SetCritDigits(settings.CritSuccessDigits, settings.CritFailureDigits); err != nil {
			return fmt.Errorf("skill %s: %w", def.Name, err)
		}
	}
	return nil
}

// Evaluate folds the governing attribute and the training bonus into each
// skill.
func (t *SkillsTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	for _, def := range t.defs {
		m := a.ensureSkill(def.Name)
		attr, ok := a.Attribute(def.Attribute)
		if !ok {
			return fmt.Errorf("skill %s: unknown attribute %q", def.Name, def.Attribute)
		}
		if err := m.Add(rules.SourceAttribute, def.Attribute, attr.Effective()); err != nil {
			return err
		}
		if def.Training != 0 {
			if err := m.Add(rules.SourceSkill, "Training", def.Training); err != nil {
				return err
			}
		}
		m.SetSuccessLevelMod(def.SuccessLevelMod)
	}
	return nil
}

// Finalize implements Trait.
func (t *SkillsTrait) Finalize(*Pass) error {
	return nil
}

// Defs returns the skill definitions.
func (t *SkillsTrait) Defs() []SkillDef {
	return append([]SkillDef(nil), t.defs...)
}

// Train adjusts one skill's training bonus for subsequent passes.
func (t *SkillsTrait) Train(name string, training float64) bool {
	for i := range t.defs {
		if t.defs[i].Name == name {
			t.defs[i].Training = training
			return true
		}
	}
	return false
}
