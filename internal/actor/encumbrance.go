package actor

import (
	"math"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// EncumbranceAttribute governs carry capacity.
const EncumbranceAttribute = "Might"

// EncumbranceTrait compares carried weight against capacity and penalizes
// every skill governed by Agility when the actor is overloaded. It must
// evaluate after items so the weights are final.
type EncumbranceTrait struct{}

// NewEncumbranceTrait builds the trait.
func NewEncumbranceTrait() *EncumbranceTrait {
	return &EncumbranceTrait{}
}

// ID implements Trait.
func (t *EncumbranceTrait) ID() string {
	return "trait:encumbrance"
}

// Initialize implements Trait.
func (t *EncumbranceTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate emits the overload penalty on agile skills.
func (t *EncumbranceTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	capacity := t.Capacity(a)
	weight := a.CarriedWeight()
	if weight <= capacity {
		return nil
	}
	penalty := -math.Ceil(weight - capacity)
	for _, def := range t.agileSkills(a) {
		skill, ok := a.Skill(def.Name)
		if !ok {
			continue
		}
		if err := skill.Add(rules.SourceEncumbrance, "Encumbered", penalty); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements Trait.
func (t *EncumbranceTrait) Finalize(*Pass) error {
	return nil
}

// Capacity returns how much the actor carries without penalty.
func (t *EncumbranceTrait) Capacity(a *Actor) float64 {
	attr, ok := a.Attribute(EncumbranceAttribute)
	if !ok {
		return 0
	}
	return attr.Effective() * a.Settings().EncumbrancePerMight
}

func (t *EncumbranceTrait) agileSkills(a *Actor) []SkillDef {
	var defs []SkillDef
	for _, tr := range a.traits {
		skills, ok := tr.(*SkillsTrait)
		if !ok {
			continue
		}
		for _, def := range skills.Defs() {
			if def.Attribute == "Agility" {
				defs = append(defs, def)
			}
		}
	}
	return defs
}
