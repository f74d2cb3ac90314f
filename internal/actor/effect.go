package actor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// DurationPermanent marks an effect that never expires on its own.
const DurationPermanent = -1

// TargetKind names the modifier family an effect lands on.
type TargetKind string

const (
	TargetAttribute  TargetKind = "attribute"
	TargetSkill      TargetKind = "skill"
	TargetProtection TargetKind = "protection"
)

// EffectTarget points an effect at one modifier.
type EffectTarget struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

// Effect is a timed adjustment: while active it emits one delta per pass,
// keyed by its label. Rounds counts down on encounter round advances;
// DurationPermanent effects last until removed.
type Effect struct {
	ID     string       `json:"id"`
	Label  string       `json:"label"`
	Source rules.Source `json:"source"`
	Target EffectTarget `json:"target"`
	Op     rules.Op     `json:"op"`
	Value  float64      `json:"value"`
	Rounds int          `json:"rounds"`
}

// Effects returns the active effects.
func (a *Actor) Effects() []*Effect {
	return append([]*Effect(nil), a.effects...)
}

// AddEffect attaches an effect; it takes hold on the next pass.
func (a *Actor) AddEffect(e Effect) *Effect {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = rules.SourceSpell
	}
	added := e
	a.effects = append(a.effects, &added)
	return &added
}

// RemoveEffect detaches an effect; its delta vanishes on the next pass.
func (a *Actor) RemoveEffect(id string) bool {
	for i, e := range a.effects {
		if e.ID == id {
			a.effects = append(a.effects[:i], a.effects[i+1:]...)
			return true
		}
	}
	return false
}

// TickEffects advances one encounter round: timed effects lose a round and
// expired ones are removed. It returns the labels of expired effects so the
// encounter log can narrate them.
func (a *Actor) TickEffects() []string {
	var expired []string
	kept := a.effects[:0]
	for _, e := range a.effects {
		if e.Rounds == DurationPermanent {
			kept = append(kept, e)
			continue
		}
		e.Rounds--
		if e.Rounds <= 0 {
			expired = append(expired, e.Label)
			continue
		}
		kept = append(kept, e)
	}
	a.effects = kept
	return expired
}

// EffectsTrait emits one delta per active effect. It evaluates before
// skills so attribute-targeted effects are folded into skill targets.
type EffectsTrait struct{}

// NewEffectsTrait builds the trait.
func NewEffectsTrait() *EffectsTrait {
	return &EffectsTrait{}
}

// ID implements Trait.
func (t *EffectsTrait) ID() string {
	return "trait:effects"
}

// Initialize implements Trait.
func (t *EffectsTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate applies the active effects.
func (t *EffectsTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	for _, e := range a.effects {
		m := t.resolveTarget(a, e.Target)
		if m == nil {
			continue
		}
		if err := applyEffectDelta(m, e); err != nil {
			return fmt.Errorf("effect %s: %w", e.Label, err)
		}
	}
	return nil
}

// Finalize implements Trait.
func (t *EffectsTrait) Finalize(*Pass) error {
	return nil
}

func (t *EffectsTrait) resolveTarget(a *Actor, target EffectTarget) *rules.Modifier {
	switch target.Kind {
	case TargetAttribute:
		if m, ok := a.Attribute(target.Name); ok {
			return m
		}
	case TargetSkill:
		if m, ok := a.Skill(target.Name); ok {
			return &m.Modifier
		}
	case TargetProtection:
		return a.Protection()
	}
	return nil
}

func applyEffectDelta(m *rules.Modifier, e *Effect) error {
	switch e.Op {
	case rules.OpAdd:
		return m.Add(e.Source, e.Label, e.Value)
	case rules.OpMul:
		return m.Mul(e.Source, e.Label, e.Value)
	case rules.OpFloor:
		return m.Floor(e.Source, e.Label, e.Value)
	case rules.OpCeil:
		return m.Ceil(e.Source, e.Label, e.Value)
	case rules.OpOverride:
		return m.Override(e.Source, e.Label, e.Value)
	default:
		return fmt.Errorf("%w: effects cannot carry %s", rules.ErrUnknownOp, e.Op)
	}
}
