package actor

import "github.com/greymarch/greymarch-server/internal/rules"

// AttributesTrait owns the actor's innate attributes. Initialize declares
// the modifiers so later traits can target them; Evaluate emits the base
// score as an explicit base delta.
type AttributesTrait struct {
	defs []AttributeDef
}

// NewAttributesTrait builds the trait from attribute definitions.
func NewAttributesTrait(defs []AttributeDef) *AttributesTrait {
	return &AttributesTrait{defs: append([]AttributeDef(nil), defs...)}
}

// ID implements Trait.
func (t *AttributesTrait) ID() string {
	return "trait:attributes"
}

// Initialize declares one modifier per attribute.
func (t *AttributesTrait) Initialize(p *Pass) error {
	for _, def := range t.defs {
		m := p.Actor().ensureAttribute(def.Name)
		m.SetBase(def.Base)
	}
	return nil
}

// Evaluate emits the base deltas.
func (t *AttributesTrait) Evaluate(p *Pass) error {
	for _, def := range t.defs {
		m := p.Actor().ensureAttribute(def.Name)
		if err := m.Add(rules.SourceBase, "Base", def.Base); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements Trait.
func (t *AttributesTrait) Finalize(*Pass) error {
	return nil
}

// Defs returns the attribute definitions.
func (t *AttributesTrait) Defs() []AttributeDef {
	return append([]AttributeDef(nil), t.defs...)
}

// SetBase updates one attribute's base score for subsequent passes.
func (t *AttributesTrait) SetBase(name string, base float64) bool {
	for i := range t.defs {
		if t.defs[i].Name == name {
			t.defs[i].Base = base
			return true
		}
	}
	return false
}
