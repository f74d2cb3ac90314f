package actor

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Snapshot is the persisted form of an actor. It records only semantic
// state: definitions, inventory, wounds, effects, and tallies. Modifier
// values are never stored; Restore rebuilds them with a pass, reproducing
// the persisted actor's effective values exactly.
type Snapshot struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Archetype  string         `json:"archetype,omitempty"`
	Attributes []AttributeDef `json:"attributes"`
	Skills     []SkillDef     `json:"skills"`
	Items      []Item         `json:"items,omitempty"`
	Injuries   []Injury       `json:"injuries,omitempty"`
	Effects    []Effect       `json:"effects,omitempty"`
	Tallies    []TallyView    `json:"tallies,omitempty"`
}

// Snapshot captures the actor.
func (a *Actor) Snapshot() Snapshot {
	s := Snapshot{
		ID:        a.id,
		Name:      a.name,
		Archetype: a.archetype,
		Tallies:   a.tallies.Views(),
	}
	for _, t := range a.traits {
		switch tr := t.(type) {
		case *AttributesTrait:
			s.Attributes = tr.Defs()
		case *SkillsTrait:
			s.Skills = tr.Defs()
		}
	}
	for _, it := range a.items {
		s.Items = append(s.Items, *it)
	}
	for _, inj := range a.injuries {
		s.Injuries = append(s.Injuries, *inj)
	}
	for _, e := range a.effects {
		s.Effects = append(s.Effects, *e)
	}
	return s
}

// Restore rebuilds an actor from its snapshot and runs one pass so the
// modifiers are live. Wound tallies are restored from the tally views, not
// re-derived, so healing history survives.
func Restore(s Snapshot, settings Settings, log *zap.Logger) (*Actor, error) {
	arch := Archetype{
		Name:       s.Name,
		Attributes: s.Attributes,
		Skills:     s.Skills,
	}
	a := FromArchetype(arch, settings)
	if s.ID != "" {
		a.id = s.ID
	}
	a.archetype = s.Archetype

	for _, it := range s.Items {
		item := it
		a.items = append(a.items, &item)
	}
	for _, inj := range s.Injuries {
		injury := inj
		a.injuries = append(a.injuries, &injury)
	}
	for _, e := range s.Effects {
		effect := e
		a.effects = append(a.effects, &effect)
	}
	a.tallies = NewTallySet()
	for _, tv := range s.Tallies {
		a.tallies.Add(tv.Kind, tv.Count)
	}

	if err := a.RunPass(log); err != nil {
		return nil, fmt.Errorf("restore actor %s: %w", s.ID, err)
	}
	return a, nil
}

// MarshalSnapshot encodes the actor snapshot as JSON.
func MarshalSnapshot(a *Actor) ([]byte, error) {
	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal actor %s: %w", a.ID(), err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes an actor snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal actor snapshot: %w", err)
	}
	return s, nil
}
