package actor

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// Settings carries the table-wide rules knobs applied to every actor.
type Settings struct {
	// MinTarget and MaxTarget clamp every skill's test target.
	MinTarget float64
	MaxTarget float64

	CritSuccessDigits []int
	CritFailureDigits []int

	// WoundThreshold is the wound tally at which an actor is incapacitated.
	WoundThreshold int
	// FatiguePenalty is the flat skill penalty per point of fatigue.
	FatiguePenalty float64
	// EncumbrancePerMight is the carry capacity granted per point of Might.
	EncumbrancePerMight float64
}

// DefaultSettings returns the standard Greymarch table rules.
func DefaultSettings() Settings {
	return Settings{
		MinTarget:           5,
		MaxTarget:           95,
		CritSuccessDigits:   append([]int(nil), rules.DefaultCritSuccessDigits...),
		CritFailureDigits:   append([]int(nil), rules.DefaultCritFailureDigits...),
		WoundThreshold:      5,
		FatiguePenalty:      5,
		EncumbrancePerMight: 2,
	}
}

// AttributeDef declares one innate attribute and its base score.
type AttributeDef struct {
	Name string  `json:"name"`
	Base float64 `json:"base"`
}

// SkillDef declares one trained skill: the attribute that governs it and the
// flat training bonus layered on top.
type SkillDef struct {
	Name            string  `json:"name"`
	Attribute       string  `json:"attribute"`
	Training        float64 `json:"training"`
	SuccessLevelMod int     `json:"success_level_mod,omitempty"`
}

// Archetype is a reusable actor template.
type Archetype struct {
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes"`
	Skills     []SkillDef     `json:"skills"`
	Items      []Item         `json:"items,omitempty"`
	Fate       int            `json:"fate,omitempty"`
}

// Actor is one character: a bundle of modifiers rebuilt by trait passes,
// the trait list that rebuilds them, and the condition bookkeeping that
// feeds the traits. Actors are not safe for concurrent use; the encounter
// manager serializes access.
type Actor struct {
	id        string
	name      string
	archetype string
	settings  Settings

	attributes map[string]*rules.Modifier
	skills     map[string]*rules.MasteryModifier
	protection *rules.Modifier

	traits  []Trait
	virtual map[string]bool

	items    []*Item
	injuries []*Injury
	effects  []*Effect
	tallies  *TallySet
}

// New returns an empty actor with no traits wired. Most callers want
// FromArchetype.
func New(name string, settings Settings) *Actor {
	return &Actor{
		id:         uuid.NewString(),
		name:       name,
		settings:   settings,
		attributes: make(map[string]*rules.Modifier),
		skills:     make(map[string]*rules.MasteryModifier),
		protection: rules.NewModifier(),
		virtual:    make(map[string]bool),
		tallies:    NewTallySet(),
	}
}

// FromArchetype builds an actor from a template and wires the standard
// traits. Trait order is load-bearing: attributes settle before injuries
// penalize them, injuries and effects land before skills fold attribute
// values, and encumbrance reads item weights after items have spawned.
func FromArchetype(arch Archetype, settings Settings) *Actor {
	a := New(arch.Name, settings)
	a.archetype = arch.Name
	for i := range arch.Items {
		item := arch.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		a.items = append(a.items, &item)
	}
	if arch.Fate > 0 {
		a.tallies.Add(TallyFate, arch.Fate)
	}

	a.addTrait(NewAttributesTrait(arch.Attributes))
	a.addTrait(NewInjuriesTrait())
	a.addTrait(NewEffectsTrait())
	a.addTrait(NewSkillsTrait(arch.Skills))
	a.addTrait(NewItemsTrait())
	a.addTrait(NewFatigueTrait())
	a.addTrait(NewEncumbranceTrait())
	a.addTrait(NewFateTrait())
	return a
}

// ID returns the actor's identifier.
func (a *Actor) ID() string {
	return a.id
}

// Name returns the actor's display name.
func (a *Actor) Name() string {
	return a.name
}

// ArchetypeName returns the template the actor was built from.
func (a *Actor) ArchetypeName() string {
	return a.archetype
}

// Settings returns the table rules the actor plays under.
func (a *Actor) Settings() Settings {
	return a.settings
}

// Attribute returns the named attribute modifier.
func (a *Actor) Attribute(name string) (*rules.Modifier, bool) {
	m, ok := a.attributes[name]
	return m, ok
}

// AttributeNames returns the attribute names in sorted order.
func (a *Actor) AttributeNames() []string {
	names := make([]string, 0, len(a.attributes))
	for name := range a.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Skill returns the named skill's mastery modifier.
func (a *Actor) Skill(name string) (*rules.MasteryModifier, bool) {
	m, ok := a.skills[name]
	return m, ok
}

// SkillNames returns the skill names in sorted order.
func (a *Actor) SkillNames() []string {
	names := make([]string, 0, len(a.skills))
	for name := range a.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Protection returns the armor soak modifier.
func (a *Actor) Protection() *rules.Modifier {
	return a.protection
}

// Tallies returns the actor's condition tallies.
func (a *Actor) Tallies() *TallySet {
	return a.tallies
}

func (a *Actor) ensureAttribute(name string) *rules.Modifier {
	if m, ok := a.attributes[name]; ok {
		return m
	}
	m := rules.NewModifier()
	a.attributes[name] = m
	return m
}

func (a *Actor) ensureSkill(name string) *rules.MasteryModifier {
	if m, ok := a.skills[name]; ok {
		return m
	}
	m := rules.NewMasteryModifier()
	a.skills[name] = m
	return m
}

func (a *Actor) addTrait(t Trait) {
	a.traits = append(a.traits, t)
}

func (a *Actor) addVirtualTrait(t Trait) {
	a.traits = append(a.traits, t)
	a.virtual[t.ID()] = true
}

func (a *Actor) hasTrait(id string) bool {
	for _, t := range a.traits {
		if t.ID() == id {
			return true
		}
	}
	return false
}

func (a *Actor) clearVirtualTraits() {
	if len(a.virtual) == 0 {
		return
	}
	kept := a.traits[:0]
	for _, t := range a.traits {
		if !a.virtual[t.ID()] {
			kept = append(kept, t)
		}
	}
	a.traits = kept
	a.virtual = make(map[string]bool)
}

// resetModifiers drops every delta and disable flag so the pass rebuilds
// the actor's state from scratch. Removed items and healed injuries vanish
// because nothing re-emits their deltas.
func (a *Actor) resetModifiers() {
	for _, m := range a.attributes {
		m.SetDisabled("")
		m.Clear()
	}
	for _, m := range a.skills {
		m.SetDisabled("")
		m.Clear()
		m.SetSuccessLevelMod(0)
	}
	a.protection.SetDisabled("")
	a.protection.Clear()
}

// RunPass rebuilds the actor's modifiers: virtual traits from the previous
// pass are dropped, every modifier is cleared, and the three phases sweep
// the trait queue in order. Running a pass twice in a row yields identical
// state.
func (a *Actor) RunPass(log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	a.clearVirtualTraits()
	a.resetModifiers()

	pass := &Pass{actor: a, log: log}
	for _, phase := range []Phase{PhaseInitialize, PhaseEvaluate, PhaseFinalize} {
		if err := pass.runPhase(phase); err != nil {
			return fmt.Errorf("pass %s for actor %s: %w", phase, a.id, err)
		}
	}
	log.Debug("actor pass complete",
		zap.String("actor_id", a.id),
		zap.Int("traits", len(a.traits)),
	)
	return nil
}

// Incapacitated reports whether the wound tally has reached the threshold.
func (a *Actor) Incapacitated() bool {
	return a.tallies.Count(TallyWounds) >= a.settings.WoundThreshold
}

// FatePoints returns the remaining fate pool.
func (a *Actor) FatePoints() int {
	return a.tallies.Count(TallyFate)
}

// SpendFate removes n fate points if the pool covers them.
func (a *Actor) SpendFate(n int) bool {
	return a.tallies.Spend(TallyFate, n)
}
