package actor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// ItemBonus grants a flat bonus to one skill while the item is equipped.
type ItemBonus struct {
	Skill string  `json:"skill"`
	Value float64 `json:"value"`
}

// Item is a carried object. Equipped items spawn virtual traits that emit
// their bonuses; carried weight counts against encumbrance either way.
type Item struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Weight     float64     `json:"weight"`
	Equipped   bool        `json:"equipped"`
	Protection float64     `json:"protection,omitempty"`
	Bonuses    []ItemBonus `json:"bonuses,omitempty"`
}

// Items returns the carried items.
func (a *Actor) Items() []*Item {
	return append([]*Item(nil), a.items...)
}

// Item returns the carried item with the given ID.
func (a *Actor) Item(id string) (*Item, bool) {
	for _, it := range a.items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// AddItem adds an item to the actor's inventory, assigning an ID if absent.
// The item takes effect on the next pass.
func (a *Actor) AddItem(item Item) *Item {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	added := item
	a.items = append(a.items, &added)
	return &added
}

// RemoveItem drops an item. Its bonuses vanish on the next pass.
func (a *Actor) RemoveItem(id string) bool {
	for i, it := range a.items {
		if it.ID == id {
			a.items = append(a.items[:i], a.items[i+1:]...)
			return true
		}
	}
	return false
}

// SetEquipped toggles an item's equipped state.
func (a *Actor) SetEquipped(id string, equipped bool) bool {
	it, ok := a.Item(id)
	if !ok {
		return false
	}
	it.Equipped = equipped
	return true
}

// CarriedWeight sums the weight of everything carried.
func (a *Actor) CarriedWeight() float64 {
	var total float64
	for _, it := range a.items {
		total += it.Weight
	}
	return total
}

// ItemsTrait spawns one virtual trait per equipped item during Initialize,
// so item bonuses ride the same pass machinery as everything else.
type ItemsTrait struct{}

// NewItemsTrait builds the trait.
func NewItemsTrait() *ItemsTrait {
	return &ItemsTrait{}
}

// ID implements Trait.
func (t *ItemsTrait) ID() string {
	return "trait:items"
}

// Initialize spawns a virtual trait for each equipped item.
func (t *ItemsTrait) Initialize(p *Pass) error {
	for _, it := range p.Actor().items {
		if !it.Equipped {
			continue
		}
		if err := p.Spawn(&equippedItemTrait{item: it}); err != nil {
			return fmt.Errorf("item %s: %w", it.Name, err)
		}
	}
	return nil
}

// Evaluate implements Trait.
func (t *ItemsTrait) Evaluate(*Pass) error {
	return nil
}

// Finalize implements Trait.
func (t *ItemsTrait) Finalize(*Pass) error {
	return nil
}

// equippedItemTrait is the virtual participant an equipped item contributes
// for the duration of one pass.
type equippedItemTrait struct {
	item *Item
}

func (t *equippedItemTrait) ID() string {
	return "item:" + t.item.ID
}

func (t *equippedItemTrait) Initialize(*Pass) error {
	return nil
}

// Evaluate emits the item's skill bonuses and armor protection, keyed by
// the item name so re-equipping upserts rather than stacks.
func (t *equippedItemTrait) Evaluate(p *Pass) error {
	a := p.Actor()
	for _, bonus := range t.item.Bonuses {
		skill, ok := a.Skill(bonus.Skill)
		if !ok {
			// Items can reference skills the actor never trained; the
			// bonus simply has nothing to land on.
			continue
		}
		if err := skill.Add(rules.SourceItem, t.item.Name, bonus.Value); err != nil {
			return err
		}
	}
	if t.item.Protection != 0 {
		if err := a.Protection().Add(rules.SourceArmor, t.item.Name, t.item.Protection); err != nil {
			return err
		}
	}
	return nil
}

func (t *equippedItemTrait) Finalize(*Pass) error {
	return nil
}
