package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greymarch/greymarch-server/internal/rules"
)

func wardenArchetype() Archetype {
	return Archetype{
		Name: "Warden",
		Attributes: []AttributeDef{
			{Name: "Might", Base: 40},
			{Name: "Agility", Base: 35},
			{Name: "Wits", Base: 30},
		},
		Skills: []SkillDef{
			{Name: "Blades", Attribute: "Might", Training: 15},
			{Name: "Stealth", Attribute: "Agility", Training: 10},
			{Name: "Lore", Attribute: "Wits", Training: 5},
		},
		Items: []Item{
			{Name: "Longsword", Weight: 3, Equipped: true, Bonuses: []ItemBonus{{Skill: "Blades", Value: 5}}},
			{Name: "Hauberk", Weight: 12, Equipped: true, Protection: 4},
		},
		Fate: 2,
	}
}

func builtWarden(t *testing.T) *Actor {
	t.Helper()
	a := FromArchetype(wardenArchetype(), DefaultSettings())
	require.NoError(t, a.RunPass(nil))
	return a
}

func skillTarget(t *testing.T, a *Actor, name string) float64 {
	t.Helper()
	skill, ok := a.Skill(name)
	require.True(t, ok, "skill %s missing", name)
	return skill.ConstrainedEffective()
}

func TestActor_PassBuildsSkillTargets(t *testing.T) {
	a := builtWarden(t)

	// Blades folds Might 40, training 15, and the equipped longsword's 5.
	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))
	assert.Equal(t, 45.0, skillTarget(t, a, "Stealth"))
	assert.Equal(t, 35.0, skillTarget(t, a, "Lore"))
	assert.Equal(t, 4.0, a.Protection().Effective())
	assert.Equal(t, 2, a.FatePoints())
}

func TestActor_PassIsIdempotent(t *testing.T) {
	a := builtWarden(t)
	before := skillTarget(t, a, "Blades")

	require.NoError(t, a.RunPass(nil))
	require.NoError(t, a.RunPass(nil))

	assert.Equal(t, before, skillTarget(t, a, "Blades"))

	blades, _ := a.Skill("Blades")
	assert.Equal(t, 3, blades.Len(), "deltas must be rebuilt, not stacked")
}

func TestActor_SkillBreakdownNamesContributors(t *testing.T) {
	a := builtWarden(t)
	blades, _ := a.Skill("Blades")

	assert.Equal(t, "+40, +15, +5", blades.Breakdown())
}

func TestActor_UnequippedItemStopsContributing(t *testing.T) {
	a := builtWarden(t)
	items := a.Items()
	require.NotEmpty(t, items)

	var swordID string
	for _, it := range items {
		if it.Name == "Longsword" {
			swordID = it.ID
		}
	}
	require.NotEmpty(t, swordID)

	require.True(t, a.SetEquipped(swordID, false))
	require.NoError(t, a.RunPass(nil))

	assert.Equal(t, 55.0, skillTarget(t, a, "Blades"))
}

func TestActor_RemovedItemDropsDeltas(t *testing.T) {
	a := builtWarden(t)

	var hauberkID string
	for _, it := range a.Items() {
		if it.Name == "Hauberk" {
			hauberkID = it.ID
		}
	}
	require.True(t, a.RemoveItem(hauberkID))
	require.NoError(t, a.RunPass(nil))

	assert.Equal(t, 0.0, a.Protection().Effective())
}

func TestActor_InjuryPenaltyReachesSkills(t *testing.T) {
	a := builtWarden(t)
	a.AddInjury(Injury{Label: "GashedArm", Attribute: "Might", Penalty: 10, Severity: 2})
	require.NoError(t, a.RunPass(nil))

	// Might drops to 30 and Blades follows: 30 + 15 + 5.
	might, _ := a.Attribute("Might")
	assert.Equal(t, 30.0, might.Effective())
	assert.Equal(t, 50.0, skillTarget(t, a, "Blades"))
	assert.Equal(t, 2, a.Tallies().Count(TallyWounds))
}

func TestActor_HealedInjuryRestores(t *testing.T) {
	a := builtWarden(t)
	inj := a.AddInjury(Injury{Label: "GashedArm", Attribute: "Might", Penalty: 10, Severity: 2})
	require.NoError(t, a.RunPass(nil))
	require.Equal(t, 50.0, skillTarget(t, a, "Blades"))

	require.True(t, a.HealInjury(inj.ID))
	require.NoError(t, a.RunPass(nil))

	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))
	assert.Equal(t, 0, a.Tallies().Count(TallyWounds))
}

func TestActor_WoundThresholdIncapacitates(t *testing.T) {
	a := builtWarden(t)
	a.AddInjury(Injury{Label: "CrushedLeg", Attribute: "Agility", Penalty: 15, Severity: 3})
	a.AddInjury(Injury{Label: "BrokenRibs", Attribute: "Might", Penalty: 10, Severity: 2})
	require.NoError(t, a.RunPass(nil))

	require.True(t, a.Incapacitated())
	blades, _ := a.Skill("Blades")
	assert.Equal(t, "incapacitated", blades.Disabled())
	assert.Equal(t, 0.0, blades.Effective())
}

func TestActor_FatiguePenalizesEverySkill(t *testing.T) {
	a := builtWarden(t)
	a.Tallies().Add(TallyFatigue, 2)
	require.NoError(t, a.RunPass(nil))

	// Two fatigue at the default 5-point penalty.
	assert.Equal(t, 50.0, skillTarget(t, a, "Blades"))
	assert.Equal(t, 35.0, skillTarget(t, a, "Stealth"))

	a.Tallies().Remove(TallyFatigue, 2)
	require.NoError(t, a.RunPass(nil))
	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))
}

func TestActor_EncumbrancePenalizesAgileSkills(t *testing.T) {
	a := builtWarden(t)
	a.AddItem(Item{Name: "Loot Chest", Weight: 100})
	require.NoError(t, a.RunPass(nil))

	// Carried 115 against a capacity of 80: the 35-point overload hits
	// Agility skills only.
	assert.Equal(t, 10.0, skillTarget(t, a, "Stealth"))
	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))
}

func TestActor_BurnFateForRevision(t *testing.T) {
	a := builtWarden(t)

	require.True(t, a.BurnFateForRevision("Blades", 10))
	assert.Equal(t, 1, a.FatePoints())
	assert.Equal(t, 70.0, skillTarget(t, a, "Blades"))

	// The bonus is a one-pass window; the rebuild clears it.
	require.NoError(t, a.RunPass(nil))
	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))

	require.True(t, a.BurnFateForRevision("Blades", 10))
	assert.False(t, a.BurnFateForRevision("Blades", 10), "fate pool exhausted")
	assert.False(t, a.BurnFateForRevision("Banking", 10), "unknown skill")
}

func TestActor_SkillTestUsesTableRules(t *testing.T) {
	a := builtWarden(t)
	blades, _ := a.Skill("Blades")

	test := rules.NewSuccessTest(blades, rules.Roll{Total: 55}, a.ID(), nil)
	require.True(t, test.Evaluate())
	assert.Equal(t, rules.CriticalSuccess, test.Level())
	assert.False(t, test.Capped())
}

func TestActor_MaxTargetCapsSkill(t *testing.T) {
	arch := wardenArchetype()
	arch.Attributes[0].Base = 90
	a := FromArchetype(arch, DefaultSettings())
	require.NoError(t, a.RunPass(nil))

	// Might 90 + training 15 + sword 5 = 110, capped at the table's 95.
	blades, _ := a.Skill("Blades")
	assert.Equal(t, 110.0, blades.Effective())
	assert.Equal(t, 95.0, blades.ConstrainedEffective())
	assert.True(t, blades.Capped())
}

func TestActor_SnapshotRoundtripReproducesState(t *testing.T) {
	a := builtWarden(t)
	a.AddInjury(Injury{Label: "GashedArm", Attribute: "Might", Penalty: 10, Severity: 2})
	a.Tallies().Add(TallyFatigue, 1)
	a.AddEffect(Effect{
		Label:  "Blessing",
		Target: EffectTarget{Kind: TargetAttribute, Name: "Wits"},
		Op:     rules.OpAdd,
		Value:  10,
		Rounds: 3,
	})
	require.NoError(t, a.RunPass(nil))

	data, err := MarshalSnapshot(a)
	require.NoError(t, err)

	s, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	restored, err := Restore(s, DefaultSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, a.ID(), restored.ID())
	for _, name := range a.SkillNames() {
		assert.Equal(t, skillTarget(t, a, name), skillTarget(t, restored, name), "skill %s", name)
	}
	assert.Equal(t, a.Tallies().Count(TallyWounds), restored.Tallies().Count(TallyWounds))
	assert.Equal(t, a.Tallies().Count(TallyFatigue), restored.Tallies().Count(TallyFatigue))
	assert.Equal(t, a.FatePoints(), restored.FatePoints())
	assert.Len(t, restored.Effects(), 1)
}
