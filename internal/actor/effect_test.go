package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greymarch/greymarch-server/internal/rules"
)

func TestEffect_AttributeEffectFoldsIntoSkills(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "BullsStrength",
		Target: EffectTarget{Kind: TargetAttribute, Name: "Might"},
		Op:     rules.OpAdd,
		Value:  10,
		Rounds: 2,
	})
	require.NoError(t, a.RunPass(nil))

	might, _ := a.Attribute("Might")
	assert.Equal(t, 50.0, might.Effective())
	assert.Equal(t, 70.0, skillTarget(t, a, "Blades"))
}

func TestEffect_SkillEffectLandsDirectly(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "Shadowcloak",
		Target: EffectTarget{Kind: TargetSkill, Name: "Stealth"},
		Op:     rules.OpMul,
		Value:  1.5,
		Rounds: DurationPermanent,
	})
	require.NoError(t, a.RunPass(nil))

	// (35 + 10) × 1.5 under multiplicative precedence.
	assert.Equal(t, 67.5, skillTarget(t, a, "Stealth"))
}

func TestEffect_CeilingEffectCapsSkill(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "Hexed",
		Target: EffectTarget{Kind: TargetSkill, Name: "Blades"},
		Op:     rules.OpCeil,
		Value:  25,
		Rounds: 1,
	})
	require.NoError(t, a.RunPass(nil))

	assert.Equal(t, 25.0, skillTarget(t, a, "Blades"))
}

func TestEffect_TickExpiresTimedEffects(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "BullsStrength",
		Target: EffectTarget{Kind: TargetAttribute, Name: "Might"},
		Op:     rules.OpAdd,
		Value:  10,
		Rounds: 2,
	})
	a.AddEffect(Effect{
		Label:  "Oathmark",
		Target: EffectTarget{Kind: TargetSkill, Name: "Lore"},
		Op:     rules.OpAdd,
		Value:  5,
		Rounds: DurationPermanent,
	})
	require.NoError(t, a.RunPass(nil))
	require.Equal(t, 70.0, skillTarget(t, a, "Blades"))

	assert.Empty(t, a.TickEffects())
	expired := a.TickEffects()
	assert.Equal(t, []string{"BullsStrength"}, expired)

	require.NoError(t, a.RunPass(nil))
	assert.Equal(t, 60.0, skillTarget(t, a, "Blades"))

	// The permanent effect outlives any number of rounds.
	assert.Len(t, a.Effects(), 1)
	assert.Equal(t, 40.0, skillTarget(t, a, "Lore"))
}

func TestEffect_RemoveEffectDropsDelta(t *testing.T) {
	a := builtWarden(t)
	e := a.AddEffect(Effect{
		Label:  "Shadowcloak",
		Target: EffectTarget{Kind: TargetSkill, Name: "Stealth"},
		Op:     rules.OpAdd,
		Value:  15,
		Rounds: DurationPermanent,
	})
	require.NoError(t, a.RunPass(nil))
	require.Equal(t, 60.0, skillTarget(t, a, "Stealth"))

	require.True(t, a.RemoveEffect(e.ID))
	require.NoError(t, a.RunPass(nil))
	assert.Equal(t, 45.0, skillTarget(t, a, "Stealth"))
}

func TestEffect_UnknownTargetIsSkipped(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "GhostTouch",
		Target: EffectTarget{Kind: TargetSkill, Name: "Banking"},
		Op:     rules.OpAdd,
		Value:  5,
		Rounds: 1,
	})

	// Effects aimed at modifiers the actor lacks are inert, not errors.
	assert.NoError(t, a.RunPass(nil))
}

func TestEffect_CustomOpRejected(t *testing.T) {
	a := builtWarden(t)
	a.AddEffect(Effect{
		Label:  "Oddity",
		Target: EffectTarget{Kind: TargetSkill, Name: "Blades"},
		Op:     rules.OpCustom,
		Value:  1,
		Rounds: 1,
	})

	err := a.RunPass(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrUnknownOp)
}
