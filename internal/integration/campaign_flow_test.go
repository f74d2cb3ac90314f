package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/greymarch/greymarch-server/internal/actor"
	"github.com/greymarch/greymarch-server/internal/encounter"
	"github.com/greymarch/greymarch-server/internal/rules"
)

// campaignEnv wires the encounter manager and rules engine the way the
// gateway does, minus the transport, so scenarios can drive several rounds
// of play directly.
type campaignEnv struct {
	encounters *encounter.Manager
	settings   actor.Settings
	logger     *zap.Logger
}

func newCampaignEnv(t testing.TB) *campaignEnv {
	logger := zaptest.NewLogger(t)
	return &campaignEnv{
		encounters: encounter.NewManager(logger),
		settings:   actor.DefaultSettings(),
		logger:     logger,
	}
}

// spawn instantiates an archetype, runs the first pass, and seats the actor
// in the encounter, mirroring what the spawn endpoint does.
func (env *campaignEnv) spawn(t *testing.T, enc *encounter.Encounter, owner string, arch actor.Archetype) *actor.Actor {
	t.Helper()

	a := actor.FromArchetype(arch, env.settings)
	require.NoError(t, a.RunPass(env.logger))
	require.NoError(t, enc.AddActor(owner, a))
	return a
}

func skillTarget(t *testing.T, a *actor.Actor, name string) float64 {
	t.Helper()

	skill, ok := a.Skill(name)
	require.True(t, ok, "actor %s has no skill %s", a.Name(), name)
	return skill.ConstrainedEffective()
}

func fixedRoll(total int) *rules.Roll {
	return &rules.Roll{Total: total}
}

func sellswordArchetype() actor.Archetype {
	return actor.Archetype{
		Name: "Sellsword",
		Attributes: []actor.AttributeDef{
			{Name: "Might", Base: 55},
			{Name: "Agility", Base: 45},
		},
		Skills: []actor.SkillDef{
			{Name: "Blades", Attribute: "Might", Training: 10},
			{Name: "Dodge", Attribute: "Agility", Training: 5},
		},
		Fate: 2,
	}
}

func footpadArchetype() actor.Archetype {
	return actor.Archetype{
		Name: "Footpad",
		Attributes: []actor.AttributeDef{
			{Name: "Might", Base: 35},
			{Name: "Agility", Base: 60},
		},
		Skills: []actor.SkillDef{
			{Name: "Knives", Attribute: "Agility", Training: 10},
			{Name: "Dodge", Attribute: "Agility", Training: 10},
		},
		Fate: 1,
	}
}

// TestCampaignFlow_OpposedRoundsWithConditions plays a skirmish across three
// rounds: a contest, a wound that degrades the loser, fatigue on top of it,
// an upset crit, and finally incapacitation and recovery.
func TestCampaignFlow_OpposedRoundsWithConditions(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	enc := env.encounters.CreateEncounter("Bridge Skirmish", "gm")
	rook := env.spawn(t, enc, "meris", sellswordArchetype())
	cutter := env.spawn(t, enc, "aldous", footpadArchetype())

	// Spawn passes settle the targets: attribute plus training.
	require.Equal(t, 65.0, skillTarget(t, rook, "Blades"))
	require.Equal(t, 50.0, skillTarget(t, rook, "Dodge"))
	require.Equal(t, 70.0, skillTarget(t, cutter, "Knives"))
	require.Equal(t, 70.0, skillTarget(t, cutter, "Dodge"))

	// Round 1: Rook lands a blow, Cutter's dodge comes up short.
	first, err := env.encounters.RunOpposedTest(ctx, encounter.OpposedRequest{
		EncounterID: enc.ID,
		Source: encounter.TestRequest{
			ActorID: rook.ID(), Skill: "Blades", User: "meris",
			SkipPrompt: true, Roll: fixedRoll(30),
		},
		Target: encounter.TestRequest{
			ActorID: cutter.ID(), Skill: "Dodge", User: "aldous",
			SkipPrompt: true, Roll: fixedRoll(92),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.SourceWins())
	assert.False(t, first.TargetWins())
	assert.Equal(t, 1, enc.Journal().Size())

	// The hit becomes a lasting wound. It lands on the next pass.
	cutter.AddInjury(actor.Injury{
		Label:     "Slashed Forearm",
		Attribute: "Agility",
		Penalty:   15,
		Severity:  2,
	})

	report, err := env.encounters.AdvanceRound(enc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Round)
	assert.Empty(t, report.Expired)

	// Agility 60 drops to 45, so both agile skills sit at 55.
	assert.Equal(t, 55.0, skillTarget(t, cutter, "Knives"))
	assert.Equal(t, 55.0, skillTarget(t, cutter, "Dodge"))
	assert.Equal(t, 2, cutter.Tallies().Count(actor.TallyWounds))
	assert.False(t, cutter.Incapacitated())

	// A round of scrambling tires Cutter out: 5 more off every skill.
	cutter.Tallies().Add(actor.TallyFatigue, 1)
	require.NoError(t, env.encounters.RunActorPass(enc.ID, cutter.ID()))
	require.Equal(t, 50.0, skillTarget(t, cutter, "Knives"))

	// Round 2: wounded and tired, Cutter still takes the exchange on a
	// critical; the 5 terminal digit beats Rook's plain success.
	second, err := env.encounters.RunOpposedTest(ctx, encounter.OpposedRequest{
		EncounterID: enc.ID,
		Source: encounter.TestRequest{
			ActorID: rook.ID(), Skill: "Blades", User: "meris",
			SkipPrompt: true, Roll: fixedRoll(64),
		},
		Target: encounter.TestRequest{
			ActorID: cutter.ID(), Skill: "Knives", User: "aldous",
			SkipPrompt: true, Roll: fixedRoll(45),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.TargetWins())
	assert.Equal(t, 2, enc.Journal().Size())

	// A severity-3 gash pushes the wound tally to the threshold.
	gash := cutter.AddInjury(actor.Injury{
		Label:     "Deep Gash",
		Attribute: "Might",
		Penalty:   10,
		Severity:  3,
	})
	require.NoError(t, env.encounters.RunActorPass(enc.ID, cutter.ID()))
	assert.True(t, cutter.Incapacitated())

	knives, ok := cutter.Skill("Knives")
	require.True(t, ok)
	assert.Equal(t, "incapacitated", knives.Disabled())

	// Disabled skills still test at the table floor, never at zero.
	assert.Equal(t, 5.0, skillTarget(t, cutter, "Knives"))
	desperate, err := env.encounters.RunSkillTest(ctx, encounter.TestRequest{
		EncounterID: enc.ID,
		ActorID:     cutter.ID(),
		Skill:       "Knives",
		User:        "aldous",
		SkipPrompt:  true,
		Roll:        fixedRoll(3),
	})
	require.NoError(t, err)
	require.NotNil(t, desperate)
	assert.Equal(t, 5.0, desperate.Target())
	assert.True(t, desperate.IsSuccess())
	assert.Equal(t, 3, enc.Journal().Size())

	// Healing the gash drops the tally below the threshold; the next pass
	// re-enables the skills with the remaining wound and fatigue applied.
	require.True(t, cutter.HealInjury(gash.ID))
	require.NoError(t, env.encounters.RunActorPass(enc.ID, cutter.ID()))
	assert.False(t, cutter.Incapacitated())
	assert.Empty(t, knives.Disabled())
	assert.Equal(t, 50.0, skillTarget(t, cutter, "Knives"))

	// The journal kept the round of every entry.
	entry, ok := enc.Journal().EntryAt(0)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Round)
	entry, ok = enc.Journal().EntryAt(1)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Round)
}

// TestCampaignFlow_EffectsAcrossRounds follows a timed chant and a permanent
// blessing through round advances: the chant expires on schedule, the
// blessing holds until removed.
func TestCampaignFlow_EffectsAcrossRounds(t *testing.T) {
	env := newCampaignEnv(t)

	enc := env.encounters.CreateEncounter("Shrine Vigil", "gm")
	rook := env.spawn(t, enc, "meris", sellswordArchetype())
	require.Equal(t, 65.0, skillTarget(t, rook, "Blades"))

	rook.AddEffect(actor.Effect{
		Label:  "Battle Hymn",
		Target: actor.EffectTarget{Kind: actor.TargetSkill, Name: "Blades"},
		Op:     rules.OpAdd,
		Value:  10,
		Rounds: 2,
	})
	blessing := rook.AddEffect(actor.Effect{
		Label:  "Ancestral Blessing",
		Target: actor.EffectTarget{Kind: actor.TargetAttribute, Name: "Might"},
		Op:     rules.OpAdd,
		Value:  5,
		Rounds: actor.DurationPermanent,
	})
	require.NoError(t, env.encounters.RunActorPass(enc.ID, rook.ID()))

	// Hymn lands on the skill, blessing on the governing attribute; the
	// skill target folds both.
	require.Equal(t, 80.0, skillTarget(t, rook, "Blades"))

	report, err := env.encounters.AdvanceRound(enc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Round)
	assert.Empty(t, report.Expired)
	assert.Equal(t, 80.0, skillTarget(t, rook, "Blades"))

	report, err = env.encounters.AdvanceRound(enc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Round)
	assert.Equal(t, []string{"Battle Hymn"}, report.Expired[rook.ID()])
	assert.Equal(t, 70.0, skillTarget(t, rook, "Blades"))

	require.True(t, rook.RemoveEffect(blessing.ID))
	require.NoError(t, env.encounters.RunActorPass(enc.ID, rook.ID()))
	assert.Equal(t, 65.0, skillTarget(t, rook, "Blades"))
}

// TestCampaignFlow_FateRevisionsDrainThePool revises a failed test twice on
// the same roll, watching the pool drain and the fate delta get swept after
// each revision.
func TestCampaignFlow_FateRevisionsDrainThePool(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	enc := env.encounters.CreateEncounter("Sunken Vault", "gm")
	rook := env.spawn(t, enc, "meris", sellswordArchetype())
	require.Equal(t, 2, rook.FatePoints())

	failed, err := env.encounters.RunSkillTest(ctx, encounter.TestRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		SkipPrompt:  true,
		Roll:        fixedRoll(68),
	})
	require.NoError(t, err)
	require.NotNil(t, failed)
	require.False(t, failed.IsSuccess())

	// First revision: +10 lifts the target to 75 and the kept roll of 68
	// squeaks under. The fate delta is gone again by the time we look.
	revised, err := env.encounters.ReviseWithFate(ctx, encounter.ReviseRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		Prior:       failed,
		Bonus:       10,
	})
	require.NoError(t, err)
	require.NotNil(t, revised)
	assert.Equal(t, 68, revised.Roll().Total)
	assert.Equal(t, 75.0, revised.Target())
	assert.True(t, revised.IsSuccess())
	assert.Equal(t, 1, rook.FatePoints())
	assert.Equal(t, 65.0, skillTarget(t, rook, "Blades"))

	// Second revision spends the last point.
	again, err := env.encounters.ReviseWithFate(ctx, encounter.ReviseRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		Prior:       revised,
		Bonus:       10,
	})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.IsSuccess())
	assert.Equal(t, 0, rook.FatePoints())

	// The pool is dry; nothing is journaled for the refusal.
	_, err = env.encounters.ReviseWithFate(ctx, encounter.ReviseRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		Prior:       again,
		Bonus:       10,
	})
	require.ErrorIs(t, err, encounter.ErrNoFate)
	assert.Equal(t, 3, enc.Journal().Size())
}

// TestCampaignFlow_JournalOutlivesTheEncounter saves the journal to disk,
// closes the encounter, and replays the record from the file alone.
func TestCampaignFlow_JournalOutlivesTheEncounter(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	enc := env.encounters.CreateEncounter("Rearguard Action", "gm")
	rook := env.spawn(t, enc, "meris", sellswordArchetype())
	cutter := env.spawn(t, enc, "aldous", footpadArchetype())

	solo, err := env.encounters.RunSkillTest(ctx, encounter.TestRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		SkipPrompt:  true,
		Roll:        fixedRoll(42),
	})
	require.NoError(t, err)
	require.NotNil(t, solo)

	contest, err := env.encounters.RunOpposedTest(ctx, encounter.OpposedRequest{
		EncounterID: enc.ID,
		Source: encounter.TestRequest{
			ActorID: rook.ID(), Skill: "Blades", User: "meris",
			SkipPrompt: true, Roll: fixedRoll(17),
		},
		Target: encounter.TestRequest{
			ActorID: cutter.ID(), Skill: "Dodge", User: "aldous",
			SkipPrompt: true, Roll: fixedRoll(78),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, contest)
	require.True(t, contest.SourceWins())
	require.Equal(t, 2, enc.Journal().Size())

	dir := t.TempDir()
	require.NoError(t, enc.Journal().SaveToFile(dir, enc.ID))
	require.NoError(t, env.encounters.CloseEncounter(enc.ID))

	// Closed encounters refuse new tests but keep the journal readable.
	_, err = env.encounters.RunSkillTest(ctx, encounter.TestRequest{
		EncounterID: enc.ID,
		ActorID:     rook.ID(),
		Skill:       "Blades",
		User:        "meris",
		SkipPrompt:  true,
		Roll:        fixedRoll(50),
	})
	require.ErrorIs(t, err, encounter.ErrEncounterClosed)
	assert.Equal(t, 2, enc.Journal().Size())

	loaded, err := encounter.LoadJournalFromFile(dir, enc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Size())
	require.NoError(t, loaded.Replay())

	want, ok := enc.Journal().EntryAt(0)
	require.True(t, ok)
	got, ok := loaded.EntryAt(0)
	require.True(t, ok)
	assert.Equal(t, want.Checksum, got.Checksum)
	assert.Equal(t, encounter.EntrySuccess, got.Kind)

	got, ok = loaded.EntryAt(1)
	require.True(t, ok)
	assert.Equal(t, encounter.EntryOpposed, got.Kind)
}
