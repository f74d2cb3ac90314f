package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func masteryWithTarget(t *testing.T, target float64) *MasteryModifier {
	t.Helper()
	m := NewMasteryModifier()
	require.NoError(t, m.Add(SourceSkill, "Skill", target))
	return m
}

func TestSuccessTest_Classification(t *testing.T) {
	cases := []struct {
		name  string
		roll  int
		level SuccessLevel
	}{
		{"success with lucky digit", 45, CriticalSuccess},
		{"success with lucky digit one", 31, CriticalSuccess},
		{"plain success", 42, MarginalSuccess},
		{"boundary roll succeeds", 60, MarginalSuccess},
		{"plain failure", 62, MarginalFailure},
		{"failure with unlucky digit", 99, CriticalFailure},
		{"failure on double zero", 100, CriticalFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := masteryWithTarget(t, 60)
			test := NewSuccessTest(m, Roll{Total: tc.roll}, "hero", nil)
			require.True(t, test.Evaluate())
			assert.Equal(t, tc.level, test.Level())
		})
	}
}

func TestSuccessTest_ShiftCrossesBands(t *testing.T) {
	m := masteryWithTarget(t, 60)
	m.SetSuccessLevelMod(1)

	// 62 is a marginal failure; the shift lifts it to a marginal success.
	test := NewSuccessTest(m, Roll{Total: 62}, "hero", nil)
	require.True(t, test.Evaluate())
	assert.Equal(t, MarginalSuccess, test.Level())
	assert.True(t, test.IsSuccess())
	assert.False(t, test.IsCritical())
}

func TestSuccessTest_ShiftBeyondScaleStaysCritical(t *testing.T) {
	m := masteryWithTarget(t, 60)
	m.SetSuccessLevelMod(3)

	test := NewSuccessTest(m, Roll{Total: 45}, "hero", nil)
	require.True(t, test.Evaluate())

	// Critical success plus three sits past the named scale but still
	// counts as a critical success.
	assert.Equal(t, SuccessLevel(5), test.Level())
	assert.True(t, test.IsCritical())
	assert.Equal(t, CriticalSuccess, test.NormLevel())
}

func TestSuccessTest_NoCritsClampToMarginalBand(t *testing.T) {
	m := masteryWithTarget(t, 60)
	require.NoError(t, m.SetCritDigits(nil, nil))
	m.SetSuccessLevelMod(4)

	test := NewSuccessTest(m, Roll{Total: 99}, "hero", nil)
	require.True(t, test.Evaluate())
	assert.Equal(t, MarginalSuccess, test.Level())
	assert.False(t, test.IsCritical())

	down := masteryWithTarget(t, 60)
	require.NoError(t, down.SetCritDigits(nil, nil))
	down.SetSuccessLevelMod(-4)

	test = NewSuccessTest(down, Roll{Total: 15}, "hero", nil)
	require.True(t, test.Evaluate())
	assert.Equal(t, MarginalFailure, test.Level())
}

func TestSuccessTest_NormLevelFoldsShiftedLevels(t *testing.T) {
	cases := []struct {
		shift int
		roll  int
		norm  SuccessLevel
	}{
		{0, 42, MarginalSuccess},
		{0, 45, CriticalSuccess},
		{2, 62, CriticalSuccess},
		{-1, 42, MarginalFailure},
		{-2, 62, CriticalFailure},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("roll %d shift %d", tc.roll, tc.shift)
		t.Run(name, func(t *testing.T) {
			m := masteryWithTarget(t, 60)
			m.SetSuccessLevelMod(tc.shift)
			test := NewSuccessTest(m, Roll{Total: tc.roll}, "hero", nil)
			require.True(t, test.Evaluate())
			assert.Equal(t, tc.norm, test.NormLevel())
		})
	}
}

func TestSuccessTest_EvaluatesOnce(t *testing.T) {
	m := masteryWithTarget(t, 60)
	test := NewSuccessTest(m, Roll{Total: 42}, "hero", nil)
	require.True(t, test.Evaluate())
	level := test.Level()

	// Re-evaluation is a no-op even if the snapshot is mutated afterwards.
	require.NoError(t, test.Mastery().Add(SourceInjury, "Wounded", -50))
	assert.True(t, test.Evaluate())
	assert.Equal(t, level, test.Level())
}

func TestSuccessTest_CappedReflectsTargetRange(t *testing.T) {
	m := masteryWithTarget(t, 70)
	m.SetTargetRange(0, 60)

	test := NewSuccessTest(m, Roll{Total: 65}, "hero", nil)
	require.True(t, test.Evaluate())

	// 65 would beat the raw 70 but the capped target is 60.
	assert.True(t, test.Capped())
	assert.False(t, test.IsSuccess())
	assert.Equal(t, 60.0, test.Target())
}

func TestSuccessTest_DefaultOutcomeText(t *testing.T) {
	m := masteryWithTarget(t, 60)
	test := NewSuccessTest(m, Roll{Total: 42}, "hero", nil)
	test.label = "Blades"
	require.True(t, test.Evaluate())

	out := test.Outcome()
	assert.Equal(t, "Blades", out.Label)
	assert.Equal(t, "Blades: marginal success", out.Description)
	assert.True(t, out.Success)
}

func TestSuccessTest_OutcomeTableBands(t *testing.T) {
	m := masteryWithTarget(t, 35)
	m.SetOutcomeTable(OutcomeTable{
		{MaxValue: 40, Label: "Shaky", Description: "Barely holds", Success: true, Result: 1},
		{MaxValue: 100, Label: "Solid", Description: "Holds firm", Success: true, Result: 2},
	})

	test := NewSuccessTest(m, Roll{Total: 22}, "hero", nil)
	require.True(t, test.Evaluate())

	out := test.Outcome()
	assert.Equal(t, "Shaky", out.Label)
	assert.Equal(t, 1.0, out.Result)
}

func TestSuccessTest_OutcomeTableLastDigitSubEntries(t *testing.T) {
	m := masteryWithTarget(t, 50)
	m.SetOutcomeTable(OutcomeTable{
		{
			MaxValue: 100,
			Sub: []OutcomeBand{
				{LastDigits: []int{0, 1, 2, 3, 4}, Label: "Low", Result: 1},
				{LastDigits: []int{5, 6, 7, 8, 9}, Label: "High", Result: 2},
			},
		},
	})

	low := NewSuccessTest(m, Roll{Total: 23}, "hero", nil)
	require.True(t, low.Evaluate())
	assert.Equal(t, "Low", low.Outcome().Label)

	high := NewSuccessTest(m, Roll{Total: 27}, "hero", nil)
	require.True(t, high.Evaluate())
	assert.Equal(t, "High", high.Outcome().Label)
}

func TestSuccessTest_OutcomeTableFunctionVariants(t *testing.T) {
	m := masteryWithTarget(t, 50)
	m.SetOutcomeTable(OutcomeTable{
		{
			MaxValue: 100,
			LabelFunc: func(st *SuccessTest) string {
				return fmt.Sprintf("rolled %d", st.Roll().Total)
			},
			ResultFunc: func(st *SuccessTest) float64 {
				return st.Target() - float64(st.Roll().Total)
			},
		},
	})

	test := NewSuccessTest(m, Roll{Total: 30}, "hero", nil)
	require.True(t, test.Evaluate())

	out := test.Outcome()
	assert.Equal(t, "rolled 30", out.Label)
	assert.Equal(t, 20.0, out.Result)
}

func TestSuccessLevel_String(t *testing.T) {
	assert.Equal(t, "critical failure", CriticalFailure.String())
	assert.Equal(t, "marginal failure", MarginalFailure.String())
	assert.Equal(t, "marginal success", MarginalSuccess.String())
	assert.Equal(t, "critical success", CriticalSuccess.String())
	assert.Equal(t, "critical success", SuccessLevel(4).String())
}
