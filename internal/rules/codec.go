package rules

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Snapshots persist semantic state only: the base value and the raw deltas.
// The reduced effective value is never stored; restoring recomputes it, and
// the fixed significant-digit rounding makes the recomputed value reproduce
// the original bit for bit.

// DeltaSnapshot is the persisted form of one delta.
type DeltaSnapshot struct {
	Source Source   `json:"source"`
	Abbrev string   `json:"abbrev"`
	Op     string   `json:"op"`
	Value  *float64 `json:"value,omitempty"`
	Flag   *bool    `json:"flag,omitempty"`
}

// ModifierSnapshot is the persisted form of a modifier.
type ModifierSnapshot struct {
	Base     *float64        `json:"base,omitempty"`
	Disabled string          `json:"disabled,omitempty"`
	Deltas   []DeltaSnapshot `json:"deltas,omitempty"`
}

// MasterySnapshot is the persisted form of a mastery modifier. Infinite
// target bounds are omitted. Outcome tables carry text only; function
// variants are rebuilt by the owning trait after restore.
type MasterySnapshot struct {
	ModifierSnapshot

	MinTarget         *float64              `json:"min_target,omitempty"`
	MaxTarget         *float64              `json:"max_target,omitempty"`
	SuccessLevelMod   int                   `json:"success_level_mod,omitempty"`
	CritSuccessDigits []int                 `json:"crit_success_digits,omitempty"`
	CritFailureDigits []int                 `json:"crit_failure_digits,omitempty"`
	Table             []OutcomeBandSnapshot `json:"table,omitempty"`
}

// OutcomeBandSnapshot is the persisted form of one outcome band.
type OutcomeBandSnapshot struct {
	MaxValue    float64               `json:"max_value"`
	LastDigits  []int                 `json:"last_digits,omitempty"`
	Sub         []OutcomeBandSnapshot `json:"sub,omitempty"`
	Label       string                `json:"label,omitempty"`
	Description string                `json:"description,omitempty"`
	Success     bool                  `json:"success,omitempty"`
	Result      float64               `json:"result,omitempty"`
}

// TestSnapshot is the persisted form of an evaluated success test: the
// mastery snapshot it rolled against, the roll, the shift, and the stored
// classification so display needs no re-evaluation.
type TestSnapshot struct {
	Mastery MasterySnapshot `json:"mastery"`
	Roll    int             `json:"roll"`
	ActorID string          `json:"actor_id,omitempty"`
	Label   string          `json:"label,omitempty"`
	Shift   int             `json:"shift,omitempty"`
	Level   *int            `json:"level,omitempty"`
}

// OpposedSnapshot is the persisted form of a contest.
type OpposedSnapshot struct {
	Source    TestSnapshot `json:"source"`
	Target    TestSnapshot `json:"target"`
	TieBreak  string       `json:"tie_break,omitempty"`
	BreakTies bool         `json:"break_ties,omitempty"`
}

// Snapshot captures the modifier's semantic state.
func (m *Modifier) Snapshot() ModifierSnapshot {
	s := ModifierSnapshot{Disabled: m.disabled}
	if m.hasBase {
		base := m.base
		s.Base = &base
	}
	for _, d := range m.deltas {
		s.Deltas = append(s.Deltas, snapshotDelta(d))
	}
	return s
}

func snapshotDelta(d Delta) DeltaSnapshot {
	ds := DeltaSnapshot{
		Source: d.source,
		Abbrev: d.abbrev,
		Op:     d.op.String(),
	}
	if d.value.kind == KindFlag {
		flag := d.value.flag
		ds.Flag = &flag
	} else {
		num := d.value.num
		ds.Value = &num
	}
	return ds
}

// RestoreModifier rebuilds a modifier from its snapshot. Deltas are restored
// verbatim, bypassing upsert rules, since the snapshot was produced from a
// modifier on which those rules already ran. Custom deltas restore inert
// until their handlers are re-registered.
func RestoreModifier(s ModifierSnapshot) (*Modifier, error) {
	m := &Modifier{disabled: s.Disabled}
	if s.Base != nil {
		m.base = *s.Base
		m.hasBase = true
	}
	for _, ds := range s.Deltas {
		d, err := restoreDelta(ds)
		if err != nil {
			return nil, err
		}
		m.deltas = append(m.deltas, d)
	}
	m.recompute()
	return m, nil
}

func restoreDelta(ds DeltaSnapshot) (Delta, error) {
	op, err := ParseOp(ds.Op)
	if err != nil {
		return Delta{}, err
	}
	var v Value
	switch {
	case ds.Flag != nil:
		v = Flag(*ds.Flag)
	case ds.Value != nil:
		v = Number(*ds.Value)
	default:
		return Delta{}, fmt.Errorf("%w: delta %q has no payload", ErrValueKind, ds.Abbrev)
	}
	return NewDelta(ds.Source, ds.Abbrev, op, v)
}

// Snapshot captures the mastery modifier's semantic state.
func (m *MasteryModifier) Snapshot() MasterySnapshot {
	s := MasterySnapshot{
		ModifierSnapshot:  m.Modifier.Snapshot(),
		SuccessLevelMod:   m.successLevelMod,
		CritSuccessDigits: append([]int(nil), m.critSuccessDigits...),
		CritFailureDigits: append([]int(nil), m.critFailureDigits...),
	}
	if !math.IsInf(m.minTarget, -1) {
		v := m.minTarget
		s.MinTarget = &v
	}
	if !math.IsInf(m.maxTarget, 1) {
		v := m.maxTarget
		s.MaxTarget = &v
	}
	for _, band := range m.table {
		s.Table = append(s.Table, snapshotBand(band))
	}
	return s
}

func snapshotBand(b OutcomeBand) OutcomeBandSnapshot {
	out := OutcomeBandSnapshot{
		MaxValue:    b.MaxValue,
		LastDigits:  append([]int(nil), b.LastDigits...),
		Label:       b.Label,
		Description: b.Description,
		Success:     b.Success,
		Result:      b.Result,
	}
	for _, sub := range b.Sub {
		out.Sub = append(out.Sub, snapshotBand(sub))
	}
	return out
}

// RestoreMastery rebuilds a mastery modifier from its snapshot.
func RestoreMastery(s MasterySnapshot) (*MasteryModifier, error) {
	base, err := RestoreModifier(s.ModifierSnapshot)
	if err != nil {
		return nil, err
	}
	m := &MasteryModifier{
		Modifier:        *base,
		minTarget:       math.Inf(-1),
		maxTarget:       math.Inf(1),
		successLevelMod: s.SuccessLevelMod,
	}
	if s.MinTarget != nil {
		m.minTarget = *s.MinTarget
	}
	if s.MaxTarget != nil {
		m.maxTarget = *s.MaxTarget
	}
	if err := m.SetCritDigits(s.CritSuccessDigits, s.CritFailureDigits); err != nil {
		return nil, err
	}
	table := make(OutcomeTable, 0, len(s.Table))
	for _, bs := range s.Table {
		table = append(table, restoreBand(bs))
	}
	m.SetOutcomeTable(table)
	return m, nil
}

func restoreBand(bs OutcomeBandSnapshot) OutcomeBand {
	b := OutcomeBand{
		MaxValue:    bs.MaxValue,
		LastDigits:  append([]int(nil), bs.LastDigits...),
		Label:       bs.Label,
		Description: bs.Description,
		Success:     bs.Success,
		Result:      bs.Result,
	}
	for _, sub := range bs.Sub {
		b.Sub = append(b.Sub, restoreBand(sub))
	}
	return b
}

// Snapshot captures the test's semantic state, including the stored
// classification when the test has been evaluated.
func (t *SuccessTest) Snapshot() TestSnapshot {
	s := TestSnapshot{
		Mastery: t.mastery.Snapshot(),
		Roll:    t.roll.Total,
		ActorID: t.actorID,
		Label:   t.label,
		Shift:   t.shift,
	}
	if t.evaluated {
		level := int(t.level)
		s.Level = &level
	}
	return s
}

// RestoreSuccessTest rebuilds an unevaluated test from its snapshot. The
// caller re-evaluates; determinism guarantees the stored classification is
// reproduced, which VerifyTestRoundtrip checks.
func RestoreSuccessTest(s TestSnapshot) (*SuccessTest, error) {
	m, err := RestoreMastery(s.Mastery)
	if err != nil {
		return nil, err
	}
	t := &SuccessTest{
		mastery: m,
		roll:    Roll{Total: s.Roll},
		actorID: s.ActorID,
		label:   s.Label,
		shift:   s.Shift,
	}
	return t, nil
}

// Snapshot captures the contest's semantic state.
func (o *OpposedTest) Snapshot() OpposedSnapshot {
	return OpposedSnapshot{
		Source:    o.source.Snapshot(),
		Target:    o.target.Snapshot(),
		TieBreak:  o.tieBreak.String(),
		BreakTies: o.breakTies,
	}
}

// MarshalModifier encodes the snapshot as JSON.
func MarshalModifier(m *Modifier) ([]byte, error) {
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal modifier: %w", err)
	}
	return data, nil
}

// UnmarshalModifier decodes and restores a modifier from JSON.
func UnmarshalModifier(data []byte) (*Modifier, error) {
	var s ModifierSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal modifier: %w", err)
	}
	return RestoreModifier(s)
}

// Checksum computes a deterministic SHA-256 over the canonical form of the
// snapshot. Two snapshots with the same semantic state hash identically
// regardless of how they were produced.
func (s ModifierSnapshot) Checksum() string {
	var buf bytes.Buffer
	if s.Base != nil {
		buf.WriteString(fmt.Sprintf("BASE:%s\n", formatNumber(*s.Base)))
	}
	if s.Disabled != "" {
		buf.WriteString(fmt.Sprintf("DISABLED:%s\n", s.Disabled))
	}
	for _, d := range s.Deltas {
		buf.WriteString(fmt.Sprintf("DELTA:%s|%s|%s|%s\n",
			d.Source,
			d.Abbrev,
			d.Op,
			deltaPayload(d),
		))
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func deltaPayload(d DeltaSnapshot) string {
	if d.Flag != nil {
		return fmt.Sprintf("%t", *d.Flag)
	}
	if d.Value != nil {
		return formatNumber(*d.Value)
	}
	return ""
}

// Checksum extends the modifier checksum with the mastery fields.
func (s MasterySnapshot) Checksum() string {
	var buf bytes.Buffer
	buf.WriteString(s.ModifierSnapshot.Checksum())
	buf.WriteString("\n")
	if s.MinTarget != nil {
		buf.WriteString(fmt.Sprintf("MIN:%s\n", formatNumber(*s.MinTarget)))
	}
	if s.MaxTarget != nil {
		buf.WriteString(fmt.Sprintf("MAX:%s\n", formatNumber(*s.MaxTarget)))
	}
	buf.WriteString(fmt.Sprintf("SHIFT:%d\n", s.SuccessLevelMod))
	buf.WriteString(fmt.Sprintf("CRITS:%s\n", joinDigits(s.CritSuccessDigits)))
	buf.WriteString(fmt.Sprintf("CRITF:%s\n", joinDigits(s.CritFailureDigits)))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func joinDigits(digits []int) string {
	parts := make([]string, len(digits))
	for i, d := range digits {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, ",")
}

// Checksum extends the mastery checksum with the roll and classification,
// fingerprinting one evaluated test for journals and result stores.
func (s TestSnapshot) Checksum() string {
	var buf bytes.Buffer
	buf.WriteString(s.Mastery.Checksum())
	buf.WriteString("\n")
	buf.WriteString(fmt.Sprintf("ROLL:%d\n", s.Roll))
	buf.WriteString(fmt.Sprintf("ACTOR:%s\n", s.ActorID))
	buf.WriteString(fmt.Sprintf("LABEL:%s\n", s.Label))
	buf.WriteString(fmt.Sprintf("SHIFT:%d\n", s.Shift))
	if s.Level != nil {
		buf.WriteString(fmt.Sprintf("LEVEL:%d\n", *s.Level))
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Checksum fingerprints a contest from both leg checksums and the
// tie-break policy.
func (s OpposedSnapshot) Checksum() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("SOURCE:%s\n", s.Source.Checksum()))
	buf.WriteString(fmt.Sprintf("TARGET:%s\n", s.Target.Checksum()))
	buf.WriteString(fmt.Sprintf("TIEBREAK:%s|%t\n", s.TieBreak, s.BreakTies))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// VerifyModifierRoundtrip serializes, restores, and recomputes the modifier,
// then checks that the effective value and the checksum both survived.
func VerifyModifierRoundtrip(m *Modifier) error {
	data, err := MarshalModifier(m)
	if err != nil {
		return err
	}
	restored, err := UnmarshalModifier(data)
	if err != nil {
		return err
	}
	if restored.Effective() != m.Effective() {
		return fmt.Errorf("effective mismatch after roundtrip: %s != %s",
			formatNumber(restored.Effective()), formatNumber(m.Effective()))
	}
	if restored.Snapshot().Checksum() != m.Snapshot().Checksum() {
		return fmt.Errorf("checksum mismatch after roundtrip")
	}
	return nil
}

// VerifyTestRoundtrip restores an evaluated test from its snapshot,
// re-evaluates, and checks the stored classification is reproduced.
func VerifyTestRoundtrip(t *SuccessTest) error {
	s := t.Snapshot()
	if s.Level == nil {
		return fmt.Errorf("test not evaluated")
	}
	restored, err := RestoreSuccessTest(s)
	if err != nil {
		return err
	}
	restored.Evaluate()
	if restored.Level() != t.Level() {
		return fmt.Errorf("level mismatch after roundtrip: %d != %d",
			restored.Level(), t.Level())
	}
	if restored.Target() != t.Target() {
		return fmt.Errorf("target mismatch after roundtrip: %s != %s",
			formatNumber(restored.Target()), formatNumber(t.Target()))
	}
	return nil
}
