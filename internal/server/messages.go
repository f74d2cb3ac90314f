package server

import (
	"encoding/json"

	"github.com/greymarch/greymarch-server/internal/actor"
	"github.com/greymarch/greymarch-server/internal/encounter"
	"github.com/greymarch/greymarch-server/internal/rules"
)

// WebSocket message types. Clients send requests; the gateway answers the
// sender and broadcasts resolved results to everyone in the encounter.
const (
	// Client -> server.
	MsgEncounterJoin  = "encounter.join"
	MsgEncounterLeave = "encounter.leave"
	MsgTestRequest    = "test.request"
	MsgTestReply      = "test.reply"
	MsgOpposedRequest = "opposed.request"
	MsgFateRevise     = "fate.revise"
	MsgActorPass      = "actor.pass"
	MsgRoundAdvance   = "round.advance"
	MsgJournalReplay  = "journal.replay"

	// Server -> client.
	MsgEncounterJoined  = "encounter.joined"
	MsgTestPrompt       = "test.prompt"
	MsgTestResult       = "test.result"
	MsgTestDismissed    = "test.dismissed"
	MsgTestBlocked      = "test.blocked"
	MsgOpposedResult    = "opposed.result"
	MsgActorState       = "actor.state"
	MsgRoundReport      = "round.report"
	MsgJournalReplayed  = "journal.replayed"
	MsgError            = "error"
)

// Envelope is the wire frame for every WebSocket message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload selects the encounter a client plays in.
type JoinPayload struct {
	EncounterID string `json:"encounter_id"`
}

// TestRequestPayload asks for one skill test.
type TestRequestPayload struct {
	EncounterID string `json:"encounter_id"`
	ActorID     string `json:"actor_id"`
	Skill       string `json:"skill"`
	Label       string `json:"label,omitempty"`
	SkipPrompt  bool   `json:"skip_prompt,omitempty"`
}

// PromptPayload is sent to the requesting client when a test wants a
// situational adjustment before evaluating.
type PromptPayload struct {
	PromptID string  `json:"prompt_id"`
	ActorID  string  `json:"actor_id"`
	Label    string  `json:"label"`
	Target   float64 `json:"target"`
}

// TestReplyPayload answers a prompt. Dismissed calls the test off.
type TestReplyPayload struct {
	PromptID        string  `json:"prompt_id"`
	Modifier        float64 `json:"modifier,omitempty"`
	SuccessLevelMod int     `json:"success_level_mod,omitempty"`
	Dismissed       bool    `json:"dismissed,omitempty"`
}

// OpposedLegPayload names one side of a contest.
type OpposedLegPayload struct {
	ActorID    string `json:"actor_id"`
	Skill      string `json:"skill"`
	Label      string `json:"label,omitempty"`
	SkipPrompt bool   `json:"skip_prompt,omitempty"`
}

// OpposedRequestPayload asks for a contest between two actors. TieBreak is
// "", "source", or "target"; BreakTies arms it.
type OpposedRequestPayload struct {
	EncounterID string            `json:"encounter_id"`
	Source      OpposedLegPayload `json:"source"`
	Target      OpposedLegPayload `json:"target"`
	TieBreak    string            `json:"tie_break,omitempty"`
	BreakTies   bool              `json:"break_ties,omitempty"`
}

// RevisePayload burns a fate point to re-read the last test the actor made
// with this skill. The original roll is kept.
type RevisePayload struct {
	EncounterID string  `json:"encounter_id"`
	ActorID     string  `json:"actor_id"`
	Skill       string  `json:"skill"`
	Bonus       float64 `json:"bonus,omitempty"`
}

// ActorPassPayload asks for a full trait pass, rebuilding the actor's
// modifiers.
type ActorPassPayload struct {
	EncounterID string `json:"encounter_id"`
	ActorID     string `json:"actor_id"`
}

// RoundAdvancePayload moves the encounter to the next round.
type RoundAdvancePayload struct {
	EncounterID string `json:"encounter_id"`
}

// JournalReplayPayload verifies the encounter journal end to end.
type JournalReplayPayload struct {
	EncounterID string `json:"encounter_id"`
}

// TestResultPayload reports one resolved success test. Snapshot carries the
// full persisted form; the flat fields are for display.
type TestResultPayload struct {
	EncounterID string             `json:"encounter_id"`
	ActorID     string             `json:"actor_id"`
	Label       string             `json:"label,omitempty"`
	Roll        int                `json:"roll"`
	Target      float64            `json:"target"`
	Level       int                `json:"level"`
	LevelName   string             `json:"level_name"`
	Success     bool               `json:"success"`
	Critical    bool               `json:"critical"`
	Outcome     string             `json:"outcome,omitempty"`
	Revised     bool               `json:"revised,omitempty"`
	Snapshot    rules.TestSnapshot `json:"snapshot"`
	Checksum    string             `json:"checksum"`
}

// OpposedResultPayload reports one resolved contest.
type OpposedResultPayload struct {
	EncounterID string                `json:"encounter_id"`
	Source      TestResultPayload     `json:"source"`
	Target      TestResultPayload     `json:"target"`
	SourceWins  bool                  `json:"source_wins"`
	TargetWins  bool                  `json:"target_wins"`
	BothFail    bool                  `json:"both_fail"`
	Tied        bool                  `json:"tied"`
	Snapshot    rules.OpposedSnapshot `json:"snapshot"`
	Checksum    string                `json:"checksum"`
}

// ActorStatePayload carries an actor snapshot after a pass or mutation.
type ActorStatePayload struct {
	EncounterID string         `json:"encounter_id"`
	Actor       actor.Snapshot `json:"actor"`
}

// EncounterStatePayload answers encounter.join.
type EncounterStatePayload struct {
	Encounter encounter.Snapshot `json:"encounter"`
}

// JournalReplayedPayload reports the replay verdict.
type JournalReplayedPayload struct {
	EncounterID string `json:"encounter_id"`
	Entries     int    `json:"entries"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

// ErrorPayload reports a failed request back to its sender.
type ErrorPayload struct {
	Request string `json:"request,omitempty"`
	Message string `json:"message"`
}

func testResultPayload(encounterID string, t *rules.SuccessTest, revised bool) TestResultPayload {
	snap := t.Snapshot()
	return TestResultPayload{
		EncounterID: encounterID,
		ActorID:     t.ActorID(),
		Label:       t.Label(),
		Roll:        t.Roll().Total,
		Target:      t.Target(),
		Level:       int(t.Level()),
		LevelName:   t.Level().String(),
		Success:     t.IsSuccess(),
		Critical:    t.IsCritical(),
		Outcome:     t.Outcome().Description,
		Revised:     revised,
		Snapshot:    snap,
		Checksum:    snap.Checksum(),
	}
}

func opposedResultPayload(encounterID string, o *rules.OpposedTest) OpposedResultPayload {
	snap := o.Snapshot()
	return OpposedResultPayload{
		EncounterID: encounterID,
		Source:      testResultPayload(encounterID, o.Source(), false),
		Target:      testResultPayload(encounterID, o.Target(), false),
		SourceWins:  o.SourceWins(),
		TargetWins:  o.TargetWins(),
		BothFail:    o.BothFail(),
		Tied:        o.IsTied(),
		Snapshot:    snap,
		Checksum:    snap.Checksum(),
	}
}
