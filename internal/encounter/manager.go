package encounter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/actor"
	"github.com/greymarch/greymarch-server/internal/rules"
)

var (
	ErrEncounterNotFound = errors.New("encounter not found")
	ErrEncounterClosed   = errors.New("encounter closed")
	ErrActorNotFound     = errors.New("actor not in encounter")
	ErrSkillNotFound     = errors.New("skill not found")
	ErrPriorRequired     = errors.New("revision requires an evaluated prior test")
	ErrNoFate            = errors.New("no fate points left")
)

// TestRequest carries everything one success test needs: where it happens,
// who is being tested on what, and who is asking.
type TestRequest struct {
	EncounterID string
	ActorID     string
	Skill       string

	// User identifies the requesting session's account; Admin bypasses
	// actor ownership.
	User  string
	Admin bool

	// Label overrides the skill name in prompts and outcome text.
	Label string

	// SkipPrompt suppresses the situational prompt; Preset answers it
	// programmatically; Prompter is the interaction channel used otherwise.
	SkipPrompt bool
	Preset     *rules.PromptResponse
	Prompter   rules.Prompter

	// Roll fixes the percentile roll; Roller supplies one when Roll is nil.
	Roll   *rules.Roll
	Roller *rules.Roller
}

// OpposedRequest pairs two test requests into a contest.
type OpposedRequest struct {
	EncounterID string
	Source      TestRequest
	Target      TestRequest
	TieBreak    rules.TieBreak
	BreakTies   bool
}

// ReviseRequest re-applies a prior test after burning a fate point. The
// prior roll is kept; the bonus lands as a fate delta on the skill for
// exactly this revision.
type ReviseRequest struct {
	EncounterID string
	ActorID     string
	Skill       string
	User        string
	Admin       bool
	Prior       *rules.SuccessTest
	Bonus       float64
}

// Manager tracks open encounters and owns the test workflow that connects
// sessions, actors, and the rules engine.
type Manager struct {
	encounters map[string]*Encounter
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewManager creates a new encounter manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		encounters: make(map[string]*Encounter),
		logger:     logger,
	}
}

// CreateEncounter opens a new encounter run by the given game master.
func (m *Manager) CreateEncounter(name, gameMaster string) *Encounter {
	m.mu.Lock()
	defer m.mu.Unlock()

	enc := NewEncounter(name, gameMaster)
	m.encounters[enc.ID] = enc

	m.logger.Info("encounter created",
		zap.String("encounter_id", enc.ID),
		zap.String("name", name),
		zap.String("game_master", gameMaster),
	)

	return enc
}

// GetEncounter retrieves an encounter by ID.
func (m *Manager) GetEncounter(encounterID string) (*Encounter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enc, ok := m.encounters[encounterID]
	return enc, ok
}

// RemoveEncounter drops an encounter and its journal.
func (m *Manager) RemoveEncounter(encounterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.encounters, encounterID)

	m.logger.Info("encounter removed", zap.String("encounter_id", encounterID))
}

// GetAllEncounters returns all tracked encounters.
func (m *Manager) GetAllEncounters() []*Encounter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	encounters := make([]*Encounter, 0, len(m.encounters))
	for _, enc := range m.encounters {
		encounters = append(encounters, enc)
	}
	return encounters
}

// GetActiveEncounterCount returns the count of open encounters.
func (m *Manager) GetActiveEncounterCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, enc := range m.encounters {
		if enc.GetState() == StateOpen {
			count++
		}
	}
	return count
}

// CloseEncounter finishes an encounter. The journal stays readable until
// the encounter is removed.
func (m *Manager) CloseEncounter(encounterID string) error {
	enc, ok := m.GetEncounter(encounterID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEncounterNotFound, encounterID)
	}
	enc.Close()

	m.logger.Info("encounter closed",
		zap.String("encounter_id", encounterID),
		zap.Int("journal_entries", enc.Journal().Size()),
	)
	return nil
}

// RunSkillTest resolves one success test. The return contract mirrors the
// engine's: validation problems error, a dismissed prompt or cancelled
// context returns (nil, nil), and an ownership veto returns the test
// unevaluated.
func (m *Manager) RunSkillTest(ctx context.Context, req TestRequest) (*rules.SuccessTest, error) {
	enc, a, skill, err := m.resolveSkill(req.EncounterID, req.ActorID, req.Skill)
	if err != nil {
		return nil, err
	}

	test, err := skill.SuccessTest(ctx, rules.TestContext{
		ActorID:    req.ActorID,
		Auth:       m.ownershipAuthorizer(enc, req.User, req.Admin),
		Roll:       req.Roll,
		Roller:     req.Roller,
		Preset:     req.Preset,
		SkipPrompt: req.SkipPrompt,
		Prompter:   req.Prompter,
		Label:      m.testLabel(req),
	})
	if err != nil {
		return nil, fmt.Errorf("test %s/%s: %w", req.ActorID, req.Skill, err)
	}
	if test == nil {
		m.logger.Debug("test dismissed",
			zap.String("encounter_id", enc.ID),
			zap.String("actor_id", req.ActorID),
			zap.String("skill", req.Skill),
		)
		return nil, nil
	}
	if !test.Evaluated() {
		m.logger.Warn("test blocked by ownership",
			zap.String("encounter_id", enc.ID),
			zap.String("actor_id", req.ActorID),
			zap.String("user", req.User),
		)
		return test, nil
	}

	enc.Journal().RecordTest(enc.Round(), test)
	m.logger.Info("success test resolved",
		zap.String("encounter_id", enc.ID),
		zap.String("actor_id", a.ID()),
		zap.String("skill", req.Skill),
		zap.Int("roll", test.Roll().Total),
		zap.String("level", test.Level().String()),
	)
	return test, nil
}

// RunOpposedTest resolves a contest: the source leg first, then the target
// leg, then the comparison under the requested tie-break policy. A
// dismissed prompt on either leg calls off the whole contest.
func (m *Manager) RunOpposedTest(ctx context.Context, req OpposedRequest) (*rules.OpposedTest, error) {
	enc, ok := m.GetEncounter(req.EncounterID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEncounterNotFound, req.EncounterID)
	}
	if enc.GetState() != StateOpen {
		return nil, fmt.Errorf("%w: %s", ErrEncounterClosed, req.EncounterID)
	}

	req.Source.EncounterID = req.EncounterID
	req.Target.EncounterID = req.EncounterID

	source, err := m.buildLeg(ctx, enc, req.Source)
	if err != nil {
		return nil, fmt.Errorf("source leg: %w", err)
	}
	if source == nil {
		return nil, nil
	}

	target, err := m.buildLeg(ctx, enc, req.Target)
	if err != nil {
		return nil, fmt.Errorf("target leg: %w", err)
	}
	if target == nil {
		return nil, nil
	}

	opposed := rules.NewOpposedTest(source, target)
	opposed.SetTieBreak(req.TieBreak, req.BreakTies)
	if !opposed.Evaluate() {
		m.logger.Warn("opposed test blocked by ownership",
			zap.String("encounter_id", enc.ID),
			zap.String("source_actor", req.Source.ActorID),
			zap.String("target_actor", req.Target.ActorID),
		)
		return opposed, nil
	}

	enc.Journal().RecordOpposed(enc.Round(), opposed)
	m.logger.Info("opposed test resolved",
		zap.String("encounter_id", enc.ID),
		zap.String("source_actor", req.Source.ActorID),
		zap.String("target_actor", req.Target.ActorID),
		zap.Bool("source_wins", opposed.SourceWins()),
		zap.Bool("target_wins", opposed.TargetWins()),
		zap.Bool("tied", opposed.IsTied()),
	)
	return opposed, nil
}

// buildLeg constructs one contest leg without journaling it; the contest is
// journaled as a whole.
func (m *Manager) buildLeg(ctx context.Context, enc *Encounter, req TestRequest) (*rules.SuccessTest, error) {
	_, _, skill, err := m.resolveSkill(enc.ID, req.ActorID, req.Skill)
	if err != nil {
		return nil, err
	}

	return skill.SuccessTest(ctx, rules.TestContext{
		ActorID:    req.ActorID,
		Auth:       m.ownershipAuthorizer(enc, req.User, req.Admin),
		Roll:       req.Roll,
		Roller:     req.Roller,
		Preset:     req.Preset,
		SkipPrompt: req.SkipPrompt,
		Prompter:   req.Prompter,
		Label:      m.testLabel(req),
	})
}

// ReviseWithFate burns a fate point to re-apply a prior test with the bonus
// folded into the skill. The prior roll is reused, never re-rolled. The
// fate delta is swept by a fresh pass as soon as the revision resolves.
func (m *Manager) ReviseWithFate(ctx context.Context, req ReviseRequest) (*rules.SuccessTest, error) {
	enc, a, skill, err := m.resolveSkill(req.EncounterID, req.ActorID, req.Skill)
	if err != nil {
		return nil, err
	}
	if req.Prior == nil || !req.Prior.Evaluated() {
		return nil, ErrPriorRequired
	}
	if req.Prior.ActorID() != req.ActorID {
		return nil, fmt.Errorf("%w: prior belongs to %s", ErrPriorRequired, req.Prior.ActorID())
	}

	auth := m.ownershipAuthorizer(enc, req.User, req.Admin)
	burned := false
	if auth.CanTest(req.ActorID) {
		if !a.BurnFateForRevision(req.Skill, req.Bonus) {
			return nil, fmt.Errorf("%w: actor %s", ErrNoFate, req.ActorID)
		}
		burned = true
	}

	test, err := skill.SuccessTest(ctx, rules.TestContext{
		ActorID:    req.ActorID,
		Auth:       auth,
		Prior:      req.Prior,
		SkipPrompt: true,
	})

	// The fate delta's window is exactly this revision; rebuild to sweep it.
	if burned {
		if passErr := a.RunPass(m.logger); passErr != nil {
			m.logger.Error("pass after fate revision failed",
				zap.String("actor_id", a.ID()),
				zap.Error(passErr),
			)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("revise %s/%s: %w", req.ActorID, req.Skill, err)
	}
	if test == nil {
		if burned {
			a.Tallies().Add(actor.TallyFate, actor.FateRevisionCost)
		}
		return nil, nil
	}
	if !test.Evaluated() {
		m.logger.Warn("revision blocked by ownership",
			zap.String("encounter_id", enc.ID),
			zap.String("actor_id", req.ActorID),
			zap.String("user", req.User),
		)
		return test, nil
	}

	enc.Journal().RecordTest(enc.Round(), test)
	m.logger.Info("fate revision resolved",
		zap.String("encounter_id", enc.ID),
		zap.String("actor_id", a.ID()),
		zap.String("skill", req.Skill),
		zap.Int("roll", test.Roll().Total),
		zap.String("level", test.Level().String()),
		zap.Int("fate_left", a.FatePoints()),
	)
	return test, nil
}

// RunActorPass rebuilds one actor's modifiers on demand.
func (m *Manager) RunActorPass(encounterID, actorID string) error {
	enc, ok := m.GetEncounter(encounterID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEncounterNotFound, encounterID)
	}
	a, ok := enc.Actor(actorID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrActorNotFound, actorID)
	}
	return a.RunPass(m.logger)
}

// AdvanceRound ticks effects and reruns passes across an encounter.
func (m *Manager) AdvanceRound(encounterID string) (RoundReport, error) {
	enc, ok := m.GetEncounter(encounterID)
	if !ok {
		return RoundReport{}, fmt.Errorf("%w: %s", ErrEncounterNotFound, encounterID)
	}

	report, err := enc.AdvanceRound()
	if err != nil {
		return RoundReport{}, err
	}

	m.logger.Info("round advanced",
		zap.String("encounter_id", encounterID),
		zap.Int("round", report.Round),
		zap.Int("actors_with_expiries", len(report.Expired)),
	)
	return report, nil
}

func (m *Manager) resolveSkill(encounterID, actorID, skillName string) (*Encounter, *actor.Actor, *rules.MasteryModifier, error) {
	enc, ok := m.GetEncounter(encounterID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrEncounterNotFound, encounterID)
	}
	if enc.GetState() != StateOpen {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrEncounterClosed, encounterID)
	}
	a, ok := enc.Actor(actorID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrActorNotFound, actorID)
	}
	skill, ok := a.Skill(skillName)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s on actor %s", ErrSkillNotFound, skillName, actorID)
	}
	return enc, a, skill, nil
}

func (m *Manager) ownershipAuthorizer(enc *Encounter, user string, admin bool) rules.Authorizer {
	return rules.AuthorizerFunc(func(actorID string) bool {
		if admin {
			return true
		}
		return enc.OwnsActor(user, actorID)
	})
}

func (m *Manager) testLabel(req TestRequest) string {
	if req.Label != "" {
		return req.Label
	}
	return req.Skill
}
