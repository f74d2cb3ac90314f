package encounter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greymarch/greymarch-server/internal/actor"
)

// State represents the lifecycle of an encounter.
type State int

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ActorSummary captures one participant for external use.
type ActorSummary struct {
	ActorID       string             `json:"actor_id"`
	Name          string             `json:"name"`
	Owner         string             `json:"owner"`
	Incapacitated bool               `json:"incapacitated"`
	Tallies       []actor.TallyView  `json:"tallies,omitempty"`
	Skills        map[string]float64 `json:"skills,omitempty"`
}

// Snapshot captures a consistent view of an encounter.
type Snapshot struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	GameMaster string         `json:"game_master"`
	State      string         `json:"state"`
	Round      int            `json:"round"`
	Actors     []ActorSummary `json:"actors"`
	CreateTime time.Time      `json:"create_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
}

// RoundReport describes what a round advance did to the participants.
type RoundReport struct {
	Round   int                 `json:"round"`
	Expired map[string][]string `json:"expired,omitempty"`
}

// Encounter is a live scene: a set of actors under test, who owns each of
// them, the current round, and the journal of everything already resolved.
type Encounter struct {
	ID         string
	Name       string
	GameMaster string
	CreateTime time.Time

	state    State
	round    int
	endTime  *time.Time
	actors   map[string]*actor.Actor
	owners   map[string]string
	order    []string
	watchers map[string]bool
	journal  *Journal
	mu       sync.RWMutex
}

// NewEncounter creates an open encounter run by the given game master.
func NewEncounter(name, gameMaster string) *Encounter {
	return &Encounter{
		ID:         uuid.NewString(),
		Name:       name,
		GameMaster: gameMaster,
		CreateTime: time.Now(),
		state:      StateOpen,
		round:      1,
		actors:     make(map[string]*actor.Actor),
		owners:     make(map[string]string),
		watchers:   make(map[string]bool),
		journal:    NewJournal(),
	}
}

// AddActor places an actor into the encounter under the given owner.
func (e *Encounter) AddActor(owner string, a *actor.Actor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		return fmt.Errorf("encounter %s is closed", e.ID)
	}
	if _, exists := e.actors[a.ID()]; exists {
		return fmt.Errorf("actor %s already in encounter", a.ID())
	}

	e.actors[a.ID()] = a
	e.owners[a.ID()] = owner
	e.order = append(e.order, a.ID())
	return nil
}

// RemoveActor withdraws an actor from the encounter.
func (e *Encounter) RemoveActor(actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.actors[actorID]; !exists {
		return fmt.Errorf("actor %s not in encounter", actorID)
	}

	delete(e.actors, actorID)
	delete(e.owners, actorID)
	for i, id := range e.order {
		if id == actorID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Actor returns a participant by ID.
func (e *Encounter) Actor(actorID string) (*actor.Actor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.actors[actorID]
	return a, ok
}

// Owner returns the user who controls an actor.
func (e *Encounter) Owner(actorID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	owner, ok := e.owners[actorID]
	return owner, ok
}

// OwnsActor reports whether user controls the actor. The game master
// controls every actor in the encounter.
func (e *Encounter) OwnsActor(user, actorID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if user == e.GameMaster {
		_, present := e.actors[actorID]
		return present
	}
	return e.owners[actorID] == user
}

// ActorIDs returns participant IDs in join order.
func (e *Encounter) ActorIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]string(nil), e.order...)
}

// ActorCount returns the number of participants.
func (e *Encounter) ActorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.actors)
}

// AddWatcher registers an observer for the encounter.
func (e *Encounter) AddWatcher(user string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers[user] = true
}

// RemoveWatcher removes an observer.
func (e *Encounter) RemoveWatcher(user string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.watchers[user]; exists {
		delete(e.watchers, user)
		return true
	}
	return false
}

// Watchers returns all users currently observing the encounter.
func (e *Encounter) Watchers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	watchers := make([]string, 0, len(e.watchers))
	for w := range e.watchers {
		watchers = append(watchers, w)
	}
	return watchers
}

// Round returns the current round number.
func (e *Encounter) Round() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.round
}

// GetState returns the current state.
func (e *Encounter) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Close finishes the encounter. Closed encounters reject new actors and
// new tests but keep their journal readable.
func (e *Encounter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	now := time.Now()
	e.endTime = &now
}

// Journal returns the encounter's test record.
func (e *Encounter) Journal() *Journal {
	return e.journal
}

// AdvanceRound ticks every participant's timed effects and reruns their
// passes so expired effects stop contributing. It reports which effect
// labels ran out per actor.
func (e *Encounter) AdvanceRound() (RoundReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		return RoundReport{}, fmt.Errorf("encounter %s is closed", e.ID)
	}

	report := RoundReport{Expired: make(map[string][]string)}
	for _, id := range e.order {
		a := e.actors[id]
		if expired := a.TickEffects(); len(expired) > 0 {
			report.Expired[id] = expired
		}
		if err := a.RunPass(nil); err != nil {
			return RoundReport{}, fmt.Errorf("round advance: %w", err)
		}
	}

	e.round++
	report.Round = e.round
	return report, nil
}

// Snapshot returns a consistent copy of the encounter state.
func (e *Encounter) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	actors := make([]ActorSummary, 0, len(e.order))
	for _, id := range e.order {
		a := e.actors[id]
		summary := ActorSummary{
			ActorID:       a.ID(),
			Name:          a.Name(),
			Owner:         e.owners[id],
			Incapacitated: a.Incapacitated(),
			Tallies:       a.Tallies().Views(),
			Skills:        make(map[string]float64),
		}
		for _, name := range a.SkillNames() {
			if skill, ok := a.Skill(name); ok {
				summary.Skills[name] = skill.ConstrainedEffective()
			}
		}
		actors = append(actors, summary)
	}

	return Snapshot{
		ID:         e.ID,
		Name:       e.Name,
		GameMaster: e.GameMaster,
		State:      e.state.String(),
		Round:      e.round,
		Actors:     actors,
		CreateTime: e.CreateTime,
		EndTime:    cloneTime(e.endTime),
	}
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	cp := *src
	return &cp
}
