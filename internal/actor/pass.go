// Package actor models Greymarch characters: attribute and skill modifiers
// owned by an actor and rebuilt by trait passes, plus the wound, fatigue,
// and fate bookkeeping that feeds deltas into them.
package actor

import (
	"fmt"

	"go.uber.org/zap"
)

// Phase names the three lifecycle stages of an evaluation pass.
type Phase int

const (
	PhaseInitialize Phase = iota
	PhaseEvaluate
	PhaseFinalize
)

var phaseNames = map[Phase]string{
	PhaseInitialize: "INITIALIZE",
	PhaseEvaluate:   "EVALUATE",
	PhaseFinalize:   "FINALIZE",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// Trait is a participant in an actor's evaluation pass. Initialize declares
// structure (modifiers, spawned participants), Evaluate emits deltas into
// the actor's modifiers, Finalize settles cross-cutting state such as
// incapacity. Trait methods must be idempotent within a pass; the pass
// visits each trait exactly once per phase.
type Trait interface {
	ID() string
	Initialize(p *Pass) error
	Evaluate(p *Pass) error
	Finalize(p *Pass) error
}

// Pass is one evaluation sweep over an actor's traits. Each phase walks a
// work queue seeded with the actor's traits; processing a trait may spawn
// further participants, which join the queue and are caught up on the
// phases the pass already ran.
type Pass struct {
	actor *Actor
	log   *zap.Logger

	phase   Phase
	queue   []Trait
	visited map[string]bool
}

// Actor returns the actor under evaluation.
func (p *Pass) Actor() *Actor {
	return p.actor
}

// Log returns the pass logger.
func (p *Pass) Log() *zap.Logger {
	return p.log
}

// Phase returns the phase currently running.
func (p *Pass) Phase() Phase {
	return p.phase
}

// Spawn registers a trait mid-pass. Spawned traits are virtual: they live
// for this pass only and are re-spawned by their owners next pass. The new
// trait is caught up on completed phases, then queued for the current one.
// Spawning an ID that already participated is a no-op.
func (p *Pass) Spawn(t Trait) error {
	if p.actor.hasTrait(t.ID()) {
		return nil
	}
	p.actor.addVirtualTrait(t)
	for ph := PhaseInitialize; ph < p.phase; ph++ {
		if err := applyPhase(t, ph, p); err != nil {
			return fmt.Errorf("catch up %s on spawned trait %s: %w", ph, t.ID(), err)
		}
	}
	p.queue = append(p.queue, t)
	return nil
}

func (p *Pass) runPhase(phase Phase) error {
	p.phase = phase
	p.visited = make(map[string]bool)
	p.queue = append(p.queue[:0], p.actor.traits...)

	for len(p.queue) > 0 {
		t := p.queue[0]
		p.queue = p.queue[1:]
		if p.visited[t.ID()] {
			continue
		}
		p.visited[t.ID()] = true
		if err := applyPhase(t, phase, p); err != nil {
			return fmt.Errorf("%s %s: %w", phase, t.ID(), err)
		}
	}
	return nil
}

func applyPhase(t Trait, phase Phase, p *Pass) error {
	switch phase {
	case PhaseInitialize:
		return t.Initialize(p)
	case PhaseEvaluate:
		return t.Evaluate(p)
	default:
		return t.Finalize(p)
	}
}
