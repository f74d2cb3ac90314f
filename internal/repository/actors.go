package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/greymarch/greymarch-server/internal/actor"
)

// ActorRepository manages archetype documents and per-encounter actor
// snapshots. Documents are stored as JSONB; effective values are never
// persisted, so restoring an actor reruns a trait pass.
type ActorRepository struct {
	db *DB
}

// NewActorRepository creates an actor repository backed by db.
func NewActorRepository(db *DB) *ActorRepository {
	return &ActorRepository{db: db}
}

// SaveArchetype inserts or replaces an archetype document.
func (r *ActorRepository) SaveArchetype(ctx context.Context, a actor.Archetype) error {
	if a.Name == "" {
		return errors.New("archetype name is required")
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding archetype %q: %w", a.Name, err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO archetypes (name, doc)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		a.Name, doc,
	)
	if err != nil {
		return fmt.Errorf("saving archetype %q: %w", a.Name, err)
	}
	return nil
}

// GetArchetype retrieves an archetype document by name.
// Returns nil, nil when no such archetype exists.
func (r *ActorRepository) GetArchetype(ctx context.Context, name string) (*actor.Archetype, error) {
	var doc []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT doc FROM archetypes WHERE name = $1`, name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying archetype %q: %w", name, err)
	}

	var a actor.Archetype
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("decoding archetype %q: %w", name, err)
	}
	return &a, nil
}

// ListArchetypes returns the stored archetype names in lexical order.
func (r *ActorRepository) ListArchetypes(ctx context.Context) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT name FROM archetypes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing archetypes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning archetype name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archetypes: %w", err)
	}
	return names, nil
}

// DeleteArchetype removes an archetype document.
func (r *ActorRepository) DeleteArchetype(ctx context.Context, name string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM archetypes WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting archetype %q: %w", name, err)
	}
	return nil
}

// SaveSnapshot upserts one actor snapshot under its encounter.
func (r *ActorRepository) SaveSnapshot(ctx context.Context, encounterID string, s actor.Snapshot) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot for actor %q: %w", s.ID, err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO actor_snapshots (encounter_id, actor_id, doc)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (encounter_id, actor_id) DO UPDATE SET doc = EXCLUDED.doc, saved_at = now()`,
		encounterID, s.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for actor %q: %w", s.ID, err)
	}
	return nil
}

// LoadSnapshot retrieves one actor snapshot.
// Returns nil, nil when no snapshot is stored.
func (r *ActorRepository) LoadSnapshot(ctx context.Context, encounterID, actorID string) (*actor.Snapshot, error) {
	var doc []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT doc FROM actor_snapshots WHERE encounter_id = $1 AND actor_id = $2`,
		encounterID, actorID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot for actor %q: %w", actorID, err)
	}

	var s actor.Snapshot
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot for actor %q: %w", actorID, err)
	}
	return &s, nil
}

// ListSnapshots returns every actor snapshot stored for an encounter.
func (r *ActorRepository) ListSnapshots(ctx context.Context, encounterID string) ([]actor.Snapshot, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT doc FROM actor_snapshots WHERE encounter_id = $1 ORDER BY actor_id`,
		encounterID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for encounter %q: %w", encounterID, err)
	}
	defer rows.Close()

	var snaps []actor.Snapshot
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		var s actor.Snapshot
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing snapshots for encounter %q: %w", encounterID, err)
	}
	return snaps, nil
}

// DeleteSnapshots removes every snapshot stored for an encounter.
func (r *ActorRepository) DeleteSnapshots(ctx context.Context, encounterID string) error {
	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM actor_snapshots WHERE encounter_id = $1`, encounterID)
	if err != nil {
		return fmt.Errorf("deleting snapshots for encounter %q: %w", encounterID, err)
	}
	return nil
}
