package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// Result kinds stored in the test_results table.
const (
	ResultKindTest    = "test"
	ResultKindOpposed = "opposed"
)

// ResultRecord is one persisted evaluated test.
type ResultRecord struct {
	ID          int64
	EncounterID string
	ActorID     string
	Label       string
	Round       int
	Kind        string
	Doc         []byte
	Checksum    string
	CreatedAt   time.Time
}

// ResultRepository persists evaluated test snapshots. Rows carry the JSON
// snapshot plus its checksum so replay tooling can detect drift without
// decoding the document.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a result repository backed by db.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// RecordTest stores one evaluated success test.
func (r *ResultRepository) RecordTest(ctx context.Context, encounterID string, round int, t *rules.SuccessTest) error {
	snap := t.Snapshot()
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding test snapshot: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO test_results (encounter_id, actor_id, label, round, kind, doc, checksum)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		encounterID, t.ActorID(), t.Label(), round, ResultKindTest, doc, snap.Checksum(),
	)
	if err != nil {
		return fmt.Errorf("recording test for actor %q: %w", t.ActorID(), err)
	}
	return nil
}

// RecordOpposed stores one evaluated contest. The source actor names the row.
func (r *ResultRepository) RecordOpposed(ctx context.Context, encounterID string, round int, o *rules.OpposedTest) error {
	snap := o.Snapshot()
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding opposed snapshot: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO test_results (encounter_id, actor_id, label, round, kind, doc, checksum)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		encounterID, o.Source().ActorID(), o.Source().Label(), round, ResultKindOpposed, doc, snap.Checksum(),
	)
	if err != nil {
		return fmt.Errorf("recording opposed test for actor %q: %w", o.Source().ActorID(), err)
	}
	return nil
}

// ListByEncounter returns every stored result for an encounter in insertion
// order.
func (r *ResultRepository) ListByEncounter(ctx context.Context, encounterID string) ([]ResultRecord, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, encounter_id, actor_id, label, round, kind, doc, checksum, created_at
		 FROM test_results WHERE encounter_id = $1 ORDER BY id`,
		encounterID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing results for encounter %q: %w", encounterID, err)
	}
	defer rows.Close()

	var records []ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(&rec.ID, &rec.EncounterID, &rec.ActorID, &rec.Label,
			&rec.Round, &rec.Kind, &rec.Doc, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing results for encounter %q: %w", encounterID, err)
	}
	return records, nil
}

// PruneEncounter deletes every stored result for an encounter.
func (r *ResultRepository) PruneEncounter(ctx context.Context, encounterID string) error {
	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM test_results WHERE encounter_id = $1`, encounterID)
	if err != nil {
		return fmt.Errorf("pruning results for encounter %q: %w", encounterID, err)
	}
	return nil
}
