package encounter

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greymarch/greymarch-server/internal/rules"
)

// EntryKind discriminates journal entries.
type EntryKind string

const (
	EntrySuccess EntryKind = "success_test"
	EntryOpposed EntryKind = "opposed_test"
)

// Entry is one resolved test in an encounter's record. It carries the full
// semantic snapshot, so replaying the journal re-derives every
// classification without the original actors.
type Entry struct {
	Seq      int                    `json:"seq"`
	Kind     EntryKind              `json:"kind"`
	Recorded time.Time              `json:"recorded"`
	Round    int                    `json:"round,omitempty"`
	Test     *rules.TestSnapshot    `json:"test,omitempty"`
	Opposed  *rules.OpposedSnapshot `json:"opposed,omitempty"`
	Checksum string                 `json:"checksum"`
}

// Journal is the append-only record of an encounter's resolved tests, with
// a cursor for stepping through playback.
type Journal struct {
	entries []Entry
	cursor  int
	mu      sync.RWMutex
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// RecordTest appends an evaluated success test. Unevaluated tests are not
// journal material and are skipped.
func (j *Journal) RecordTest(round int, t *rules.SuccessTest) {
	if t == nil || !t.Evaluated() {
		return
	}
	snap := t.Snapshot()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{
		Seq:      len(j.entries) + 1,
		Kind:     EntrySuccess,
		Recorded: time.Now(),
		Round:    round,
		Test:     &snap,
		Checksum: snap.Checksum(),
	})
}

// RecordOpposed appends an evaluated contest.
func (j *Journal) RecordOpposed(round int, o *rules.OpposedTest) {
	if o == nil || !o.Evaluated() {
		return
	}
	snap := o.Snapshot()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{
		Seq:      len(j.entries) + 1,
		Kind:     EntryOpposed,
		Recorded: time.Now(),
		Round:    round,
		Opposed:  &snap,
		Checksum: snap.Checksum(),
	})
}

// Size returns the number of recorded entries.
func (j *Journal) Size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Entries returns a copy of the full record.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Entry(nil), j.entries...)
}

// EntryAt returns the entry at a specific index.
func (j *Journal) EntryAt(index int) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if index < 0 || index >= len(j.entries) {
		return Entry{}, false
	}
	return j.entries[index], true
}

// Start resets the playback cursor to the beginning.
func (j *Journal) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cursor = 0
}

// Next returns the entry under the cursor and advances it. The second
// return is false past the end.
func (j *Journal) Next() (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cursor >= len(j.entries) {
		return Entry{}, false
	}
	e := j.entries[j.cursor]
	j.cursor++
	return e, true
}

// Previous steps the cursor back and returns the entry there.
func (j *Journal) Previous() (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cursor <= 0 {
		return Entry{}, false
	}
	j.cursor--
	return j.entries[j.cursor], true
}

// Replay re-derives every recorded classification from its snapshot and
// checks it matches what was stored. Rolls are never re-sampled, so a clean
// journal always replays clean; a mismatch means the record was tampered
// with or the entry predates a rules change.
func (j *Journal) Replay() error {
	for _, e := range j.Entries() {
		if err := replayEntry(e); err != nil {
			return fmt.Errorf("journal entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

func replayEntry(e Entry) error {
	switch e.Kind {
	case EntrySuccess:
		if e.Test == nil {
			return fmt.Errorf("missing test snapshot")
		}
		if e.Checksum != e.Test.Checksum() {
			return fmt.Errorf("checksum mismatch")
		}
		return replayTest(*e.Test)
	case EntryOpposed:
		if e.Opposed == nil {
			return fmt.Errorf("missing opposed snapshot")
		}
		if e.Checksum != e.Opposed.Checksum() {
			return fmt.Errorf("checksum mismatch")
		}
		if err := replayTest(e.Opposed.Source); err != nil {
			return fmt.Errorf("source leg: %w", err)
		}
		if err := replayTest(e.Opposed.Target); err != nil {
			return fmt.Errorf("target leg: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

func replayTest(s rules.TestSnapshot) error {
	if s.Level == nil {
		return fmt.Errorf("entry was never evaluated")
	}
	restored, err := rules.RestoreSuccessTest(s)
	if err != nil {
		return err
	}
	restored.Evaluate()
	if got := int(restored.Level()); got != *s.Level {
		return fmt.Errorf("replay level %d, recorded %d", got, *s.Level)
	}
	return nil
}

// journalFileHeader fronts a saved journal file.
type journalFileHeader struct {
	EncounterID string    `json:"encounter_id"`
	SavedAt     time.Time `json:"saved_at"`
	Version     int       `json:"version"`
	EntryCount  int       `json:"entry_count"`
}

const journalFileVersion = 1

// SaveToFile writes the journal to a gzipped JSON stream named after the
// encounter.
func (j *Journal) SaveToFile(directory, encounterID string) error {
	entries := j.Entries()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", encounterID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	encoder := json.NewEncoder(gzipWriter)
	header := journalFileHeader{
		EncounterID: encounterID,
		SavedAt:     time.Now(),
		Version:     journalFileVersion,
		EntryCount:  len(entries),
	}
	if err := encoder.Encode(&header); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}

	return nil
}

// LoadJournalFromFile reads a journal saved by SaveToFile.
func LoadJournalFromFile(directory, encounterID string) (*Journal, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.journal", encounterID))

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := json.NewDecoder(gzipReader)

	var header journalFileHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if header.Version != journalFileVersion {
		return nil, fmt.Errorf("unsupported journal version: %d", header.Version)
	}

	journal := NewJournal()
	for i := 0; i < header.EntryCount; i++ {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		journal.entries = append(journal.entries, entry)
	}

	return journal, nil
}
