// Package history implements the bounded firing history store: a JSON blob
// of up to MaxRecords entries plus a per-firing CSV trace file, with
// eviction of the oldest record erasing its trace file (spec.md §4.5, §6).
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/edgeflow/kilnd/internal/kiln/errcode"
)

// MaxRecords bounds the history deque (spec.md §4.5, §8).
const MaxRecords = 20

// Outcome is how a firing ended.
type Outcome string

const (
	OutcomeComplete Outcome = "Complete"
	OutcomeAborted  Outcome = "Aborted"
	OutcomeError    Outcome = "Error"
)

// Record is a single completed (or terminated) firing. ProfileName is
// captured at firing time, not looked up from the profile store on read,
// so a record still names the profile it ran even after that profile is
// later edited or deleted (spec.md §3 HistoryRecord: "profile id+name").
type Record struct {
	ID          string                  `json:"id"`
	ProfileID   string                  `json:"profile_id"`
	ProfileName string                  `json:"profile_name"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	Outcome     Outcome                 `json:"outcome"`
	ErrorCode   errcode.FiringErrorCode `json:"error_code,omitempty"`
	PeakTempC   float64                 `json:"peak_temp_c"`
}

// Store persists firing history as a single JSON blob (history.json) plus
// one CSV trace file per firing (trc_<id>.csv).
type Store struct {
	mu       sync.Mutex
	jsonPath string
	traceDir string
	records  []Record // newest first
}

// NewStore loads history.json from dir if present, else starts empty.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	s := &Store{
		jsonPath: filepath.Join(dir, "history.json"),
		traceDir: dir,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.jsonPath)
	if os.IsNotExist(err) {
		s.records = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history.json: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse history.json: %w", err)
	}
	s.records = records
	return nil
}

func (s *Store) persist() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(s.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write history.json: %w", err)
	}
	return nil
}

// TracePath returns the CSV trace file path for a firing id.
func (s *Store) TracePath(firingID string) string {
	return filepath.Join(s.traceDir, fmt.Sprintf("trc_%s.csv", firingID))
}

// NewTrace creates (or truncates) a firing's CSV trace file with the
// mandated header row.
func (s *Store) NewTrace(firingID string) error {
	f, err := os.Create(s.TracePath(firingID))
	if err != nil {
		return fmt.Errorf("create trace file for %q: %w", firingID, err)
	}
	defer f.Close()
	if _, err := f.WriteString("time_s,temp_c\n"); err != nil {
		return fmt.Errorf("write trace header for %q: %w", firingID, err)
	}
	return nil
}

// AppendTraceSample appends one minute-resolution sample to a firing's
// trace file (spec.md §4.4).
func (s *Store) AppendTraceSample(firingID string, elapsedSeconds float64, tempC float64) error {
	f, err := os.OpenFile(s.TracePath(firingID), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file for %q: %w", firingID, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%.0f,%.2f\n", elapsedSeconds, tempC); err != nil {
		return fmt.Errorf("append trace sample for %q: %w", firingID, err)
	}
	return nil
}

// Append adds a new record to the front of the deque, evicting (and
// erasing the trace file of) the oldest record if the store is already at
// MaxRecords.
func (s *Store) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append([]Record{r}, s.records...)
	if len(s.records) > MaxRecords {
		evicted := s.records[len(s.records)-1]
		s.records = s.records[:len(s.records)-1]
		if err := os.Remove(s.TracePath(evicted.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("erase trace for evicted record %q: %w", evicted.ID, err)
		}
	}
	return s.persist()
}

// List returns all records, newest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// PruneOrphanedTraces removes trc_*.csv files in the trace directory that
// belong to no record in history.json and are older than minAge. A trace
// file with no matching record is normally the result of Append never
// being reached after NewTrace — an ungraceful shutdown mid-firing, since
// Append's own eviction already erases a record's trace file the moment it
// falls off the deque (spec.md §4.5). minAge guards against pruning the
// currently active firing's trace file, which by construction has no
// record yet. Returns the number of files removed.
func (s *Store) PruneOrphanedTraces(minAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.traceDir)
	if err != nil {
		return 0, fmt.Errorf("read trace dir: %w", err)
	}

	s.mu.Lock()
	known := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		known[r.ID] = true
	}
	s.mu.Unlock()

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "trc_") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "trc_"), ".csv")
		if known[id] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < minAge {
			continue
		}

		path := filepath.Join(s.traceDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove orphaned trace %q: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
