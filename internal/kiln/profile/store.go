package profile

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Load when the profile id is absent from the
// index (spec.md §8: "load of a deleted profile fails with NotFound").
var ErrNotFound = fmt.Errorf("profile not found")

// Store is the SQLite-backed profile store: opaque blobs keyed by sanitized
// id, implementing the "opaque blob + index" key-schema contract of
// spec.md §6 as relational rows instead of flash pages.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the profile table in db and
// seeds the default profile set on first boot with an empty store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	if err := s.seedDefaultsIfEmpty(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create profiles schema: %w", err)
	}
	return nil
}

func (s *Store) seedDefaultsIfEmpty() error {
	n, err := s.Count()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, p := range DefaultProfiles() {
		if err := s.Save(p); err != nil {
			return fmt.Errorf("seed default profile %q: %w", p.ID, err)
		}
	}
	return nil
}

// Count returns the number of stored profiles.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

// Save upserts a profile. Adding a new profile when the store is already
// at MaxProfiles is rejected (spec.md §4.5, §8).
func (s *Store) Save(p Profile) error {
	p.ID = SanitizeID(p.ID)
	if err := p.Validate(); err != nil {
		return err
	}

	n, err := s.Count()
	if err != nil {
		return err
	}
	existing, err := s.exists(p.ID)
	if err != nil {
		return err
	}
	if !existing && n >= MaxProfiles {
		return fmt.Errorf("profile store full (max %d)", MaxProfiles)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %q: %w", p.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, p.ID, string(data))
	if err != nil {
		return fmt.Errorf("save profile %q: %w", p.ID, err)
	}
	return nil
}

func (s *Store) exists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM profiles WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check profile existence %q: %w", id, err)
	}
	return n > 0, nil
}

// Load returns the profile for id, or ErrNotFound.
func (s *Store) Load(id string) (Profile, error) {
	id = SanitizeID(id)
	var data string
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %q: %w", id, err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Profile{}, fmt.Errorf("unmarshal profile %q: %w", id, err)
	}
	return p, nil
}

// Delete removes a profile. Deleting a missing id is a no-op success
// (spec.md §4.5, §8).
func (s *Store) Delete(id string) error {
	id = SanitizeID(id)
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete profile %q: %w", id, err)
	}
	return nil
}

// List returns every stored profile.
func (s *Store) List() ([]Profile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		var p Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal profile row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
