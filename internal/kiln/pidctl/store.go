package pidctl

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// GainStore persists PID gains as three scaled i32 values (spec.md §4.3,
// §6), loading DefaultGains() when nothing has been saved yet.
type GainStore struct {
	db *sql.DB
}

// NewGainStore opens (creating if necessary) the gains table.
func NewGainStore(db *sql.DB) (*GainStore, error) {
	s := &GainStore{db: db}
	schema := `
	CREATE TABLE IF NOT EXISTS pid_gains (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		kp INTEGER NOT NULL,
		ki INTEGER NOT NULL,
		kd INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create pid_gains schema: %w", err)
	}
	return s, nil
}

// Load returns the persisted gains, or DefaultGains() if absent.
func (s *GainStore) Load() (Gains, error) {
	var scaled ScaledGains
	err := s.db.QueryRow(`SELECT kp, ki, kd FROM pid_gains WHERE id = 1`).Scan(&scaled.Kp, &scaled.Ki, &scaled.Kd)
	if err == sql.ErrNoRows {
		return DefaultGains(), nil
	}
	if err != nil {
		return Gains{}, fmt.Errorf("load pid gains: %w", err)
	}
	return scaled.ToGains(), nil
}

// Save persists gains, scaled to fixed-point integers.
func (s *GainStore) Save(g Gains) error {
	scaled := g.ToScaled()
	_, err := s.db.Exec(`
		INSERT INTO pid_gains (id, kp, ki, kd) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kp = excluded.kp, ki = excluded.ki, kd = excluded.kd
	`, scaled.Kp, scaled.Ki, scaled.Kd)
	if err != nil {
		return fmt.Errorf("save pid gains: %w", err)
	}
	return nil
}
