// Package settings implements KilnSettings persistence and validation
// (spec.md §3, §6): the runtime-mutable operating configuration, distinct
// from the static boot config in internal/config.
package settings

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edgeflow/kilnd/internal/security"
)

// TemperatureUnit is the display unit for temperatures (spec.md §6:
// "temp unit (u8 ASCII)").
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "C"
	Fahrenheit TemperatureUnit = "F"
)

const (
	minSafeTempC = 100
	maxSafeTempC = 1400
)

// KilnSettings is the runtime-mutable operating configuration.
type KilnSettings struct {
	Unit          TemperatureUnit
	MaxSafeTempC  float64
	TCOffsetC     float64
	WebhookURL    string
	ElementWatts  int32
	CostPerKWh    float64
	AlarmEnabled  bool // stored and returned through the settings API; no controller component reads it
	AutoShutdown  bool // stored and returned through the settings API; no controller component reads it
	Notifications bool // gate the telemetry webhook/notification sinks (spec.md §3's "notification" boolean)
	apiTokenPlain string // never persisted or exposed directly
}

// ClampMaxSafeTemp clamps a requested max_safe_temp to [100, 1400] °C
// (spec.md §8).
func ClampMaxSafeTemp(c float64) float64 {
	if c < minSafeTempC {
		return minSafeTempC
	}
	if c > maxSafeTempC {
		return maxSafeTempC
	}
	return c
}

// Default returns the factory-default settings.
func Default() KilnSettings {
	return KilnSettings{
		Unit:          Celsius,
		MaxSafeTempC:  maxSafeTempC,
		TCOffsetC:     0,
		ElementWatts:  0,
		CostPerKWh:    0,
		AlarmEnabled:  true,
		AutoShutdown:  false,
		Notifications: true,
	}
}

// SetAPIToken stores the plaintext token in memory, pending Save, which
// encrypts it at rest. Reading it back out happens only through
// AuthorizeBearer, never via a getter.
func (s *KilnSettings) SetAPIToken(token string) { s.apiTokenPlain = token }

// Store persists KilnSettings as a single-row SQLite table (spec.md §6's
// "one namespace holding scalar values" contract) with the API token
// encrypted at rest.
type Store struct {
	db     *sql.DB
	cipher *security.TokenCipher
}

// NewStore opens (creating if necessary) the settings table.
func NewStore(db *sql.DB, cipher *security.TokenCipher) (*Store, error) {
	s := &Store{db: db, cipher: cipher}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		unit TEXT NOT NULL,
		max_safe_temp_c REAL NOT NULL,
		tc_offset_c REAL NOT NULL,
		webhook_url TEXT NOT NULL,
		element_watts INTEGER NOT NULL,
		cost_per_kwh REAL NOT NULL,
		alarm_enabled INTEGER NOT NULL DEFAULT 1,
		auto_shutdown INTEGER NOT NULL DEFAULT 0,
		notifications INTEGER NOT NULL DEFAULT 1,
		api_token_encrypted TEXT NOT NULL DEFAULT '',
		element_hours_seconds REAL NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create settings schema: %w", err)
	}
	return nil
}

// Load returns the persisted settings, or Default() if none have been
// saved yet. The API token is never populated on load (spec.md §6:
// "never exposed on read").
func (s *Store) Load() (KilnSettings, error) {
	row := s.db.QueryRow(`
		SELECT unit, max_safe_temp_c, tc_offset_c, webhook_url, element_watts, cost_per_kwh,
		       alarm_enabled, auto_shutdown, notifications
		FROM settings WHERE id = 1`)

	var out KilnSettings
	var unit string
	var alarm, autoShutdown, notify int
	err := row.Scan(&unit, &out.MaxSafeTempC, &out.TCOffsetC, &out.WebhookURL, &out.ElementWatts, &out.CostPerKWh,
		&alarm, &autoShutdown, &notify)
	if err == sql.ErrNoRows {
		return Default(), nil
	}
	if err != nil {
		return KilnSettings{}, fmt.Errorf("load settings: %w", err)
	}
	out.Unit = TemperatureUnit(unit)
	out.AlarmEnabled = alarm != 0
	out.AutoShutdown = autoShutdown != 0
	out.Notifications = notify != 0
	return out, nil
}

// Save upserts settings, clamping max_safe_temp_c and encrypting the API
// token (if one was set via SetAPIToken) before it touches disk.
func (s *Store) Save(settings KilnSettings) error {
	clamped := ClampMaxSafeTemp(settings.MaxSafeTempC)

	var encryptedToken string
	if settings.apiTokenPlain != "" {
		enc, err := s.cipher.Encrypt(settings.apiTokenPlain)
		if err != nil {
			return fmt.Errorf("encrypt api token: %w", err)
		}
		encryptedToken = enc
	} else {
		existing, err := s.apiTokenEncrypted()
		if err != nil {
			return err
		}
		encryptedToken = existing
	}

	_, err := s.db.Exec(`
		INSERT INTO settings (id, unit, max_safe_temp_c, tc_offset_c, webhook_url, element_watts, cost_per_kwh,
		                      alarm_enabled, auto_shutdown, notifications, api_token_encrypted)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unit = excluded.unit,
			max_safe_temp_c = excluded.max_safe_temp_c,
			tc_offset_c = excluded.tc_offset_c,
			webhook_url = excluded.webhook_url,
			element_watts = excluded.element_watts,
			cost_per_kwh = excluded.cost_per_kwh,
			alarm_enabled = excluded.alarm_enabled,
			auto_shutdown = excluded.auto_shutdown,
			notifications = excluded.notifications,
			api_token_encrypted = excluded.api_token_encrypted
	`, string(settings.Unit), clamped, settings.TCOffsetC, settings.WebhookURL, settings.ElementWatts, settings.CostPerKWh,
		boolToInt(settings.AlarmEnabled), boolToInt(settings.AutoShutdown), boolToInt(settings.Notifications), encryptedToken)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) apiTokenEncrypted() (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT api_token_encrypted FROM settings WHERE id = 1`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read api token: %w", err)
	}
	return token, nil
}

// LoadElementHours returns the persisted element-hours counter (accumulated
// SSR-on seconds), or 0 if nothing has been saved yet. Stored alongside
// KilnSettings rather than in its own table since both are a single
// scalar row the controller reads once at boot (spec.md §4.4, §6).
func (s *Store) LoadElementHours() (float64, error) {
	var seconds float64
	err := s.db.QueryRow(`SELECT element_hours_seconds FROM settings WHERE id = 1`).Scan(&seconds)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load element hours: %w", err)
	}
	return seconds, nil
}

// SaveElementHours persists the element-hours counter, upserting the
// settings row if Save has never been called.
func (s *Store) SaveElementHours(seconds float64) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (id, unit, max_safe_temp_c, tc_offset_c, webhook_url, element_watts, cost_per_kwh,
		                      alarm_enabled, auto_shutdown, notifications, api_token_encrypted, element_hours_seconds)
		VALUES (1, ?, ?, ?, '', 0, 0, 1, 0, 1, '', ?)
		ON CONFLICT(id) DO UPDATE SET element_hours_seconds = excluded.element_hours_seconds
	`, string(Celsius), maxSafeTempC, 0.0, seconds)
	if err != nil {
		return fmt.Errorf("save element hours: %w", err)
	}
	return nil
}

// AuthorizeBearer reports whether candidate matches the stored API token.
// This is the only path that ever decrypts the token.
func (s *Store) AuthorizeBearer(candidate string) (bool, error) {
	encrypted, err := s.apiTokenEncrypted()
	if err != nil {
		return false, err
	}
	if encrypted == "" {
		return false, nil
	}
	plain, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return false, fmt.Errorf("decrypt api token: %w", err)
	}
	return candidate != "" && candidate == plain, nil
}
