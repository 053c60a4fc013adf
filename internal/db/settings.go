package db

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Settings is the gateway's key/value settings table, where add-on configuration lives.
// The gateway owns the schema; the table is only created when missing so a fresh file works.
type Settings struct {
	db   *sql.DB
	path string
}

// OpenSettings opens the gateway settings database at path.
func OpenSettings(path string) (*Settings, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to access settings table in %s: %w", path, err)
	}

	return &Settings{db: db, path: path}, nil
}

// ConfigKey returns the key under which the gateway stores an add-on's config.
func ConfigKey(pluginID string) string {
	return "addons.config." + pluginID
}

// Load returns the value stored under key. ok is false when the key is absent.
func (s *Settings) Load(key string) (value string, ok bool, err error) {
	var v sql.NullString
	err = s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load setting %s: %w", key, err)
	}

	log.Trace().Str("key", key).Str("value", v.String).Msg("Loaded setting")
	return v.String, v.Valid, nil
}

// Save stores value under key, replacing any previous value.
func (s *Settings) Save(key, value string) error {
	log.Trace().Str("key", key).Str("value", value).Msg("Saving setting")

	_, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// Close closes the settings connection
func (s *Settings) Close() error {
	return s.db.Close()
}
