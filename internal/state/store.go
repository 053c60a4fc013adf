// Package state persists the last value of every property.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is one stored payload with its write history.
type Record struct {
	ID        string
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// Store keeps JSON payloads keyed by (kind, id) in the resource_state table.
// Every write bumps the row version.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

// NewStore creates a store on an opened state database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the record for (kind, id). ok is false if nothing was stored.
func (s *Store) Get(kind, id string) (rec Record, ok bool, err error) {
	var payload string
	var updated int64
	err = s.db.QueryRow(
		`SELECT payload, version, updated_at FROM resource_state WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&payload, &rec.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read %s %q: %w", kind, id, err)
	}

	rec.ID = id
	rec.Payload = []byte(payload)
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return rec, true, nil
}

// Put stores payload and returns the new version, starting at 1.
func (s *Store) Put(kind, id string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	err := s.db.QueryRow(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = resource_state.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, kind, id, string(payload), time.Now().UTC().Unix()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("write %s %q: %w", kind, id, err)
	}

	log.Trace().
		Str("kind", kind).
		Str("id", id).
		Int64("version", version).
		Msg("State stored")
	return version, nil
}

// IDs lists the stored ids of a kind in lexical order.
func (s *Store) IDs(kind string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM resource_state WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the given ids of a kind in one transaction and reports how many existed.
func (s *Store) Delete(kind string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM resource_state WHERE kind = ? AND id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var removed int64
	for _, id := range ids {
		res, err := stmt.Exec(kind, id)
		if err != nil {
			return 0, fmt.Errorf("delete %s %q: %w", kind, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Clear removes every record of a kind and reports how many there were.
func (s *Store) Clear(kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", kind, err)
	}
	return res.RowsAffected()
}
