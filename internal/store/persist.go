package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// stateKey is the namespace key the full store state is persisted under.
const stateKey = "chatflow-storage"

// Persister saves and loads the store state in a local SQLite database used
// as a small key-value store.
type Persister struct {
	db *sql.DB
}

// OpenPersister opens (creating if needed) the state database at path.
func OpenPersister(path string) (*Persister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, errExec := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`); errExec != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", errExec)
	}
	return &Persister{db: db}, nil
}

// Close releases the underlying database handle.
func (p *Persister) Close() error {
	return p.db.Close()
}

// Save serializes the state and upserts it under the namespace key.
func (p *Persister) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		stateKey, string(data))
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads the persisted state. The second return value is false when no
// state has been saved yet.
func (p *Persister) Load(ctx context.Context) (State, bool, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, stateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read state: %w", err)
	}
	var state State
	if errUnmarshal := json.Unmarshal([]byte(raw), &state); errUnmarshal != nil {
		return State{}, false, fmt.Errorf("unmarshal state: %w", errUnmarshal)
	}
	return state, true, nil
}
