package persist

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tc-sim/tccore/sim"
)

//go:embed schema.sql
var schemaSQL string

// Store holds persisted chunks in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: a second one would see a different :memory: database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put writes raw payload bytes for (namespace, key), replacing any previous value.
func (s *Store) Put(namespace, key string, payload []byte, meta sim.Meta) error {
	if meta == nil {
		meta = sim.Meta{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("put chunk %s/%s: %w", namespace, key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO chunks (namespace, key, payload, meta)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			payload = excluded.payload,
			meta = excluded.meta,
			saves = chunks.saves + 1
	`, namespace, key, payload, string(metaJSON))
	if err != nil {
		return fmt.Errorf("put chunk %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get reads raw payload bytes. ok is false when the chunk was never saved.
func (s *Store) Get(namespace, key string) (payload []byte, meta sim.Meta, ok bool, err error) {
	var metaJSON string
	err = s.db.QueryRow(`SELECT payload, meta FROM chunks WHERE namespace = ? AND key = ?`, namespace, key).
		Scan(&payload, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("get chunk %s/%s: %w", namespace, key, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, nil, false, fmt.Errorf("get chunk %s/%s: decoding meta: %w", namespace, key, err)
	}
	return payload, meta, true, nil
}

// Keys lists saved keys in a namespace in key order.
func (s *Store) Keys(namespace string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM chunks WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s: %w", namespace, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list chunks %s: %w", namespace, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SaveCount returns how many times (namespace, key) has been saved; 0 if never.
func (s *Store) SaveCount(namespace, key string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT saves FROM chunks WHERE namespace = ? AND key = ?`, namespace, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// DeleteNamespace removes every chunk in namespace.
func (s *Store) DeleteNamespace(namespace string) error {
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Hooks returns ChunkStore load and save hooks that persist T as JSON under namespace.
func Hooks[T any](s *Store, namespace string) (sim.LoadFunc[T], sim.SaveFunc[T]) {
	load := func(key string) (sim.LoadResult[T], error) {
		data, _, ok, err := s.Get(namespace, key)
		if err != nil {
			return sim.Absent[T](), err
		}
		if !ok {
			return sim.Absent[T](), nil
		}
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			return sim.Absent[T](), fmt.Errorf("decoding chunk %s/%s: %w", namespace, key, err)
		}
		return sim.Found(payload), nil
	}
	save := func(key string, payload T, meta sim.Meta) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding chunk %s/%s: %w", namespace, key, err)
		}
		return s.Put(namespace, key, data, meta)
	}
	return load, save
}

// StoreConfig returns a ChunkStore config wired to Hooks.
func StoreConfig[T any](s *Store, namespace string, maxChunks int) sim.StoreConfig[T] {
	load, save := Hooks[T](s, namespace)
	return sim.StoreConfig[T]{MaxChunks: maxChunks, Load: load, Save: save}
}
