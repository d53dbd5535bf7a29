package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] brings a journal from user_version i+1 to i+2. Version 1
// is schema.sql as first shipped.
var migrations = []struct {
	name string
	stmt string
}{
	{
		// Prior calls of an (op, entity) pair are counted when a session
		// resumes.
		name: "call key index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_records_call_key
			ON records(session_id, op, entity_index, entity_gen, ordinal)`,
	},
	{
		// trace --failed selects records by status.
		name: "status index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_records_status
			ON records(session_id, status, seq)`,
	},
}

// schemaVersion is the user_version of a fully migrated journal.
var schemaVersion = len(migrations) + 1

// journalPragmas are applied on every open. WAL lets trace and status read
// a journal while a run appends to it.
var journalPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is a SQLite-backed journal holding sessions, their records and
// checkpoints.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating and migrating it as needed.
// ":memory:" opens a private in-memory journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One connection: appends are serialised and a :memory: journal
	// survives between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range journalPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

// migrate runs the migrations a journal has not seen yet and records the
// new version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version == 0 {
		version = 1
	}
	for v := version; v < schemaVersion; v++ {
		m := migrations[v-1]
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", v+1, m.name, err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}

// Close closes the journal.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
