package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// FirstSeenColumn records when a fingerprint was first persisted
const FirstSeenColumn = "_first_seen"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on a SQLite database
type SQLiteStore struct {
	db *sqlx.DB

	mu    sync.Mutex
	known map[string]map[string]bool
}

// Open opens (or creates) the SQLite database at path
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.NewStorage("", "failed to open database "+path, err)
	}
	// a single writer avoids SQLITE_BUSY between concurrent statements
	db.SetMaxOpenConns(1)

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an existing connection
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		known: make(map[string]map[string]bool),
	}
}

// EnsureTable creates the table keyed by fingerprint and adds missing columns
func (s *SQLiteStore) EnsureTable(ctx context.Context, table string, columns []string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
		quoteIdent(table), quoteIdent(record.FingerprintField), quoteIdent(FirstSeenColumn),
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.NewStorage(table, "failed to create table", err)
	}

	return s.ensureColumns(ctx, table, columns)
}

// Exists reports whether fingerprint is stored in table
func (s *SQLiteStore) Exists(ctx context.Context, table, fingerprint string) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)`, quoteIdent(table), quoteIdent(record.FingerprintField))
	if err := s.db.GetContext(ctx, &exists, query, fingerprint); err != nil {
		return false, errors.NewStorage(table, "failed to look up fingerprint", err)
	}
	return exists, nil
}

// Insert stores the record's fields. Uniqueness is enforced by the primary
// key, so a concurrent or repeated insert of the same fingerprint fails with
// a constraint violation and never overwrites the stored row.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rec record.Record) error {
	if err := validateTable(table); err != nil {
		return err
	}

	var (
		columns []string
		values  []interface{}
		seen    = make(map[string]bool)
	)
	for _, f := range rec.Fields() {
		if seen[f.Name] || f.Name == FirstSeenColumn {
			continue
		}
		seen[f.Name] = true
		columns = append(columns, f.Name)
		values = append(values, f.Value)
	}

	if err := s.ensureColumns(ctx, table, columns); err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		var sqliteErr sqlite3.Error
		if stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return errors.NewConstraintViolation(table, rec.Fingerprint(), err)
		}
		return errors.NewStorage(table, "failed to insert record", err)
	}
	return nil
}

// Fingerprints lists the stored fingerprints in insertion order
func (s *SQLiteStore) Fingerprints(ctx context.Context, table string) ([]string, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	var fps []string
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY rowid`, quoteIdent(record.FingerprintField), quoteIdent(table))
	if err := s.db.SelectContext(ctx, &fps, query); err != nil {
		return nil, errors.NewStorage(table, "failed to list fingerprints", err)
	}
	return fps, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensureColumns adds every column of names the table does not have yet.
// Known columns are cached per table.
func (s *SQLiteStore) ensureColumns(ctx context.Context, table string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, ok := s.known[table]
	if !ok {
		var existing []string
		if err := s.db.SelectContext(ctx, &existing, `SELECT name FROM pragma_table_info(?)`, table); err != nil {
			return errors.NewStorage(table, "failed to read table columns", err)
		}
		known = make(map[string]bool, len(existing))
		for _, name := range existing {
			known[name] = true
		}
		s.known[table] = known
	}

	for _, name := range names {
		if known[name] {
			continue
		}
		query := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quoteIdent(table), quoteIdent(name))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return errors.NewStorage(table, "failed to add column "+name, err)
		}
		known[name] = true
		logger.ForStore().Info().Str("table", table).Str("column", name).Msg("Added column")
	}
	return nil
}

func validateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return errors.NewStorage(table, fmt.Sprintf("invalid table name %q", table), nil)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
