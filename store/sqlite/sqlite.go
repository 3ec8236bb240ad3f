/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  One database holds territories, protection rules, assignments, conflict
  reports, commission rules and the commission ledger, plus the two
  collaborator tables (representatives, accounts) the engine reads from.

INTERFACES IMPLEMENTED:
  territory.Store:            Territories, rules, assignments, conflicts
  territory.AccountDirectory: Account repointing
  commission.Store:           Commission rules and ledger rows
  commission.RepDirectory:    Representative profiles
  commission.AccountAges:     Account age lookups
  commission.RateOverrides:   Assignment commission overrides

TRANSACTIONS:
  WithTx stores the *sql.Tx in the context it hands to fn. Every method
  checks the context first and joins that transaction, so the conflict
  check and the claim insert, or a supersession and the account repoint,
  commit together. Multi-statement writes called outside WithTx open their
  own transaction.

KEY CONSTRAINTS:
  - territory_postal_codes.postal_code PRIMARY KEY: a code has one owner
  - idx_assignments_one_active: one active assignment per territory
  - commission_transactions.idempotency_key UNIQUE: ledger idempotency
  - idx_commission_tx_one_clawback: a paid row is clawed back once

CONCURRENCY:
  A sync.RWMutex serializes writers inside the process and a single open
  connection with _txlock=immediate serializes them inside SQLite.
  SQLITE_BUSY and SQLITE_LOCKED (another process holding the write lock)
  are reported as generic.ErrTransient so callers retry.

MIGRATION:
  Versioned goose migrations are embedded under migrations/ and applied by
  New, or explicitly with `territoryd migrate`.

USAGE:
  store, err := sqlite.New(ctx, "./data/territory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - territory/store.go, commission/store.go: Interface definitions
  - generic/store.go: Transactor and RetryTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writers queue in-process and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// FromDB wraps an already opened database without migrating it.
func FromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := MigrateTo(ctx, db)
	return err
}

// MigrateTo is Migrate reporting the version reached.
func MigrateTo(ctx context.Context, db *sql.DB) (int64, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// resetOrder lists every data table, children before parents.
var resetOrder = []string{
	"commission_transactions",
	"commission_rules",
	"accounts",
	"representatives",
	"territory_conflicts",
	"territory_assignments",
	"protection_rules",
	"territory_postal_codes",
	"territories",
}

// Reset deletes all data (for demo scenarios). The schema is kept.
func (s *Store) Reset(ctx context.Context) error {
	return s.write(ctx, func(q querier) error {
		for _, table := range resetOrder {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// TRANSACTIONS (generic.Transactor)
// =============================================================================

type txKey struct{}

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// WithTx executes fn within a database transaction. A context that already
// carries a transaction runs fn inside it.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, sqlTx)); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// read runs fn against the context's transaction or, outside one, the
// database under the read lock.
func (s *Store) read(ctx context.Context, fn func(q querier) error) error {
	if tx := txFrom(ctx); tx != nil {
		return fn(tx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return classify(fn(s.db))
}

// write runs fn inside a transaction, joining the context's one if present.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(txFrom(ctx))
	})
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify marks lock contention and lost connections as transient.
func classify(err error) error {
	if err == nil || generic.IsRetryable(err) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return generic.Transient(err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return generic.Transient(err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// violates reports whether err is a unique violation on the named column
// (e.g. "territory_postal_codes.postal_code").
func violates(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parseDecimals parses stored decimal columns into their destinations,
// naming the first column that does not parse.
func parseDecimals(record string, cols ...decimalColumn) error {
	for _, c := range cols {
		d, err := decimal.NewFromString(c.src)
		if err != nil {
			return fmt.Errorf("%s: invalid %s %q: %w", record, c.name, c.src, err)
		}
		*c.dst = d
	}
	return nil
}

type decimalColumn struct {
	name string
	src  string
	dst  *decimal.Decimal
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
