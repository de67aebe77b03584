package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout has fixed-width fractional seconds so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements the policy, event, case, vendor and failure stores on
// one database handle.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database and migrates its schema.
func Open(ctx context.Context, config *Config, logger *slog.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	dsn, err := config.dataSource()
	if err != nil {
		return nil, &StorageError{Driver: config.Driver, Operation: "configure", Cause: err}
	}

	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, &StorageError{Driver: config.Driver, Operation: "open", Cause: err}
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := New(db, config.Driver, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQL store initialized",
		"driver", config.Driver,
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// New wraps an open database handle. The schema is not touched; call
// Migrate for that.
func New(db *sql.DB, driver string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: logger.With("component", "storage.sql", "driver", driver),
	}
}

// Migrate creates missing tables and checks the schema version.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.fail("create_schema", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(insertSchemaVersion), SchemaVersion); err != nil {
		return s.fail("insert_schema_version", err)
	}

	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, getSchemaVersion).Scan(&version); err != nil {
		return s.fail("get_schema_version", err)
	}
	if version.Int64 != SchemaVersion {
		return s.fail("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version.Int64))
	}
	s.logger.Debug("schema version verified", "version", version.Int64)
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) fail(op string, err error) error {
	return &StorageError{Driver: s.driver, Operation: op, Cause: err}
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
