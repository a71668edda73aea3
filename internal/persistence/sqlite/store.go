package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/example/fablab-backend/internal/persistence"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// table describes where a kind lives.
type table struct {
	name     string
	idColumn string
}

var tables = map[persistence.Kind]table{
	persistence.KindRole:         {name: "roles", idColumn: "role_id"},
	persistence.KindMachineType:  {name: "machine_types", idColumn: "type_id"},
	persistence.KindUser:         {name: "users", idColumn: "user_id"},
	persistence.KindMachine:      {name: "machines", idColumn: "machine_id"},
	persistence.KindMaintenance:  {name: "maintenances", idColumn: "maintenance_id"},
	persistence.KindIntervention: {name: "interventions", idColumn: "intervention_id"},
	persistence.KindUsageSession: {name: "usage_sessions", idColumn: "usage_id"},
}

func lookupTable(kind persistence.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("sqlite: unknown kind %q", kind)
	}
	return t, nil
}

// Store implements persistence.Store on top of a SQLite database.
type Store struct {
	pool      *ConnectionPool
	mapper    *ErrorMapper
	retry     *RetryHelper
	opTimeout time.Duration
}

var _ persistence.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithOpTimeout bounds every store call. Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.opTimeout = d
	}
}

// WithRetryConfig overrides the transient-failure retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Store) {
		s.retry = NewRetryHelper(cfg)
	}
}

// Open connects to the database described by cfg. Call Migrate before use.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	pool, err := NewConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		pool:      pool,
		mapper:    NewErrorMapper(),
		retry:     NewRetryHelper(DefaultRetryConfig()),
		opTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.mapper.MapError(s.pool.Ping(ctx))
}

// Migrate applies the embedded schema migrations and returns the resulting
// schema version.
func (s *Store) Migrate(ctx context.Context) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open migration source: %w", err)
	}
	defer source.Close()

	driver, err := migratesqlite.WithInstance(s.pool.DB(), &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to initialise migration driver: %w", err)
	}

	// m.Close would also close the shared *sql.DB, so only the source is closed.
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to initialise migrations: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Up()
	}()

	select {
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return 0, ctx.Err()
	case err := <-done:
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return 0, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// do runs fn against the pool with the call deadline and retry policy applied.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context, q DBTX) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: store is closed", persistence.ErrUnavailable)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.retry.WithRetry(ctx, func() error {
		return fn(ctx, s.pool.DB())
	})
}

// tx is like do but runs fn inside a single immediate transaction.
func (s *Store) tx(ctx context.Context, fn func(ctx context.Context, q DBTX) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: store is closed", persistence.ErrUnavailable)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			return fn(ctx, tx)
		})
	})
}

// NextID returns max(id)+1 for the kind, or 0 when the collection is empty.
func (s *Store) NextID(ctx context.Context, kind persistence.Kind) (int64, error) {
	t, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}

	var next int64
	err = s.do(ctx, func(ctx context.Context, q DBTX) error {
		query := fmt.Sprintf("SELECT COALESCE(MAX(%s), -1) + 1 FROM %s", t.idColumn, t.name)
		return q.QueryRowContext(ctx, query).Scan(&next)
	})
	return next, err
}

// Exists reports whether a record with id exists in the kind's collection.
func (s *Store) Exists(ctx context.Context, kind persistence.Kind, id int64) (bool, error) {
	t, err := lookupTable(kind)
	if err != nil {
		return false, err
	}

	var found bool
	err = s.do(ctx, func(ctx context.Context, q DBTX) error {
		query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)", t.name, t.idColumn)
		return q.QueryRowContext(ctx, query, id).Scan(&found)
	})
	return found, err
}

// insertRow inserts one row into the kind's table and returns its id. When id
// is persistence.AutoID the id is computed as max(id)+1 inside the same
// statement, so allocation and insert cannot interleave with another writer.
func insertRow(ctx context.Context, q DBTX, kind persistence.Kind, id int64, columns []string, values []any) (int64, error) {
	t, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}

	cols := append([]string{t.idColumn}, columns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")

	var query string
	args := values
	if id == persistence.AutoID {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT COALESCE(MAX(%s), -1) + 1, %s FROM %s RETURNING %s",
			t.name, strings.Join(cols, ", "), t.idColumn, placeholders, t.name, t.idColumn,
		)
	} else {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, %s) RETURNING %s",
			t.name, strings.Join(cols, ", "), placeholders, t.idColumn,
		)
		args = append([]any{id}, values...)
	}

	var assigned int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&assigned); err != nil {
		return 0, err
	}
	return assigned, nil
}

// exec runs a single write whose "no rows affected" outcome is not an error.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullableInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func intPtr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

// scanIDs drains rows holding a single integer column.
func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
