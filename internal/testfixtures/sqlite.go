package testfixtures

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/fablab-backend/internal/persistence/sqlite"
)

// SQLiteHarness is a migrated store backed by a file in the test's temp dir.
type SQLiteHarness struct {
	Store *sqlite.Store
	Path  string

	closeOnce sync.Once
}

// NewSQLiteHarness opens and migrates a fresh database. The store is closed
// when the test ends.
func NewSQLiteHarness(tb testing.TB, opts ...sqlite.Option) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	harness := &SQLiteHarness{Path: filepath.Join(tb.TempDir(), "fablab.db")}

	store, err := sqlite.Open(ctx, sqlite.DefaultConfig(harness.Path), opts...)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	harness.Store = store
	tb.Cleanup(harness.Close)

	if _, err := store.Migrate(ctx); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return harness
}

// NewSeededHarness is NewSQLiteHarness followed by SeedFablab.
func NewSeededHarness(tb testing.TB, opts ...sqlite.Option) (*SQLiteHarness, Fablab) {
	tb.Helper()
	harness := NewSQLiteHarness(tb, opts...)
	return harness, SeedFablab(tb, harness.Store)
}

// Close releases the store. Calling it more than once is safe.
func (h *SQLiteHarness) Close() {
	if h == nil || h.Store == nil {
		return
	}
	h.closeOnce.Do(func() { _ = h.Store.Close() })
}
