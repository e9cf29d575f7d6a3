// Package helpers provides shared test fixtures.
package helpers

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nigamk1/tutorboard/store"
)

// NewTestSQLiteStore returns a store backed by a throwaway database file.
// Foreign keys are enabled on every pooled connection via the DSN.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000",
		filepath.Join(t.TempDir(), "test.db"))
	st, err := store.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
