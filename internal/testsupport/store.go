package testsupport

import (
	"context"
	"testing"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

// MustOpenStore opens the SQLite store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.OpenPath(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.OpenPath: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewDocument inserts a pending document for tests.
func NewDocument(t testing.TB, st *store.Store, fingerprint, sourcePath string) *store.Document {
	t.Helper()

	doc, err := st.NewDocument(context.Background(), fingerprint, sourcePath)
	if err != nil {
		t.Fatalf("store.NewDocument: %v", err)
	}
	return doc
}
