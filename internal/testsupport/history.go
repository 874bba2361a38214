package testsupport

import (
	"context"
	"testing"

	"cellwatch/internal/config"
	"cellwatch/internal/history"
)

// MustOpenHistory opens the configured history ledger and closes it when the
// test finishes.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), cfg.Paths.HistoryDB)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
