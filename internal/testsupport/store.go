package testsupport

import (
	"context"
	"testing"

	"castline/internal/config"
	"castline/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// MustAddUnit creates a unit on the default pipeline version.
func MustAddUnit(t testing.TB, st *store.Store, source, title, topic string) *store.Unit {
	t.Helper()
	return MustAddUnitVersion(t, st, source, title, topic, "full")
}

// MustAddUnitVersion creates a unit on the given pipeline version.
func MustAddUnitVersion(t testing.TB, st *store.Store, source, title, topic, version string) *store.Unit {
	t.Helper()

	unit, err := st.NewUnit(context.Background(), source, title, topic, version)
	if err != nil {
		t.Fatalf("store.NewUnit: %v", err)
	}
	return unit
}

// MustGetUnit reloads a unit or fails the test.
func MustGetUnit(t testing.TB, st *store.Store, id int64) *store.Unit {
	t.Helper()

	unit, err := st.GetUnit(context.Background(), id)
	if err != nil {
		t.Fatalf("get unit %d: %v", id, err)
	}
	if unit == nil {
		t.Fatalf("unit %d not found", id)
	}
	return unit
}
