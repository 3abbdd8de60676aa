package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imocrawl/models"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create db file: %v", err)
	}
	f.Close()
	return path
}

func openTestStore(t *testing.T, path, source string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(path, source)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func rentalProp(externalID string, rent float64) models.CanonicalProperty {
	r := rent
	return models.CanonicalProperty{
		ExternalID: externalID,
		City:       "Curitiba",
		RentPrice:  &r,
		Status:     models.PropertyStatusActive,
	}
}

// fullSync runs a complete single-batch sync run.
func fullSync(t *testing.T, store *SQLiteStore, props ...models.CanonicalProperty) models.SyncStats {
	t.Helper()
	ids := make([]string, len(props))
	for i, p := range props {
		ids[i] = p.ExternalID
	}
	stats, err := store.SyncBatch(context.Background(), props, BatchRequest{Finalize: true, AllExternalIDs: ids})
	if err != nil {
		t.Fatalf("sync batch: %v", err)
	}
	return stats
}

func propertyStatus(t *testing.T, store *SQLiteStore, externalID, source string) string {
	t.Helper()
	var status string
	err := store.db.QueryRow(
		`SELECT status FROM properties WHERE external_id = ? AND source = ?`,
		externalID, source).Scan(&status)
	if err != nil {
		t.Fatalf("query status of %s/%s: %v", externalID, source, err)
	}
	return status
}

func countRows(t *testing.T, store *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	if err := store.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func TestNewSQLiteStore_MissingDatabase(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nope.db"), "apolar")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFirstSyncInserts(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	stats := fullSync(t, store, rentalProp("aaa", 1000), rentalProp("bbb", 1500))

	if stats.Added != 2 || stats.Updated != 0 || stats.Found != 2 || stats.Removed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := propertyStatus(t, store, "aaa", "apolar"); got != "active" {
		t.Fatalf("expected active, got %s", got)
	}

	var status string
	var found, added int
	err := store.db.QueryRow(
		`SELECT status, properties_found, properties_added FROM sync_runs WHERE source = ?`,
		"apolar").Scan(&status, &found, &added)
	if err != nil {
		t.Fatalf("query sync run: %v", err)
	}
	if status != "completed" || found != 2 || added != 2 {
		t.Fatalf("unexpected run record: status=%s found=%d added=%d", status, found, added)
	}
}

func TestResyncCountsUpdated(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	fullSync(t, store, rentalProp("aaa", 1000))
	stats := fullSync(t, store, rentalProp("aaa", 1000))

	if stats.Added != 0 || stats.Updated != 1 {
		t.Fatalf("expected re-sync to count as updated, got %+v", stats)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM properties`); n != 1 {
		t.Fatalf("expected 1 property row, got %d", n)
	}
}

func TestRemovalRoundTrip(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	fullSync(t, store, rentalProp("aaa", 1000), rentalProp("bbb", 1500))

	stats := fullSync(t, store, rentalProp("aaa", 1000))
	if stats.Removed != 1 {
		t.Fatalf("expected 1 removal, got %+v", stats)
	}
	if got := propertyStatus(t, store, "bbb", "apolar"); got != "removed" {
		t.Fatalf("expected bbb removed, got %s", got)
	}
	if got := propertyStatus(t, store, "aaa", "apolar"); got != "active" {
		t.Fatalf("expected aaa still active, got %s", got)
	}

	// A reappearing listing flips back to active without a new row.
	stats = fullSync(t, store, rentalProp("aaa", 1000), rentalProp("bbb", 1500))
	if stats.Added != 0 || stats.Updated != 2 || stats.Removed != 0 {
		t.Fatalf("unexpected reappearance stats: %+v", stats)
	}
	if got := propertyStatus(t, store, "bbb", "apolar"); got != "active" {
		t.Fatalf("expected bbb reactivated, got %s", got)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM properties`); n != 2 {
		t.Fatalf("expected 2 property rows, got %d", n)
	}
}

func TestRemovalIsRunScoped(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")
	ctx := context.Background()

	fullSync(t, store, rentalProp("aaa", 1000), rentalProp("bbb", 1500))

	// Both ids survive a later run even when they arrive in separate batches.
	allIDs := []string{"aaa", "bbb"}
	if _, err := store.SyncBatch(ctx, []models.CanonicalProperty{rentalProp("aaa", 1000)}, BatchRequest{}); err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	stats, err := store.SyncBatch(ctx, []models.CanonicalProperty{rentalProp("bbb", 1500)}, BatchRequest{Finalize: true, AllExternalIDs: allIDs})
	if err != nil {
		t.Fatalf("batch 2: %v", err)
	}
	if stats.Removed != 0 {
		t.Fatalf("expected no removals across batches of one run, got %+v", stats)
	}
	if got := propertyStatus(t, store, "aaa", "apolar"); got != "active" {
		t.Fatalf("expected aaa active, got %s", got)
	}
}

func TestEmptyRunLeavesPropertiesAlone(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	fullSync(t, store, rentalProp("aaa", 1000))

	stats := fullSync(t, store)
	if stats.Added != 0 || stats.Updated != 0 || stats.Found != 0 || stats.Removed != 0 {
		t.Fatalf("expected zero stats for empty run, got %+v", stats)
	}
	if got := propertyStatus(t, store, "aaa", "apolar"); got != "active" {
		t.Fatalf("empty run must not mark removals, got %s", got)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM sync_runs WHERE status = 'completed'`); n != 2 {
		t.Fatalf("expected 2 completed runs, got %d", n)
	}
}

func TestPriceHistoryAppendOnly(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	fullSync(t, store, rentalProp("aaa", 1000))
	if n := countRows(t, store, `SELECT COUNT(*) FROM price_changes`); n != 0 {
		t.Fatalf("insert must not record a price change, got %d rows", n)
	}

	// Same price, no history entry.
	fullSync(t, store, rentalProp("aaa", 1000))
	if n := countRows(t, store, `SELECT COUNT(*) FROM price_changes`); n != 0 {
		t.Fatalf("unchanged price must not record a change, got %d rows", n)
	}

	// Changed price records the pre-change value.
	fullSync(t, store, rentalProp("aaa", 1200))
	var oldRent float64
	err := store.db.QueryRow(`SELECT rent_price FROM price_changes`).Scan(&oldRent)
	if err != nil {
		t.Fatalf("query price change: %v", err)
	}
	if oldRent != 1000 {
		t.Fatalf("expected recorded pre-change rent 1000, got %v", oldRent)
	}

	fullSync(t, store, rentalProp("aaa", 1300))
	if n := countRows(t, store, `SELECT COUNT(*) FROM price_changes`); n != 2 {
		t.Fatalf("expected 2 price changes, got %d", n)
	}
}

func TestCrossSourceIsolation(t *testing.T) {
	path := testDBPath(t)
	apolar := openTestStore(t, path, "apolar")
	galvao := openTestStore(t, path, "galvao")

	// The same external id under two sources stays two rows.
	fullSync(t, apolar, rentalProp("shared", 1000))
	fullSync(t, galvao, rentalProp("shared", 2000))
	if n := countRows(t, apolar, `SELECT COUNT(*) FROM properties WHERE external_id = 'shared'`); n != 2 {
		t.Fatalf("expected 2 rows for shared id, got %d", n)
	}

	// Removal in one source never touches the other.
	fullSync(t, apolar, rentalProp("other", 1100))
	if got := propertyStatus(t, apolar, "shared", "apolar"); got != "removed" {
		t.Fatalf("expected apolar/shared removed, got %s", got)
	}
	if got := propertyStatus(t, apolar, "shared", "galvao"); got != "active" {
		t.Fatalf("expected galvao/shared untouched, got %s", got)
	}
}

func TestFailedRunRollsBack(t *testing.T) {
	store := openTestStore(t, testDBPath(t), "apolar")

	if _, err := store.SyncBatch(context.Background(), []models.CanonicalProperty{rentalProp("aaa", 1000)}, BatchRequest{}); err != nil {
		t.Fatalf("batch 1: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.SyncBatch(cancelled, []models.CanonicalProperty{rentalProp("bbb", 1500)}, BatchRequest{Finalize: true, AllExternalIDs: []string{"aaa", "bbb"}})
	if err == nil {
		t.Fatalf("expected batch failure under cancelled context")
	}

	if n := countRows(t, store, `SELECT COUNT(*) FROM properties`); n != 0 {
		t.Fatalf("expected rollback to discard all writes, got %d rows", n)
	}

	var status, message string
	if err := store.db.QueryRow(`SELECT status, error_message FROM sync_runs`).Scan(&status, &message); err != nil {
		t.Fatalf("query sync run: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected failed run record, got %s", status)
	}
	if message == "" {
		t.Fatalf("expected an error message on the failed run")
	}
}
