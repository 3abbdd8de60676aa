package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"imocrawl/models"
)

// SQLiteStore reconciles scraped properties against a local SQLite database.
// All property and price-history writes of one run ride a single transaction;
// the run log lives outside it so a failure record survives the rollback.
type SQLiteStore struct {
	db     *sql.DB
	source string
	run    *runState
}

type runState struct {
	tx    *sql.Tx
	runID int64
	stats models.SyncStats
}

// NewSQLiteStore opens the sync database at dbPath. The database belongs to
// the downstream application; a missing file means sync is not configured for
// this environment, not a write failure.
func NewSQLiteStore(dbPath, source string) (*SQLiteStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: database not found at %s", ErrNotConfigured, dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, source: source}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s.run != nil {
		s.run.tx.Rollback()
		s.run = nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id INTEGER PRIMARY KEY,
		external_id TEXT NOT NULL,
		source TEXT NOT NULL,
		city TEXT,
		neighborhood TEXT,
		address TEXT,
		bedrooms INTEGER,
		bathrooms INTEGER,
		parking_spaces INTEGER,
		area_sqm REAL,
		rent_price REAL,
		condo_fee REAL,
		total_price REAL,
		original_url TEXT,
		main_image_url TEXT,
		description TEXT,
		raw_data TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE(external_id, source)
	);

	CREATE TABLE IF NOT EXISTS price_changes (
		id INTEGER PRIMARY KEY,
		property_id INTEGER NOT NULL,
		rent_price REAL,
		condo_fee REAL,
		total_price REAL,
		recorded_at DATETIME,
		created_at DATETIME,
		FOREIGN KEY (property_id) REFERENCES properties(id)
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		properties_found INTEGER DEFAULT 0,
		properties_added INTEGER DEFAULT 0,
		properties_updated INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_properties_source_status ON properties(source, status);
	CREATE INDEX IF NOT EXISTS idx_price_changes_property ON price_changes(property_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_source ON sync_runs(source, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SyncBatch applies one batch of properties. The first batch of a run opens
// the transaction and the run record; the finalize batch marks removals,
// completes the run record, and commits. Any error rolls the whole run back.
func (s *SQLiteStore) SyncBatch(ctx context.Context, props []models.CanonicalProperty, req BatchRequest) (models.SyncStats, error) {
	if s.run == nil {
		if err := s.beginRun(ctx); err != nil {
			return models.SyncStats{}, err
		}
	}

	stats := models.SyncStats{Found: len(props)}

	for i := range props {
		added, err := s.upsertProperty(ctx, &props[i])
		if err != nil {
			return models.SyncStats{}, s.failRun(fmt.Errorf("upsert %s: %w", props[i].ExternalID, err))
		}
		if added {
			stats.Added++
		} else {
			stats.Updated++
		}
	}

	s.run.stats.Merge(stats)

	if req.Finalize {
		removed, err := s.markRemoved(ctx, req.AllExternalIDs)
		if err != nil {
			return models.SyncStats{}, s.failRun(fmt.Errorf("mark removed: %w", err))
		}
		stats.Removed = removed
		s.run.stats.Removed = removed

		if err := s.completeRun(ctx); err != nil {
			return models.SyncStats{}, s.failRun(err)
		}
	}

	return stats, nil
}

func (s *SQLiteStore) beginRun(ctx context.Context) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (source, status, started_at)
		VALUES (?, 'running', ?)`,
		s.source, now)
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.run = &runState{tx: tx, runID: runID}
	return nil
}

// completeRun finalizes the run record inside the transaction and commits,
// so the completed status and the property writes land together.
func (s *SQLiteStore) completeRun(ctx context.Context) error {
	run := s.run
	_, err := run.tx.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'completed', finished_at = ?,
			properties_found = ?, properties_added = ?, properties_updated = ?
		WHERE id = ?`,
		time.Now(), run.stats.Found, run.stats.Added, run.stats.Updated, run.runID)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}

	if err := run.tx.Commit(); err != nil {
		return fmt.Errorf("commit sync run: %w", err)
	}
	s.run = nil
	return nil
}

// failRun rolls back the run and records the failure. The failed status is
// written outside the transaction so it survives the rollback.
func (s *SQLiteStore) failRun(cause error) error {
	run := s.run
	s.run = nil
	run.tx.Rollback()

	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET status = 'failed', finished_at = ?, error_message = ?,
			properties_found = ?, properties_added = ?, properties_updated = ?
		WHERE id = ?`,
		time.Now(), cause.Error(), run.stats.Found, run.stats.Added, run.stats.Updated, run.runID)
	if err != nil {
		return fmt.Errorf("%w (also failed to record failed run: %v)", cause, err)
	}

	return cause
}

// upsertProperty inserts or updates one property by (external_id, source).
// Returns true when the property is new.
func (s *SQLiteStore) upsertProperty(ctx context.Context, prop *models.CanonicalProperty) (bool, error) {
	tx := s.run.tx

	var (
		propertyID        int64
		oldRent, oldCondo sql.NullFloat64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, rent_price, condo_fee
		FROM properties
		WHERE external_id = ? AND source = ?`,
		prop.ExternalID, s.source).Scan(&propertyID, &oldRent, &oldCondo)

	if err == sql.ErrNoRows {
		return true, s.insertProperty(ctx, prop)
	}
	if err != nil {
		return false, err
	}

	return false, s.updateProperty(ctx, propertyID, nullFloat(oldRent), nullFloat(oldCondo), prop)
}

func (s *SQLiteStore) insertProperty(ctx context.Context, prop *models.CanonicalProperty) error {
	now := time.Now()
	_, err := s.run.tx.ExecContext(ctx, `
		INSERT INTO properties (
			external_id, source, city, neighborhood, address,
			bedrooms, bathrooms, parking_spaces, area_sqm,
			rent_price, condo_fee, total_price,
			original_url, main_image_url, description, raw_data,
			status, first_seen_at, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prop.ExternalID, s.source, prop.City, prop.Neighborhood, prop.Address,
		prop.Bedrooms, prop.Bathrooms, prop.ParkingSpaces, prop.AreaSqm,
		prop.RentPrice, prop.CondoFee, prop.TotalPrice,
		prop.OriginalURL, prop.MainImageURL, prop.Description, rawDataJSON(prop),
		models.PropertyStatusActive, now, now, now, now)
	return err
}

func (s *SQLiteStore) updateProperty(ctx context.Context, propertyID int64, oldRent, oldCondo *float64, prop *models.CanonicalProperty) error {
	if !floatPtrEqual(oldRent, prop.RentPrice) || !floatPtrEqual(oldCondo, prop.CondoFee) {
		if err := s.recordPriceChange(ctx, propertyID, oldRent, oldCondo); err != nil {
			return err
		}
	}

	now := time.Now()
	_, err := s.run.tx.ExecContext(ctx, `
		UPDATE properties SET
			city = ?, neighborhood = ?, address = ?,
			bedrooms = ?, bathrooms = ?, parking_spaces = ?, area_sqm = ?,
			rent_price = ?, condo_fee = ?, total_price = ?,
			original_url = ?, main_image_url = ?, description = ?, raw_data = ?,
			status = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?`,
		prop.City, prop.Neighborhood, prop.Address,
		prop.Bedrooms, prop.Bathrooms, prop.ParkingSpaces, prop.AreaSqm,
		prop.RentPrice, prop.CondoFee, prop.TotalPrice,
		prop.OriginalURL, prop.MainImageURL, prop.Description, rawDataJSON(prop),
		models.PropertyStatusActive, now, now,
		propertyID)
	return err
}

// recordPriceChange appends the pre-change prices, to be called immediately
// before the new values overwrite them.
func (s *SQLiteStore) recordPriceChange(ctx context.Context, propertyID int64, oldRent, oldCondo *float64) error {
	oldTotal := 0.0
	if oldRent != nil {
		oldTotal += *oldRent
	}
	if oldCondo != nil {
		oldTotal += *oldCondo
	}

	now := time.Now()
	_, err := s.run.tx.ExecContext(ctx, `
		INSERT INTO price_changes (property_id, rent_price, condo_fee, total_price, recorded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		propertyID, oldRent, oldCondo, oldTotal, now, now)
	return err
}

// markRemoved soft-removes active properties of this source whose external id
// was not seen anywhere in the run. Rows are never physically deleted, so
// history survives and a reappearing listing flips back to active via upsert.
func (s *SQLiteStore) markRemoved(ctx context.Context, seenExternalIDs []string) (int, error) {
	if len(seenExternalIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seenExternalIDs)), ",")
	args := make([]any, 0, len(seenExternalIDs)+2)
	args = append(args, time.Now(), s.source)
	for _, id := range seenExternalIDs {
		args = append(args, id)
	}

	result, err := s.run.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE properties
		SET status = 'removed', updated_at = ?
		WHERE source = ? AND status = 'active'
		AND external_id NOT IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, err
	}

	removed, err := result.RowsAffected()
	return int(removed), err
}

func rawDataJSON(prop *models.CanonicalProperty) any {
	if len(prop.RawData) == 0 {
		return nil
	}
	data, err := json.Marshal(prop.RawData)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
