package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"imocrawl/models"
)

// PostgresStore reconciles scraped properties against a Postgres database.
// Same semantics as SQLiteStore: one transaction per run, run log outside it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	source string
	run    *pgRunState
}

type pgRunState struct {
	tx    pgx.Tx
	runID int64
	stats models.SyncStats
}

func NewPostgresStore(ctx context.Context, connString, source string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool, source: source}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	if s.run != nil {
		s.run.tx.Rollback(context.Background())
		s.run = nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL,
		source TEXT NOT NULL,
		city TEXT,
		neighborhood TEXT,
		address TEXT,
		bedrooms INTEGER,
		bathrooms INTEGER,
		parking_spaces INTEGER,
		area_sqm DOUBLE PRECISION,
		rent_price DOUBLE PRECISION,
		condo_fee DOUBLE PRECISION,
		total_price DOUBLE PRECISION,
		original_url TEXT,
		main_image_url TEXT,
		description TEXT,
		raw_data JSONB,
		status TEXT NOT NULL DEFAULT 'active',
		first_seen_at TIMESTAMPTZ,
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		UNIQUE(external_id, source)
	);

	CREATE TABLE IF NOT EXISTS price_changes (
		id BIGSERIAL PRIMARY KEY,
		property_id BIGINT NOT NULL REFERENCES properties(id),
		rent_price DOUBLE PRECISION,
		condo_fee DOUBLE PRECISION,
		total_price DOUBLE PRECISION,
		recorded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		properties_found INTEGER DEFAULT 0,
		properties_added INTEGER DEFAULT 0,
		properties_updated INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_properties_source_status ON properties(source, status);
	CREATE INDEX IF NOT EXISTS idx_price_changes_property ON price_changes(property_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_source ON sync_runs(source, started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) SyncBatch(ctx context.Context, props []models.CanonicalProperty, req BatchRequest) (models.SyncStats, error) {
	if s.run == nil {
		if err := s.beginRun(ctx); err != nil {
			return models.SyncStats{}, err
		}
	}

	stats := models.SyncStats{Found: len(props)}

	for i := range props {
		added, err := s.upsertProperty(ctx, &props[i])
		if err != nil {
			return models.SyncStats{}, s.failRun(ctx, fmt.Errorf("upsert %s: %w", props[i].ExternalID, err))
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
			return models.SyncStats{}, s.failRun(ctx, fmt.Errorf("mark removed: %w", err))
		}
		stats.Removed = removed
		s.run.stats.Removed = removed

		if err := s.completeRun(ctx); err != nil {
			return models.SyncStats{}, s.failRun(ctx, err)
		}
	}

	return stats, nil
}

func (s *PostgresStore) beginRun(ctx context.Context) error {
	var runID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (source, status, started_at)
		VALUES ($1, 'running', $2)
		RETURNING id`,
		s.source, time.Now()).Scan(&runID)
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.run = &pgRunState{tx: tx, runID: runID}
	return nil
}

func (s *PostgresStore) completeRun(ctx context.Context) error {
	run := s.run
	_, err := run.tx.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'completed', finished_at = $1,
			properties_found = $2, properties_added = $3, properties_updated = $4
		WHERE id = $5`,
		time.Now(), run.stats.Found, run.stats.Added, run.stats.Updated, run.runID)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}

	if err := run.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sync run: %w", err)
	}
	s.run = nil
	return nil
}

func (s *PostgresStore) failRun(ctx context.Context, cause error) error {
	run := s.run
	s.run = nil
	run.tx.Rollback(ctx)

	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'failed', finished_at = $1, error_message = $2,
			properties_found = $3, properties_added = $4, properties_updated = $5
		WHERE id = $6`,
		time.Now(), cause.Error(), run.stats.Found, run.stats.Added, run.stats.Updated, run.runID)
	if err != nil {
		return fmt.Errorf("%w (also failed to record failed run: %v)", cause, err)
	}

	return cause
}

func (s *PostgresStore) upsertProperty(ctx context.Context, prop *models.CanonicalProperty) (bool, error) {
	tx := s.run.tx

	var (
		propertyID        int64
		oldRent, oldCondo *float64
	)
	err := tx.QueryRow(ctx, `
		SELECT id, rent_price, condo_fee
		FROM properties
		WHERE external_id = $1 AND source = $2`,
		prop.ExternalID, s.source).Scan(&propertyID, &oldRent, &oldCondo)

	if errors.Is(err, pgx.ErrNoRows) {
		return true, s.insertProperty(ctx, prop)
	}
	if err != nil {
		return false, err
	}

	return false, s.updateProperty(ctx, propertyID, oldRent, oldCondo, prop)
}

func (s *PostgresStore) insertProperty(ctx context.Context, prop *models.CanonicalProperty) error {
	now := time.Now()
	_, err := s.run.tx.Exec(ctx, `
		INSERT INTO properties (
			external_id, source, city, neighborhood, address,
			bedrooms, bathrooms, parking_spaces, area_sqm,
			rent_price, condo_fee, total_price,
			original_url, main_image_url, description, raw_data,
			status, first_seen_at, last_seen_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		prop.ExternalID, s.source, prop.City, prop.Neighborhood, prop.Address,
		prop.Bedrooms, prop.Bathrooms, prop.ParkingSpaces, prop.AreaSqm,
		prop.RentPrice, prop.CondoFee, prop.TotalPrice,
		prop.OriginalURL, prop.MainImageURL, prop.Description, prop.RawData,
		models.PropertyStatusActive, now, now, now, now)
	return err
}

func (s *PostgresStore) updateProperty(ctx context.Context, propertyID int64, oldRent, oldCondo *float64, prop *models.CanonicalProperty) error {
	if !floatPtrEqual(oldRent, prop.RentPrice) || !floatPtrEqual(oldCondo, prop.CondoFee) {
		if err := s.recordPriceChange(ctx, propertyID, oldRent, oldCondo); err != nil {
			return err
		}
	}

	now := time.Now()
	_, err := s.run.tx.Exec(ctx, `
		UPDATE properties SET
			city = $1, neighborhood = $2, address = $3,
			bedrooms = $4, bathrooms = $5, parking_spaces = $6, area_sqm = $7,
			rent_price = $8, condo_fee = $9, total_price = $10,
			original_url = $11, main_image_url = $12, description = $13, raw_data = $14,
			status = $15, last_seen_at = $16, updated_at = $17
		WHERE id = $18`,
		prop.City, prop.Neighborhood, prop.Address,
		prop.Bedrooms, prop.Bathrooms, prop.ParkingSpaces, prop.AreaSqm,
		prop.RentPrice, prop.CondoFee, prop.TotalPrice,
		prop.OriginalURL, prop.MainImageURL, prop.Description, prop.RawData,
		models.PropertyStatusActive, now, now,
		propertyID)
	return err
}

func (s *PostgresStore) recordPriceChange(ctx context.Context, propertyID int64, oldRent, oldCondo *float64) error {
	oldTotal := 0.0
	if oldRent != nil {
		oldTotal += *oldRent
	}
	if oldCondo != nil {
		oldTotal += *oldCondo
	}

	now := time.Now()
	_, err := s.run.tx.Exec(ctx, `
		INSERT INTO price_changes (property_id, rent_price, condo_fee, total_price, recorded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		propertyID, oldRent, oldCondo, oldTotal, now, now)
	return err
}

func (s *PostgresStore) markRemoved(ctx context.Context, seenExternalIDs []string) (int, error) {
	if len(seenExternalIDs) == 0 {
		return 0, nil
	}

	result, err := s.run.tx.Exec(ctx, `
		UPDATE properties
		SET status = 'removed', updated_at = $1
		WHERE source = $2 AND status = 'active'
		AND external_id != ALL($3)`,
		time.Now(), s.source, seenExternalIDs)
	if err != nil {
		return 0, err
	}

	return int(result.RowsAffected()), nil
}
