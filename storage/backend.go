// Package storage implements the sync backends: a local SQLite store, a
// Postgres store, and a remote HTTP API client, all sharing one batch
// contract.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"imocrawl/config"
	"imocrawl/models"
)

// ErrNotConfigured means no sync backend is available. Callers are expected
// to skip the sync step and continue, not abort the run.
var ErrNotConfigured = errors.New("sync backend not configured")

// BatchRequest carries per-batch reconciliation metadata. Finalize is set on
// the last batch of a run, together with the complete external-id set seen
// across every batch, so removal detection runs exactly once over the full
// run view, never over a partial batch.
type BatchRequest struct {
	Finalize       bool
	AllExternalIDs []string
}

// SyncBackend persists one batch of canonical properties for a single source.
// Batches belonging to one run must be delivered sequentially, ending with a
// finalize batch; concurrent runs for the same source are not supported.
type SyncBackend interface {
	SyncBatch(ctx context.Context, props []models.CanonicalProperty, req BatchRequest) (models.SyncStats, error)
	Close() error
}

// NewSyncBackend picks the backend from configuration, decided once at
// startup: the remote API when its URL is set, then Postgres, then the local
// SQLite database. Returns ErrNotConfigured when none is configured.
func NewSyncBackend(ctx context.Context, cfg *config.Config, apiClient *http.Client, source, baseURL string) (SyncBackend, error) {
	switch {
	case cfg.Sync.APIURL != "":
		backend, err := NewAPIBackend(cfg.Sync.APIURL, cfg.Sync.APIKey, source, baseURL, apiClient)
		if err != nil {
			return nil, fmt.Errorf("api backend: %w", err)
		}
		return backend, nil
	case cfg.Sync.DatabaseURL != "":
		backend, err := NewPostgresStore(ctx, cfg.Sync.DatabaseURL, source)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		return backend, nil
	case cfg.Sync.DBPath != "":
		return NewSQLiteStore(cfg.Sync.DBPath, source)
	default:
		return nil, ErrNotConfigured
	}
}
