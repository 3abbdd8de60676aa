// Package syncer drives one full synchronization run for a source: normalize
// everything, batch it through the configured backend, aggregate statistics.
package syncer

import (
	"context"
	"fmt"
	"log"

	"imocrawl/models"
	"imocrawl/normalize"
	"imocrawl/storage"
)

const DefaultBatchSize = 50

type Runner struct {
	backend   storage.SyncBackend
	source    string
	baseURL   string
	batchSize int
}

func NewRunner(backend storage.SyncBackend, source, baseURL string, batchSize int) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Runner{
		backend:   backend,
		source:    source,
		baseURL:   baseURL,
		batchSize: batchSize,
	}
}

// Run synchronizes one set of raw extraction records. All records are
// normalized up front so the finalize batch carries the complete external-id
// set regardless of batch size; removal detection is run-scoped, never
// batch-scoped. A failing batch aborts the rest of the run and no partial
// aggregate is returned.
func (r *Runner) Run(ctx context.Context, records []map[string]any) (models.SyncStats, error) {
	props := make([]models.CanonicalProperty, 0, len(records))
	allIDs := make([]string, 0, len(records))
	for _, rec := range records {
		prop := normalize.Record(rec, r.source, r.baseURL)
		props = append(props, prop)
		allIDs = append(allIDs, prop.ExternalID)
	}

	finalReq := storage.BatchRequest{Finalize: true, AllExternalIDs: allIDs}

	// An empty run still goes through the backend: the run gets logged and
	// previously active properties stay untouched.
	if len(props) == 0 {
		return r.backend.SyncBatch(ctx, nil, finalReq)
	}

	var total models.SyncStats
	batches := (len(props) + r.batchSize - 1) / r.batchSize

	for start := 0; start < len(props); start += r.batchSize {
		end := start + r.batchSize
		if end > len(props) {
			end = len(props)
		}

		req := storage.BatchRequest{}
		if end == len(props) {
			req = finalReq
		}

		stats, err := r.backend.SyncBatch(ctx, props[start:end], req)
		if err != nil {
			return models.SyncStats{}, fmt.Errorf("sync %s batch %d/%d: %w", r.source, start/r.batchSize+1, batches, err)
		}
		total.Merge(stats)

		if batches > 1 {
			log.Printf("Synced batch %d/%d for %s (%d properties)", start/r.batchSize+1, batches, r.source, end-start)
		}
	}

	return total, nil
}
