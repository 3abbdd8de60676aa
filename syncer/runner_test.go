package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"imocrawl/models"
	"imocrawl/storage"
)

type recordedBatch struct {
	props []models.CanonicalProperty
	req   storage.BatchRequest
}

type fakeBackend struct {
	batches   []recordedBatch
	failBatch int // 1-based batch number to fail on, 0 for never
	closed    bool
}

func (f *fakeBackend) SyncBatch(ctx context.Context, props []models.CanonicalProperty, req storage.BatchRequest) (models.SyncStats, error) {
	f.batches = append(f.batches, recordedBatch{props: props, req: req})
	if f.failBatch == len(f.batches) {
		return models.SyncStats{}, errors.New("backend unavailable")
	}
	return models.SyncStats{Found: len(props), Added: len(props)}, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func rawRecords(n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{
			"property_url":   fmt.Sprintf("/listing/%d", i),
			"rent_price_brl": 1000.0,
		}
	}
	return records
}

func TestRun_SingleBatch(t *testing.T) {
	backend := &fakeBackend{}
	runner := NewRunner(backend, "apolar", "https://www.apolar.com.br", 50)

	stats, err := runner.Run(context.Background(), rawRecords(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Found != 3 || stats.Added != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if len(backend.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(backend.batches))
	}
	batch := backend.batches[0]
	if !batch.req.Finalize {
		t.Fatalf("single batch must finalize")
	}
	if len(batch.req.AllExternalIDs) != 3 {
		t.Fatalf("expected 3 external ids, got %d", len(batch.req.AllExternalIDs))
	}
	if batch.props[0].Source != "apolar" {
		t.Fatalf("records not normalized for source: %+v", batch.props[0])
	}
	if batch.props[0].OriginalURL != "https://www.apolar.com.br/listing/0" {
		t.Fatalf("relative URL not resolved: %s", batch.props[0].OriginalURL)
	}
}

func TestRun_FinalizeOnlyOnLastBatch(t *testing.T) {
	backend := &fakeBackend{}
	runner := NewRunner(backend, "apolar", "", 2)

	stats, err := runner.Run(context.Background(), rawRecords(5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Found != 5 || stats.Added != 5 {
		t.Fatalf("stats not aggregated across batches: %+v", stats)
	}

	if len(backend.batches) != 3 {
		t.Fatalf("expected 3 batches of size 2,2,1, got %d", len(backend.batches))
	}
	for i, batch := range backend.batches[:2] {
		if batch.req.Finalize {
			t.Fatalf("batch %d must not finalize", i+1)
		}
		if batch.req.AllExternalIDs != nil {
			t.Fatalf("batch %d must not carry external ids", i+1)
		}
		if len(batch.props) != 2 {
			t.Fatalf("batch %d has %d properties, want 2", i+1, len(batch.props))
		}
	}

	last := backend.batches[2]
	if !last.req.Finalize {
		t.Fatalf("last batch must finalize")
	}
	if len(last.props) != 1 {
		t.Fatalf("last batch has %d properties, want 1", len(last.props))
	}
	// The finalize batch still carries the ids of every batch in the run.
	if len(last.req.AllExternalIDs) != 5 {
		t.Fatalf("finalize batch carries %d ids, want 5", len(last.req.AllExternalIDs))
	}
}

func TestRun_EmptyStillFinalizes(t *testing.T) {
	backend := &fakeBackend{}
	runner := NewRunner(backend, "apolar", "", 50)

	stats, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Found != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(backend.batches) != 1 {
		t.Fatalf("empty run must still send one batch, got %d", len(backend.batches))
	}
	if !backend.batches[0].req.Finalize {
		t.Fatalf("empty run batch must finalize")
	}
	if len(backend.batches[0].props) != 0 {
		t.Fatalf("empty run batch must carry no properties")
	}
}

func TestRun_BatchFailureAbortsRun(t *testing.T) {
	backend := &fakeBackend{failBatch: 2}
	runner := NewRunner(backend, "apolar", "", 2)

	stats, err := runner.Run(context.Background(), rawRecords(6))
	if err == nil {
		t.Fatalf("expected run failure")
	}
	if stats != (models.SyncStats{}) {
		t.Fatalf("failed run must return zero stats, got %+v", stats)
	}
	if len(backend.batches) != 2 {
		t.Fatalf("expected run to stop after failing batch, got %d batches", len(backend.batches))
	}
}

func TestNewRunner_DefaultsBatchSize(t *testing.T) {
	backend := &fakeBackend{}
	runner := NewRunner(backend, "apolar", "", 0)
	if runner.batchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size %d, got %d", DefaultBatchSize, runner.batchSize)
	}
}
