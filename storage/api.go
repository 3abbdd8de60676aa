package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"imocrawl/models"
	"imocrawl/retry"
)

// APIBackend ships batches to the sync HTTP API instead of writing locally.
// Upsert, price-history, and removal semantics live on the far end; this
// client only transmits batches and relays the returned statistics.
type APIBackend struct {
	endpoint string
	apiKey   string
	source   string
	baseURL  string
	client   *http.Client
	policy   retry.Policy
}

// NewAPIBackend builds the remote backend. A missing endpoint or key is a
// configuration error surfaced here, at construction, not on first use. A nil
// client falls back to a default with a timeout wide enough for one batch.
func NewAPIBackend(endpoint, apiKey, source, baseURL string, client *http.Client) (*APIBackend, error) {
	if endpoint == "" {
		return nil, errors.New("sync API URL is not set")
	}
	if apiKey == "" {
		return nil, errors.New("sync API key is not set")
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	policy := retry.DefaultPolicy()
	policy.Retryable = isTransient

	return &APIBackend{
		endpoint: endpoint,
		apiKey:   apiKey,
		source:   source,
		baseURL:  baseURL,
		client:   client,
		policy:   policy,
	}, nil
}

func (b *APIBackend) Close() error {
	return nil
}

type syncPayload struct {
	Source         string                     `json:"source"`
	BaseURL        string                     `json:"base_url"`
	Properties     []models.CanonicalProperty `json:"properties"`
	Finalize       bool                       `json:"finalize"`
	AllExternalIDs []string                   `json:"all_external_ids,omitempty"`
}

type syncResponse struct {
	Status     string           `json:"status"`
	Error      string           `json:"error"`
	Statistics models.SyncStats `json:"statistics"`
}

// permanentError marks failures the retry policy must not retry: client
// errors and application-level failures reported in a success response.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isTransient(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}

func (b *APIBackend) SyncBatch(ctx context.Context, props []models.CanonicalProperty, req BatchRequest) (models.SyncStats, error) {
	payload := syncPayload{
		Source:     b.source,
		BaseURL:    b.baseURL,
		Properties: props,
		Finalize:   req.Finalize,
	}
	if req.Finalize {
		payload.AllExternalIDs = req.AllExternalIDs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.SyncStats{}, fmt.Errorf("marshal sync payload: %w", err)
	}

	var stats models.SyncStats
	err = b.policy.Do(ctx, func(ctx context.Context) error {
		result, err := b.send(ctx, body)
		if err != nil {
			return err
		}
		stats = result
		return nil
	})
	if err != nil {
		return models.SyncStats{}, fmt.Errorf("sync batch for %s: %w", b.source, err)
	}

	return stats, nil
}

func (b *APIBackend) send(ctx context.Context, body []byte) (models.SyncStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.SyncStats{}, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		// Network-level failure, worth retrying.
		return models.SyncStats{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return models.SyncStats{}, fmt.Errorf("sync API returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.SyncStats{}, permanent(fmt.Errorf("sync API returned %d: %s", resp.StatusCode, detail))
	}

	var decoded syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.SyncStats{}, permanent(fmt.Errorf("decode sync response: %w", err))
	}

	if decoded.Status == "error" {
		return models.SyncStats{}, permanent(fmt.Errorf("sync API rejected batch: %s", decoded.Error))
	}

	return decoded.Statistics, nil
}
