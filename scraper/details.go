package scraper

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"imocrawl/config"
)

const (
	defaultMaxConcurrent   = 3
	defaultDetailTimeoutMS = 30000
	defaultRequestDelayMS  = 1000
)

// Enhancer visits individual listing pages and merges the extracted detail
// fields over the listing records. Fan-out is bounded and rate-limited; a
// failed detail fetch keeps the original record instead of failing the batch.
type Enhancer struct {
	fetcher Fetcher
	cfg     *config.DetailsConfig
}

func NewEnhancer(fetcher Fetcher, cfg *config.DetailsConfig) (*Enhancer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("details scraping is not enabled")
	}
	if cfg.Extraction == nil {
		return nil, errors.New("details scraping requires an extraction config")
	}
	return &Enhancer{fetcher: fetcher, cfg: cfg}, nil
}

// Enhance processes all records concurrently under a counting semaphore,
// holding each slot for the configured delay after the fetch so the target
// site sees at most MaxConcurrent in flight with spacing between dispatches.
// Record order is preserved.
func (e *Enhancer) Enhance(ctx context.Context, records []map[string]any) []map[string]any {
	maxConcurrent := e.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	delay := time.Duration(e.cfg.RequestDelayMS) * time.Millisecond
	if e.cfg.RequestDelayMS == 0 {
		delay = defaultRequestDelayMS * time.Millisecond
	}

	results := make([]map[string]any, len(records))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range records {
		record := records[i]
		pageURL, ok := record["property_url"].(string)
		if !ok || pageURL == "" {
			results[i] = record
			continue
		}

		wg.Add(1)
		go func(i int, record map[string]any, pageURL string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = record
				return
			}
			defer func() { <-sem }()

			results[i] = e.enhanceOne(ctx, record, pageURL)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}(i, record, pageURL)
	}

	wg.Wait()
	return results
}

func (e *Enhancer) enhanceOne(ctx context.Context, record map[string]any, pageURL string) map[string]any {
	timeoutMS := e.cfg.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = defaultDetailTimeoutMS
	}
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	html, err := e.fetcher.Fetch(fetchCtx, pageURL)
	if err != nil {
		log.Printf("Warning: details fetch failed for %s: %v", pageURL, err)
		return record
	}

	details, err := ExtractRecord(html, *e.cfg.Extraction)
	if err != nil {
		log.Printf("Warning: details extraction failed for %s: %v", pageURL, err)
		return record
	}

	merged := make(map[string]any, len(record)+len(details)+1)
	for k, v := range record {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}

	if images, err := ExtractImages(html, e.imageSelectors(), e.cfg.ImageAttributes); err == nil && len(images) > 0 {
		merged["additional_images"] = images
	}

	return merged
}

// imageSelectors falls back to the additional_images field of the detail
// extraction config when no dedicated selectors are configured.
func (e *Enhancer) imageSelectors() []string {
	if len(e.cfg.ImageSelectors) > 0 {
		return e.cfg.ImageSelectors
	}
	for _, field := range e.cfg.Extraction.Fields {
		if field.Name == "additional_images" {
			return []string{field.Selector}
		}
	}
	return nil
}
