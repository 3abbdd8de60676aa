// Package scraper turns YAML-configured sites into raw extraction records:
// a browser renders each listing page, CSS selectors pull the fields, and an
// optional second pass enhances records from individual detail pages.
package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"imocrawl/config"
)

type SiteScraper struct {
	cfg     *config.SiteConfig
	fetcher Fetcher
}

// New builds the scraper with the fetcher the site config asks for. The
// http client is only used in "http" fetch mode.
func New(cfg *config.SiteConfig, headless bool, client *http.Client) *SiteScraper {
	var fetcher Fetcher
	if cfg.FetchMode == "http" {
		fetcher = NewHTTPFetcher(client)
	} else {
		fetcher = NewBrowserFetcher(headless, cfg.Timing)
	}
	return &SiteScraper{cfg: cfg, fetcher: fetcher}
}

// NewWithFetcher injects a custom fetcher.
func NewWithFetcher(cfg *config.SiteConfig, fetcher Fetcher) *SiteScraper {
	return &SiteScraper{cfg: cfg, fetcher: fetcher}
}

// Run scrapes the whole site: all listing pages, then detail enhancement when
// configured. A failed details stage degrades to listing data only.
func (s *SiteScraper) Run(ctx context.Context) ([]map[string]any, error) {
	defer s.fetcher.Close()

	session := uuid.NewString()[:8]
	log.Printf("[%s] Scraping %s (%s)", session, s.cfg.Name, s.cfg.URL)

	records, err := s.scrapeListings(ctx, session)
	if err != nil {
		return nil, err
	}

	if s.cfg.Details != nil && s.cfg.Details.Enabled && len(records) > 0 {
		enhancer, err := NewEnhancer(s.fetcher, s.cfg.Details)
		if err != nil {
			log.Printf("Warning: details scraping misconfigured for %s: %v", s.cfg.ID, err)
		} else {
			log.Printf("[%s] Enhancing %d records from detail pages", session, len(records))
			records = enhancer.Enhance(ctx, records)
		}
	}

	return records, nil
}

func (s *SiteScraper) scrapeListings(ctx context.Context, session string) ([]map[string]any, error) {
	var all []map[string]any
	seen := make(map[string]bool)

	pagination := s.cfg.Pagination
	if pagination == nil || pagination.Type != "url" {
		records, err := s.scrapePage(ctx, s.cfg.URL, seen)
		if err != nil {
			return nil, err
		}
		return records, nil
	}

	page := pagination.StartPage
	if page <= 0 {
		page = 1
	}

	for {
		pageURL := s.cfg.URL
		if page > 1 {
			pageURL += strings.ReplaceAll(pagination.PageTemplate, "{page}", strconv.Itoa(page))
		}

		records, err := s.scrapePage(ctx, pageURL, seen)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(records) == 0 {
			log.Printf("[%s] No results on page %d, stopping pagination", session, page)
			break
		}

		all = append(all, records...)
		log.Printf("[%s] Page %d: %d records (total %d)", session, page, len(records), len(all))

		if pagination.MaxPages > 0 && page >= pagination.MaxPages {
			log.Printf("[%s] Reached max pages (%d)", session, pagination.MaxPages)
			break
		}
		page++
	}

	return all, nil
}

func (s *SiteScraper) scrapePage(ctx context.Context, pageURL string, seen map[string]bool) ([]map[string]any, error) {
	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	records, err := ExtractRecords(html, s.cfg.Extraction)
	if err != nil {
		return nil, err
	}

	var kept []map[string]any
	for _, record := range records {
		if !s.isComplete(record) {
			continue
		}
		if key := s.uniqueKeyValue(record); key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		kept = append(kept, record)
	}

	return kept, nil
}

func (s *SiteScraper) isComplete(record map[string]any) bool {
	if s.cfg.Output == nil {
		return true
	}
	for _, field := range s.cfg.Output.RequiredFields {
		v, ok := record[field]
		if !ok {
			return false
		}
		if str, isStr := v.(string); isStr && str == "" {
			return false
		}
	}
	return true
}

func (s *SiteScraper) uniqueKeyValue(record map[string]any) string {
	key := "property_url"
	if s.cfg.Output != nil && s.cfg.Output.UniqueKey != "" {
		key = s.cfg.Output.UniqueKey
	}
	v, _ := record[key].(string)
	return v
}
