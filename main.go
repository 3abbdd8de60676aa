package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"imocrawl/config"
	"imocrawl/httputil"
	"imocrawl/logging"
	"imocrawl/scheduler"
	"imocrawl/scraper"
	"imocrawl/storage"
	"imocrawl/syncer"
)

var (
	configDir  = flag.String("config", "sites", "Directory containing site YAML files")
	listSites  = flag.Bool("list", false, "List configured sites and exit")
	daemonMode = flag.Bool("daemon", false, "Run on a schedule until interrupted")
	syncFile   = flag.String("sync", "", "Sync a saved extraction JSON file and exit")
	syncSource = flag.String("source", "", "Source name for -sync (default: inferred from filename)")
	syncBase   = flag.String("base-url", "", "Base URL for -sync (default: inferred from source)")
	batchSize  = flag.Int("batch-size", 0, "Properties per sync batch (default: SYNC_BATCH_SIZE or 50)")
	noHeadless = flag.Bool("no-headless", false, "Show the browser window")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("imocrawl.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *noHeadless {
		cfg.Headless = false
	}
	if *batchSize > 0 {
		cfg.Sync.BatchSize = *batchSize
	}

	if *listSites {
		printSites(cfg)
		return
	}

	ctx := context.Background()
	clients := httputil.NewClients(cfg.ProxyURL)

	if *syncFile != "" {
		if err := syncExtractionFile(ctx, cfg, clients, *syncFile); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		return
	}

	if *daemonMode {
		runDaemon(ctx, cfg, clients)
		return
	}

	if site := flag.Arg(0); site != "" {
		if err := crawlSite(ctx, cfg, clients, site); err != nil {
			log.Fatalf("Crawl failed: %v", err)
		}
		return
	}

	if err := crawlAll(ctx, cfg, clients); err != nil {
		log.Fatalf("Crawl failed: %v", err)
	}
}

func printSites(cfg *config.Config) {
	if len(cfg.Sites) == 0 {
		fmt.Printf("No sites configured in %s\n", cfg.SitesDir)
		return
	}

	ids := make([]string, 0, len(cfg.Sites))
	for id := range cfg.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println("Configured sites:")
	for _, id := range ids {
		site := cfg.Sites[id]
		status := "enabled"
		if !site.IsEnabled() {
			status = "disabled"
		}
		fmt.Printf("  %-24s [%s]\n    %s\n", id, status, site.URL)
	}
}

// crawlAll runs every enabled site in sequence. A failing site is recorded
// and the run moves on to the next one.
func crawlAll(ctx context.Context, cfg *config.Config, clients *httputil.Clients) error {
	ids := make([]string, 0, len(cfg.Sites))
	for id, site := range cfg.Sites {
		if site.IsEnabled() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		log.Printf("No enabled sites in %s", cfg.SitesDir)
		return nil
	}

	var failed []string
	for i, id := range ids {
		log.Printf("=== [%d/%d] %s ===", i+1, len(ids), id)
		if err := crawlSite(ctx, cfg, clients, id); err != nil {
			log.Printf("Site %s failed: %v", id, err)
			failed = append(failed, id)
		}
	}

	log.Printf("Done: %d/%d site(s) succeeded", len(ids)-len(failed), len(ids))
	if len(failed) > 0 {
		return fmt.Errorf("failed sites: %s", strings.Join(failed, ", "))
	}
	return nil
}

func crawlSite(ctx context.Context, cfg *config.Config, clients *httputil.Clients, siteID string) error {
	site, ok := cfg.Sites[siteID]
	if !ok {
		return fmt.Errorf("unknown site: %s", siteID)
	}

	records, err := scraper.New(site, cfg.Headless, clients.Scraping).Run(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		log.Printf("No records extracted for %s", siteID)
		return nil
	}
	log.Printf("Extracted %d records for %s", len(records), siteID)

	data, path, err := saveExtraction(site.ID, records)
	if err != nil {
		log.Printf("Warning: could not save extraction: %v", err)
	} else {
		log.Printf("Saved extraction to %s", path)
		archiveExtraction(ctx, cfg, site.SourceName(), filepath.Base(path), data)
	}

	return syncRecords(ctx, cfg, clients, site.SourceName(), site.SyncBaseURL(), records)
}

func saveExtraction(siteID string, records []map[string]any) ([]byte, string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll("extractions", 0755); err != nil {
		return nil, "", err
	}
	path := filepath.Join("extractions", fmt.Sprintf("%s_%s.json", siteID, time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, "", err
	}
	return data, path, nil
}

func archiveExtraction(ctx context.Context, cfg *config.Config, source, name string, data []byte) {
	if !cfg.Archive.Enabled() {
		return
	}
	uploader, err := storage.NewArchiveUploader(ctx, cfg.Archive)
	if err != nil {
		log.Printf("Warning: archive uploader unavailable: %v", err)
		return
	}
	if err := uploader.Upload(ctx, source, name, bytes.NewReader(data)); err != nil {
		log.Printf("Warning: archive upload failed: %v", err)
		return
	}
	log.Printf("Archived extraction %s", name)
}

func syncRecords(ctx context.Context, cfg *config.Config, clients *httputil.Clients, source, baseURL string, records []map[string]any) error {
	backend, err := storage.NewSyncBackend(ctx, cfg, clients.API, source, baseURL)
	if errors.Is(err, storage.ErrNotConfigured) {
		log.Printf("Sync skipped: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	defer backend.Close()

	stats, err := syncer.NewRunner(backend, source, baseURL, cfg.Sync.BatchSize).Run(ctx, records)
	if err != nil {
		return err
	}

	log.Printf("Sync complete for %s: %d added, %d updated, %d removed (%d found)",
		source, stats.Added, stats.Updated, stats.Removed, stats.Found)
	return nil
}

// knownBaseURLs maps source names to their site base URLs for -sync runs,
// where only the extraction file is at hand.
var knownBaseURLs = map[string]string{
	"apolar": "https://www.apolar.com.br",
	"galvao": "https://www.imobiliariagalvao.com.br",
	"chaves": "https://www.chavesnamao.com.br",
}

func syncExtractionFile(ctx context.Context, cfg *config.Config, clients *httputil.Clients, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		log.Printf("No properties found in %s", path)
		return nil
	}

	source := *syncSource
	if source == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		source, _, _ = strings.Cut(stem, "_")
	}
	if source == "" {
		return errors.New("could not infer source from filename, pass -source")
	}

	baseURL := *syncBase
	if baseURL == "" {
		baseURL = knownBaseURLs[source]
	}

	log.Printf("Syncing %d properties from %s (source=%s)", len(records), path, source)
	return syncRecords(ctx, cfg, clients, source, baseURL, records)
}

func runDaemon(ctx context.Context, cfg *config.Config, clients *httputil.Clients) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg.Scheduler, func(ctx context.Context) error {
		return crawlAll(ctx, cfg, clients)
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
}
