package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Archive   ArchiveConfig
	ProxyURL  string
	Headless  bool
	SitesDir  string
	Sites     map[string]*SiteConfig
}

// SyncConfig selects and configures the sync backend. APIURL set means the
// remote HTTP backend; otherwise DatabaseURL selects Postgres and DBPath the
// local SQLite database.
type SyncConfig struct {
	APIURL      string
	APIKey      string
	DatabaseURL string
	DBPath      string
	BatchSize   int
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

// ArchiveConfig configures the optional S3-compatible extraction archive.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

func Load(sitesDir string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Sync: SyncConfig{
			APIURL:      os.Getenv("SYNC_API_URL"),
			APIKey:      os.Getenv("SYNC_API_KEY"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			DBPath:      os.Getenv("SYNC_DB_PATH"),
			BatchSize:   getEnvInt("SYNC_BATCH_SIZE", 50),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		ProxyURL: os.Getenv("PROXY_URL"),
		Headless: getEnv("HEADLESS", "true") == "true",
		SitesDir: sitesDir,
		Sites:    make(map[string]*SiteConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
