package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SiteConfig describes how to scrape one site. Loaded from a YAML file in the
// sites directory; the file stem is the site ID.
type SiteConfig struct {
	ID      string `yaml:"-"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`

	// FetchMode selects how pages are retrieved: "browser" (default) renders
	// through headless Chromium, "http" does a plain GET for sites that serve
	// complete markup without JavaScript.
	FetchMode string `yaml:"fetch_mode"`

	// Source and BaseURL feed the sync layer. Both have derivable defaults;
	// see SourceName and SyncBaseURL.
	Source  string `yaml:"source"`
	BaseURL string `yaml:"base_url"`

	Extraction ExtractionConfig  `yaml:"extraction"`
	Pagination *PaginationConfig `yaml:"pagination"`
	Timing     *TimingConfig     `yaml:"timing"`
	Output     *OutputConfig     `yaml:"output"`
	Details    *DetailsConfig    `yaml:"details"`
}

// ExtractionConfig defines CSS-based field extraction: one record per element
// matching BaseSelector, one value per field.
type ExtractionConfig struct {
	BaseSelector string     `yaml:"base_selector"`
	Fields       []CSSField `yaml:"fields"`
}

type CSSField struct {
	Name      string `yaml:"name"`
	Selector  string `yaml:"selector"`
	Type      string `yaml:"type"` // text (default) or attribute
	Attribute string `yaml:"attribute"`
	Multiple  bool   `yaml:"multiple"`
}

type PaginationConfig struct {
	Type         string `yaml:"type"` // none or url
	PageTemplate string `yaml:"page_template"`
	StartPage    int    `yaml:"start_page"`
	MaxPages     int    `yaml:"max_pages"`
}

type TimingConfig struct {
	PageTimeoutMS int    `yaml:"page_timeout_ms"`
	WaitFor       string `yaml:"wait_for"`
}

type OutputConfig struct {
	RequiredFields []string `yaml:"required_fields"`
	UniqueKey      string   `yaml:"unique_key"`
}

// DetailsConfig enables a second pass over individual listing pages.
type DetailsConfig struct {
	Enabled         bool              `yaml:"enabled"`
	MaxConcurrent   int               `yaml:"max_concurrent"`
	RequestDelayMS  int               `yaml:"request_delay_ms"`
	TimeoutMS       int               `yaml:"timeout_ms"`
	Extraction      *ExtractionConfig `yaml:"extraction"`
	ImageSelectors  []string          `yaml:"image_selectors"`
	ImageAttributes []string          `yaml:"image_attributes"`
}

func (s *SiteConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SourceName is the short name used to scope persisted properties. Defaults
// to the site ID up to the first underscore ("apolar_apartments" -> "apolar").
func (s *SiteConfig) SourceName() string {
	if s.Source != "" {
		return s.Source
	}
	if idx := strings.Index(s.ID, "_"); idx > 0 {
		return s.ID[:idx]
	}
	return s.ID
}

// SyncBaseURL is the base for resolving relative listing URLs. Defaults to
// the scheme and host of the site URL.
func (s *SiteConfig) SyncBaseURL() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		site.ID = strings.TrimSuffix(entry.Name(), ext)
		if site.Name == "" {
			site.Name = site.ID
		}

		c.Sites[site.ID] = &site
	}

	return nil
}
