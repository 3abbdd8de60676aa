package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"imocrawl/config"
)

const defaultPageTimeoutMS = 60000

// Fetcher renders one page and returns its HTML.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// BrowserFetcher renders pages through a headless Chromium so JS-built
// listing markup is present before extraction. The browser launches lazily on
// first fetch and is shared by all fetches until Close.
type BrowserFetcher struct {
	headless  bool
	timeoutMS float64
	waitFor   string

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserFetcher(headless bool, timing *config.TimingConfig) *BrowserFetcher {
	f := &BrowserFetcher{
		headless:  headless,
		timeoutMS: defaultPageTimeoutMS,
	}
	if timing != nil {
		if timing.PageTimeoutMS > 0 {
			f.timeoutMS = float64(timing.PageTimeoutMS)
		}
		f.waitFor = timing.WaitFor
	}
	return f
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := f.ensureBrowser(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	page, err := f.browser.NewPage()
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	_, err = page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(f.timeoutMS),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return "", fmt.Errorf("goto %s: %w", pageURL, err)
	}

	if f.waitFor != "" {
		err = page.Locator(f.waitFor).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(f.timeoutMS),
		})
		if err != nil {
			return "", fmt.Errorf("wait for %q on %s: %w", f.waitFor, pageURL, err)
		}
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return nil
	}

	if f.browser != nil {
		f.browser.Close()
	}
	if f.pw != nil {
		f.pw.Stop()
	}
	f.initialized = false
	return nil
}
