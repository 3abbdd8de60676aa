package httputil

import (
	"net/http"
	"net/url"
	"time"
)

// Clients holds the two HTTP clients the system uses: one for target sites
// (optionally proxied, short timeout) and one for the sync API.
type Clients struct {
	Scraping *http.Client
	API      *http.Client
}

// syncTimeout covers one full sync batch upload, which the far end applies
// synchronously.
const syncTimeout = 120 * time.Second

func NewClients(proxyURL string) *Clients {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	scraping := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: syncTimeout},
	}
}
