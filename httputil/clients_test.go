package httputil

import "testing"

func TestNewClients(t *testing.T) {
	clients := NewClients("")
	if clients.Scraping == nil || clients.API == nil {
		t.Fatalf("expected both clients to be built")
	}
	if clients.Scraping.Timeout >= clients.API.Timeout {
		t.Fatalf("scraping timeout must be shorter than the sync timeout")
	}
	if clients.Scraping.Transport == nil {
		t.Fatalf("scraping client must carry its own transport")
	}
}

func TestNewClients_BadProxyIgnored(t *testing.T) {
	clients := NewClients("://not-a-url")
	if clients.Scraping == nil {
		t.Fatalf("expected clients despite invalid proxy URL")
	}
}
