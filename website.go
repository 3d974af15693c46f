package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type website struct {
	originalURL string
	scheme      string
	domain      string
}

// newWebsite takes in a raw URL, parses it and returns a website
// instance - bare domains are assumed to be https
func newWebsite(rawURL string) (*website, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("URL missing host: %s", rawURL)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: %s", parsed.Scheme, rawURL)
	}

	return &website{
		domain:      strings.ToLower(parsed.Host),
		scheme:      parsed.Scheme,
		originalURL: rawURL,
	}, nil
}

// origin returns the scheme and host, which scopes persisted state the way
// browser storage is scoped
func (w *website) origin() string {
	return w.scheme + "://" + w.domain
}

// isIgnored reports whether the given website domain
// matches any of the ignored patterns
func (w *website) isIgnored(ignoredPatterns []string) bool {
	return isIgnoredResource(w.originalURL, ignoredPatterns) ||
		isIgnoredResource(w.domain, ignoredPatterns)
}

// extractWebsites collects websites from the URL flag and the CSV input
func extractWebsites(ctx context.Context, rawURL, inputFile string) ([]*website, error) {
	var urls []string

	if rawURL != "" {
		urls = append(urls, rawURL)
	}

	// extract URLs from CSV
	csvSource, err := NewCSVSource(inputFile)
	if err != nil {
		return nil, err
	}
	readURLs, err := csvSource.Extract(ctx)
	if err != nil {
		return nil, err
	}
	urls = append(urls, readURLs...)

	return filterWebsites(urls), nil
}

// filterWebsites converts raw URLs to websites and
// filters out duplicates/ignored URLs
func filterWebsites(rawURLs []string) []*website {
	websites := []*website{}
	seen := map[string]bool{}

	for _, url := range rawURLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}

		website, err := newWebsite(url)
		if err != nil {
			fmt.Printf("⚠️ %v\n", err)
			continue
		}

		if seen[website.originalURL] || website.isIgnored(ignoredPatterns) {
			continue
		}

		seen[website.originalURL] = true
		websites = append(websites, website)
	}

	return websites
}

// isIgnoredResource reports whether the given resource (URL or domain)
// matches any of the ignored patterns
func isIgnoredResource(resource string, ignoredPatterns []string) bool {
	// (web workers, service workers, generated content, etc.)
	if strings.HasPrefix(resource, "blob:") {
		return true
	}

	// (inline content)
	if strings.HasPrefix(resource, "data:") {
		return true
	}

	for _, pattern := range ignoredPatterns {
		if strings.Contains(resource, pattern) {
			return true
		}
	}

	return false
}

// analytics and ad hosts that sometimes end up in exported URL lists
var ignoredPatterns = []string{
	"doubleclick.net", "googletagmanager.com", "google-analytics.com",
	"googlesyndication.com", "facebook.net", "hotjar.com",
}
