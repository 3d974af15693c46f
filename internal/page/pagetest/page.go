// Package pagetest provides an in-memory page.Page for tests.
package pagetest

import (
	"context"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/page"
)

// Page is a scripted page. Zero values are usable after New.
type Page struct {
	*page.Hub

	mu              sync.Mutex
	url             string
	referrer        string
	userAgent       string
	html            string
	navigationStart time.Time
	dnt             bool
	replaced        []string
	err             error
}

// New creates a page at rawURL.
func New(rawURL string) *Page {
	return &Page{
		Hub:       page.NewHub(),
		url:       rawURL,
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
	}
}

// SetURL changes the current URL without emitting an event.
func (p *Page) SetURL(rawURL string) {
	p.mu.Lock()
	p.url = rawURL
	p.mu.Unlock()
}

// Navigate changes the current URL and emits a url_change event, like an SPA route.
func (p *Page) Navigate(rawURL string) {
	p.SetURL(rawURL)
	p.Emit(page.Event{Kind: page.EventURLChange, URL: rawURL})
}

func (p *Page) SetReferrer(referrer string) {
	p.mu.Lock()
	p.referrer = referrer
	p.mu.Unlock()
}

func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

func (p *Page) SetNavigationStart(t time.Time) {
	p.mu.Lock()
	p.navigationStart = t
	p.mu.Unlock()
}

func (p *Page) SetDoNotTrack(on bool) {
	p.mu.Lock()
	p.dnt = on
	p.mu.Unlock()
}

// Fail makes every accessor return err until called again with nil.
func (p *Page) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Replaced returns every URL passed to ReplaceURL.
func (p *Page) Replaced() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.replaced...)
}

// Emit publishes ev, stamping it with the current time when unset.
func (p *Page) Emit(ev page.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	p.Publish(ev)
}

func (p *Page) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.err
}

func (p *Page) Referrer(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrer, p.err
}

func (p *Page) UserAgent(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent, p.err
}

func (p *Page) HTML(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, p.err
}

func (p *Page) ReplaceURL(_ context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.url = rawURL
	p.replaced = append(p.replaced, rawURL)
	return nil
}

func (p *Page) NavigationStart(_ context.Context) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigationStart, p.err
}

func (p *Page) DoNotTrack(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dnt, p.err
}

var _ page.Page = (*Page)(nil)
