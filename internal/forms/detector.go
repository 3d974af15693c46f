// Package forms finds signup forms on a page and reports one signup per genuine
// submission.
package forms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/page"
)

// State of the detector lifecycle.
type State string

const (
	Idle     State = "idle"
	Scanning State = "scanning"
	Active   State = "active"
)

// Reporter receives detected signups.
type Reporter interface {
	ReportSignup(ctx context.Context, s models.Signup) error
}

// ConsentChecker is consulted before any submission is processed.
type ConsentChecker interface {
	HasConsent(ctx context.Context) bool
}

// Config tunes the detector.
type Config struct {
	// MaxForms caps how many forms are monitored at once.
	MaxForms int
	// DebounceWindow suppresses repeated submits of the same form and email.
	DebounceWindow time.Duration
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	return Config{
		MaxForms:       10,
		DebounceWindow: 500 * time.Millisecond,
	}
}

// Detector watches one page. Start and Stop may be called repeatedly.
type Detector struct {
	page     page.Page
	consent  ConsentChecker
	reporter Reporter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	observed map[string]page.Form
	recent   map[string]time.Time
	reported int
	cancel   context.CancelFunc
	done     chan struct{}

	inflight sync.WaitGroup
}

// NewDetector creates an idle detector.
func NewDetector(p page.Page, consent ConsentChecker, reporter Reporter, cfg Config, logger *slog.Logger) *Detector {
	def := DefaultConfig()
	if cfg.MaxForms <= 0 {
		cfg.MaxForms = def.MaxForms
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		page:     p,
		consent:  consent,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger.With("component", "forms"),
		now:      time.Now,
		state:    Idle,
		observed: make(map[string]page.Form),
		recent:   make(map[string]time.Time),
	}
}

// Start scans the forms already in the document and begins observing new ones and
// submissions. Starting an active detector is a no-op.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		return nil
	}
	d.state = Scanning
	d.mu.Unlock()

	sub, err := d.page.Subscribe(page.EventFormAdded, page.EventSubmit)
	if err != nil {
		d.setState(Idle)
		return fmt.Errorf("failed to observe forms: %w", err)
	}

	d.scan(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.state = Active
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.run(runCtx, sub, done)

	d.logger.Debug("form detection started", "observed", d.Observed())
	return nil
}

func (d *Detector) scan(ctx context.Context) {
	html, err := d.page.HTML(ctx)
	if err != nil {
		d.logger.Warn("failed to read document, relying on mutations only", "error", err)
		return
	}

	forms, err := ScanHTML(html)
	if err != nil {
		d.logger.Warn("failed to scan forms", "error", err)
		return
	}

	for _, f := range forms {
		d.Observe(f)
	}
}

func (d *Detector) run(ctx context.Context, sub *page.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Form == nil {
				continue
			}

			switch ev.Kind {
			case page.EventFormAdded:
				d.Observe(*ev.Form)
			case page.EventSubmit:
				d.HandleSubmit(ctx, *ev.Form)
			}
		}
	}
}

// Stop releases the page subscription and forgets observed forms. Reports already
// handed to the reporter are not cancelled.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.mu.Lock()
	d.state = Idle
	d.observed = make(map[string]page.Form)
	d.recent = make(map[string]time.Time)
	d.mu.Unlock()
}

// Wait blocks until every report handed off so far has completed.
func (d *Detector) Wait() {
	d.inflight.Wait()
}

// Observe starts monitoring f if it is a signup form and the cap allows it.
func (d *Detector) Observe(f page.Form) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.observed[f.Key]; ok {
		return true
	}
	if len(d.observed) >= d.cfg.MaxForms {
		d.logger.Debug("form cap reached, ignoring form", "form", f.Key, "max", d.cfg.MaxForms)
		return false
	}
	if !IsSignupForm(f) {
		return false
	}

	d.observed[f.Key] = f
	d.logger.Info("monitoring signup form", "form", f.Key, "action", f.Action)
	return true
}

// HandleSubmit processes a submission and reports whether a signup was handed to the
// reporter.
func (d *Detector) HandleSubmit(ctx context.Context, f page.Form) bool {
	if !d.consent.HasConsent(ctx) {
		return false
	}
	if !d.Observe(f) {
		return false
	}

	email, ok := ExtractEmail(f)
	if !ok {
		d.logger.Info("signup form submitted without a valid email", "form", f.Key)
		return false
	}

	pageURL, err := d.page.URL(ctx)
	if err != nil {
		d.logger.Warn("failed to read page URL", "error", err)
	}
	referrer, err := d.page.Referrer(ctx)
	if err != nil {
		d.logger.Warn("failed to read referrer", "error", err)
	}

	target := f.Action
	if target == "" {
		target = pageURL
	}

	now := d.now()
	if !d.firstSighting(target+"|"+email, now) {
		d.logger.Debug("duplicate submission ignored", "form", f.Key)
		return false
	}

	signup := models.Signup{
		Email:    email,
		Method:   models.MethodForm,
		PageURL:  pageURL,
		Referrer: referrer,
		Fields:   ExtractFields(f),
		Metadata: map[string]any{
			"form_id":     f.ID,
			"form_action": f.Action,
		},
		Timestamp: now.UTC(),
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.reporter.ReportSignup(context.WithoutCancel(ctx), signup); err != nil {
			d.logger.Warn("failed to report signup", "form", f.Key, "error", err)
		}
	}()

	return true
}

// firstSighting records key and reports whether it was not seen within the debounce
// window. Expired sightings are pruned.
func (d *Detector) firstSighting(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, seen := range d.recent {
		if now.Sub(seen) >= d.cfg.DebounceWindow {
			delete(d.recent, k)
		}
	}

	if _, ok := d.recent[key]; ok {
		return false
	}

	d.recent[key] = now
	d.reported++
	return true
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// State returns the lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Observed returns how many forms are monitored.
func (d *Detector) Observed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observed)
}

// Reported returns how many signups were handed to the reporter.
func (d *Detector) Reported() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reported
}
