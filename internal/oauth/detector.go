package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/page"
)

// State of the detector lifecycle. Reported flows are tracked per flow key.
type State string

const (
	Idle    State = "idle"
	Polling State = "polling"
)

type Reporter interface {
	ReportSignup(ctx context.Context, s models.Signup) error
}

type ConsentChecker interface {
	HasConsent(ctx context.Context) bool
}

// Config tunes the detector. Zero durations and counts take the defaults.
type Config struct {
	PollInterval time.Duration
	MaxChecks    int
	CleanupDelay time.Duration
	EmailDelay   time.Duration
	// AutoCleanup strips tokens from the address bar after detection.
	AutoCleanup bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		MaxChecks:    30,
		CleanupDelay: 100 * time.Millisecond,
		EmailDelay:   2 * time.Second,
		AutoCleanup:  true,
	}
}

// Detection is a return that passed validation.
type Detection struct {
	Flow
	ID         string
	URL        string
	DetectedAt time.Time
}

// Detector polls the page URL and listens for SPA navigations.
type Detector struct {
	page     page.Page
	consent  ConsentChecker
	reporter Reporter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	seen      map[string]struct{}
	checks    int
	failures  int
	reported  int
	listeners []func(Detection)
	cancel    context.CancelFunc
	done      chan struct{}

	inflight sync.WaitGroup
}

// NewDetector creates an idle detector.
func NewDetector(p page.Page, consent ConsentChecker, reporter Reporter, cfg Config, logger *slog.Logger) *Detector {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxChecks <= 0 {
		cfg.MaxChecks = def.MaxChecks
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = def.CleanupDelay
	}
	if cfg.EmailDelay <= 0 {
		cfg.EmailDelay = def.EmailDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		page:     p,
		consent:  consent,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger.With("component", "oauth"),
		now:      time.Now,
		state:    Idle,
		seen:     make(map[string]struct{}),
	}
}

// OnDetect registers fn to be called for every validated return, errors included.
func (d *Detector) OnDetect(fn func(Detection)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Start checks the current URL immediately and then keeps polling.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		return nil
	}

	sub, err := d.page.Subscribe(page.EventURLChange)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to observe navigation: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.state = Polling
	d.checks = 0
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.run(runCtx, sub, done)
	return nil
}

func (d *Detector) run(ctx context.Context, sub *page.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	tick := ticker.C

	if d.poll(ctx) {
		ticker.Stop()
		tick = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if d.poll(ctx) {
				ticker.Stop()
				tick = nil
				d.logger.Debug("polling stopped, still watching navigations", "checks", d.cfg.MaxChecks)
			}
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			d.Check(ctx)
		}
	}
}

// poll runs a counted check and reports whether the cap has been reached.
func (d *Detector) poll(ctx context.Context) bool {
	d.Check(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks++
	return d.checks >= d.cfg.MaxChecks
}

// Stop ends polling and releases the navigation subscription. Scheduled cleanups and
// reports still run.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.setState(Idle)
}

// Wait blocks until scheduled cleanups and reports have completed.
func (d *Detector) Wait() {
	d.inflight.Wait()
}

// Check inspects the current URL once. It returns the detection when a new, validated
// return was found.
func (d *Detector) Check(ctx context.Context) (Detection, bool) {
	if !d.consent.HasConsent(ctx) {
		return Detection{}, false
	}

	rawURL, err := d.page.URL(ctx)
	if err != nil {
		d.logger.Warn("failed to read page URL", "error", err)
		return Detection{}, false
	}
	referrer, err := d.page.Referrer(ctx)
	if err != nil {
		d.logger.Warn("failed to read referrer", "error", err)
	}

	flow, ok := DetectFlow(rawURL, referrer)
	if !ok {
		return Detection{}, false
	}

	key := FlowKey(rawURL)
	d.mu.Lock()
	_, seen := d.seen[key]
	d.mu.Unlock()
	if seen {
		return Detection{}, false
	}

	now := d.now()
	navStart, err := d.page.NavigationStart(ctx)
	if err != nil {
		d.logger.Debug("navigation timing unavailable", "error", err)
	}

	if !ValidateReturn(flow, Signals{Referrer: referrer, URL: rawURL, NavigationStart: navStart, Now: now}) {
		d.logger.Debug("oauth parameters without a corroborating signal, ignoring")
		return Detection{}, false
	}

	d.mu.Lock()
	if _, seen := d.seen[key]; seen {
		d.mu.Unlock()
		return Detection{}, false
	}
	d.seen[key] = struct{}{}
	if flow.HasError {
		d.failures++
	}
	d.mu.Unlock()

	cleaned, err := CleanURL(rawURL)
	if err != nil {
		cleaned = key
	}

	det := Detection{
		Flow:       flow,
		ID:         key + "#" + strconv.FormatInt(now.UnixMilli(), 10),
		URL:        cleaned,
		DetectedAt: now,
	}

	if d.cfg.AutoCleanup && (flow.HasCode || flow.HasToken) {
		d.scheduleCleanup(ctx)
	}

	d.notify(det)

	if flow.HasError {
		d.logger.Info("oauth return with error", "provider", flow.Provider, "error", flow.Error)
		return det, true
	}

	d.logger.Info("oauth return detected", "provider", flow.Provider, "type", flow.Type)
	d.scheduleReport(ctx, det, referrer)

	return det, true
}

func (d *Detector) scheduleCleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		time.Sleep(d.cfg.CleanupDelay)

		current, err := d.page.URL(ctx)
		if err != nil || !HasTokens(current) {
			return
		}
		cleaned, err := CleanURL(current)
		if err != nil {
			return
		}
		if err := d.page.ReplaceURL(ctx, cleaned); err != nil {
			d.logger.Warn("failed to remove tokens from URL", "error", err)
			return
		}
		d.logger.Debug("removed oauth parameters from URL")
	}()
}

func (d *Detector) scheduleReport(ctx context.Context, det Detection, referrer string) {
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		time.Sleep(d.cfg.EmailDelay)

		email, pending := PendingEmail, true
		if html, err := d.page.HTML(ctx); err != nil {
			d.logger.Warn("failed to read document for email discovery", "error", err)
		} else if found, ok := DiscoverEmail(html); ok {
			email, pending = found, false
		}

		signup := models.Signup{
			Email:    email,
			Method:   models.MethodOAuth,
			Provider: det.Provider,
			PageURL:  det.URL,
			Referrer: referrer,
			Metadata: map[string]any{
				"flow_id":          det.ID,
				"flow_type":        string(det.Type),
				"has_state":        det.State != "",
				"pending_identity": pending,
			},
			Timestamp: det.DetectedAt.UTC(),
		}

		if err := d.reporter.ReportSignup(ctx, signup); err != nil {
			d.logger.Warn("failed to report oauth signup", "provider", det.Provider, "error", err)
			return
		}

		d.mu.Lock()
		d.reported++
		d.mu.Unlock()
	}()
}

func (d *Detector) notify(det Detection) {
	d.mu.Lock()
	listeners := append([]func(Detection){}, d.listeners...)
	d.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("oauth listener panicked", "panic", r)
				}
			}()
			fn(det)
		}()
	}
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Checks returns how many polls ran since the last Start.
func (d *Detector) Checks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checks
}

// Failures returns how many error returns were seen.
func (d *Detector) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

// Reported returns how many returns were reported successfully.
func (d *Detector) Reported() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reported
}
