package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/storage"
)

type State string

const (
	Idle     State = "idle"
	Tracking State = "tracking"
)

type Reporter interface {
	TrackActivity(ctx context.Context, a models.Activity) error
}

type ConsentChecker interface {
	HasConsent(ctx context.Context) bool
}

// Config tunes the tracker. Zero values take the defaults.
type Config struct {
	HeartbeatInterval time.Duration
	MaxInactivity     time.Duration
	MinActiveTime     time.Duration
	ScrollDebounce    time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Minute,
		MaxInactivity:     15 * time.Minute,
		MinActiveTime:     30 * time.Second,
		ScrollDebounce:    150 * time.Millisecond,
	}
}

// Tracker wires page events to a Session, persists it per tab and reports it.
type Tracker struct {
	page     page.Page
	consent  ConsentChecker
	reporter Reporter
	store    storage.Store
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	state          State
	sess           *Session
	email          string
	reportedMillis int64
	reports        int
	cancel         context.CancelFunc
	done           chan struct{}

	inflight sync.WaitGroup
}

// NewTracker creates an idle tracker. store is the per-tab session store.
func NewTracker(p page.Page, consent ConsentChecker, reporter Reporter, store storage.Store, cfg Config, logger *slog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaxInactivity <= 0 {
		cfg.MaxInactivity = def.MaxInactivity
	}
	if cfg.MinActiveTime <= 0 {
		cfg.MinActiveTime = def.MinActiveTime
	}
	if cfg.ScrollDebounce <= 0 {
		cfg.ScrollDebounce = def.ScrollDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		page:     p,
		consent:  consent,
		reporter: reporter,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "activity"),
		now:      time.Now,
		state:    Idle,
	}
}

// SetEmail sets the identity reports are sent for. Nothing is reported without one.
func (t *Tracker) SetEmail(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.email = email
	if t.sess != nil {
		t.sess.UserEmail = email
	}
}

// Start begins a session, resuming the tab's previous one if it is recent enough.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Idle {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	sub, err := t.page.Subscribe(page.EventActivity, page.EventClick, page.EventScroll,
		page.EventVisibility, page.EventURLChange, page.EventUnload)
	if err != nil {
		return fmt.Errorf("failed to observe activity: %w", err)
	}

	now := t.now()
	sess := NewSession(now, t.cfg.MaxInactivity)
	if prev, ok := t.loadSnapshot(ctx); ok && sess.Resume(prev, now) {
		t.logger.Debug("resumed session", "active_ms", sess.TotalActiveMillis, "page_views", sess.PageViews)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	if t.email != "" {
		sess.UserEmail = t.email
	} else {
		t.email = sess.UserEmail
	}
	t.sess = sess
	t.reportedMillis = 0
	t.state = Tracking
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.run(runCtx, sub, done)
	return nil
}

func (t *Tracker) loadSnapshot(ctx context.Context) (Session, bool) {
	raw, err := t.store.Get(ctx, storage.KeyActivitySession)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, false
	}
	if err != nil {
		t.logger.Warn("failed to read stored session", "error", err)
		return Session{}, false
	}

	prev, err := ParseSnapshot(raw)
	if err != nil {
		t.logger.Warn("discarding unreadable session", "error", err)
		return Session{}, false
	}
	return prev, true
}

func (t *Tracker) run(ctx context.Context, sub *page.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	heartbeat := time.NewTicker(t.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	beat := heartbeat.C

	inactivity := time.NewTimer(t.cfg.MaxInactivity)
	defer inactivity.Stop()

	scroll := time.NewTimer(t.cfg.ScrollDebounce)
	scroll.Stop()
	defer scroll.Stop()
	var scrollC <-chan time.Time
	var pending *page.Scroll

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				t.apply(func(s *Session) { s.RecordScroll(t.now(), *pending) })
			}
			t.flush(ctx, "stop")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				t.flush(ctx, "released")
				return
			}

			at := ev.Time
			if at.IsZero() {
				at = t.now()
			}

			switch ev.Kind {
			case page.EventActivity:
				t.apply(func(s *Session) { s.RecordActivity(at) })
			case page.EventClick:
				if ev.Target != nil {
					t.apply(func(s *Session) { s.RecordClick(at, *ev.Target) })
				}
			case page.EventScroll:
				if ev.Scroll != nil {
					sc := *ev.Scroll
					pending = &sc
					scroll.Reset(t.cfg.ScrollDebounce)
					scrollC = scroll.C
				}
			case page.EventURLChange:
				t.apply(func(s *Session) { s.RecordPageView(at) })
			case page.EventVisibility:
				t.apply(func(s *Session) { s.SetVisible(at, ev.Visible) })
				if !ev.Visible {
					beat = nil
					t.flush(ctx, "hidden")
					continue
				}
				heartbeat.Reset(t.cfg.HeartbeatInterval)
				beat = heartbeat.C
			case page.EventUnload:
				t.flush(ctx, "unload")
				continue
			}

			inactivity.Reset(t.cfg.MaxInactivity)
			if beat == nil && t.visible() {
				heartbeat.Reset(t.cfg.HeartbeatInterval)
				beat = heartbeat.C
			}

		case <-scrollC:
			scrollC = nil
			if pending != nil {
				sc := *pending
				pending = nil
				t.apply(func(s *Session) { s.RecordScroll(t.now(), sc) })
			}

		case <-beat:
			t.heartbeat(ctx)

		case <-inactivity.C:
			beat = nil
			t.logger.Debug("no activity, pausing heartbeat")
		}
	}
}

func (t *Tracker) apply(fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != nil {
		fn(t.sess)
	}
}

func (t *Tracker) visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil && t.sess.Visible
}

func (t *Tracker) heartbeat(ctx context.Context) {
	t.mu.Lock()
	ready := t.sess != nil && t.sess.ShouldReport(t.cfg.MinActiveTime)
	t.mu.Unlock()

	if !ready {
		return
	}
	t.report(ctx, "heartbeat")
	t.persist(ctx)
}

// flush reports active time not yet reported and persists the session.
func (t *Tracker) flush(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)

	t.mu.Lock()
	pending := t.sess != nil && t.sess.TotalActiveMillis > t.reportedMillis
	t.mu.Unlock()

	if pending {
		t.report(ctx, reason)
	}
	t.persist(ctx)
}

func (t *Tracker) report(ctx context.Context, reason string) {
	if !t.consent.HasConsent(ctx) {
		return
	}

	t.mu.Lock()
	if t.sess == nil || t.email == "" {
		t.mu.Unlock()
		t.logger.Debug("no email yet, skipping activity report", "reason", reason)
		return
	}
	now := t.now()
	a := models.Activity{
		Email:     t.email,
		Metrics:   t.sess.Metrics(now),
		Timestamp: now.UTC(),
	}
	t.reportedMillis = t.sess.TotalActiveMillis
	t.reports++
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if u, err := t.page.URL(ctx); err == nil {
		a.PageURL = u
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		if err := t.reporter.TrackActivity(ctx, a); err != nil {
			t.logger.Warn("failed to report activity", "reason", reason, "error", err)
		}
	}()
}

func (t *Tracker) persist(ctx context.Context) {
	if !t.consent.HasConsent(ctx) {
		return
	}

	t.mu.Lock()
	if t.sess == nil {
		t.mu.Unlock()
		return
	}
	snapshot, err := t.sess.Snapshot()
	t.mu.Unlock()
	if err != nil {
		t.logger.Warn("failed to snapshot session", "error", err)
		return
	}

	if err := t.store.Set(context.WithoutCancel(ctx), storage.KeyActivitySession, snapshot); err != nil {
		t.logger.Warn("failed to persist session", "error", err)
	}
}

// Stop flushes the session one last time and releases the page subscription.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	t.mu.Lock()
	t.state = Idle
	t.mu.Unlock()
}

// Wait blocks until in-flight reports have completed.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Metrics returns the current session metrics, or zero values before Start.
func (t *Tracker) Metrics() models.ActivityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return models.ActivityMetrics{}
	}
	return t.sess.Metrics(t.now())
}

// Reports returns how many activity reports were handed to the reporter.
func (t *Tracker) Reports() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reports
}
