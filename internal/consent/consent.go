// Package consent is the single source of truth for whether data may be collected
// and reported right now.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/storage"
)

// State of the consent state machine.
type State string

const (
	Undecided State = "undecided"
	Granted   State = "granted"
	Denied    State = "denied"
	OptedOut  State = "opted_out"
)

// Kind records how consent was obtained.
type Kind string

const (
	Explicit Kind = "explicit"
	Implicit Kind = "implicit"
)

// RecordVersion is bumped when the stored record layout changes.
const RecordVersion = 1

// Record is the persisted consent decision.
type Record struct {
	Granted   bool      `json:"granted"`
	OptedOut  bool      `json:"opted_out"`
	Kind      Kind      `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// Banner asks the user for a decision. Prompt blocks until the user answers or ctx
// is done.
type Banner interface {
	Prompt(ctx context.Context) (bool, error)
}

// RequestOptions controls Request.
type RequestOptions struct {
	// Banner shows the consent banner instead of granting implicit consent.
	Banner bool
	// Timeout after which an unanswered banner counts as a decline; zero waits
	// for ctx.
	Timeout time.Duration
}

// Gate tracks consent. It is safe for concurrent use.
type Gate struct {
	local   storage.Store
	session storage.Store
	banner  Banner
	dnt     func(ctx context.Context) bool
	logger  *slog.Logger

	mu        sync.Mutex
	record    *Record
	denied    bool
	listeners []func(Record)
}

// Option configures a Gate.
type Option func(*Gate)

// WithBanner sets the banner used when RequestOptions.Banner is set.
func WithBanner(b Banner) Option {
	return func(g *Gate) { g.banner = b }
}

// WithDoNotTrack sets the live Do-Not-Track probe.
func WithDoNotTrack(fn func(ctx context.Context) bool) Option {
	return func(g *Gate) { g.dnt = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate backed by a persistent local store and a per-tab session store.
func New(local, session storage.Store, opts ...Option) *Gate {
	g := &Gate{
		local:   local,
		session: session,
		dnt:     func(context.Context) bool { return false },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "consent")
	return g
}

// Load reads the persisted decision.
func (g *Gate) Load(ctx context.Context) error {
	rec, err := g.readRecord(ctx)
	if err != nil {
		return err
	}

	optedOut := false
	if v, err := g.local.Get(ctx, storage.KeyOptOut); err == nil {
		optedOut = v == "true"
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read opt-out flag: %w", err)
	}

	denied := false
	if v, err := g.session.Get(ctx, storage.KeyConsentDenied); err == nil {
		denied = v == "true"
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read denial: %w", err)
	}

	if optedOut {
		if rec == nil {
			rec = &Record{Version: RecordVersion}
		}
		rec.OptedOut = true
		rec.Granted = false
	}

	g.mu.Lock()
	g.record = rec
	g.denied = denied
	g.mu.Unlock()

	return nil
}

func (g *Gate) readRecord(ctx context.Context) (*Record, error) {
	raw, err := g.local.Get(ctx, storage.KeyConsent)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read consent: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		g.logger.Warn("discarding unreadable consent record", "error", err)
		return nil, nil
	}
	return &rec, nil
}

// State returns the current state of the machine.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Gate) stateLocked() State {
	switch {
	case g.record != nil && g.record.OptedOut:
		return OptedOut
	case g.record != nil && g.record.Granted:
		return Granted
	case g.denied:
		return Denied
	default:
		return Undecided
	}
}

// Record returns a copy of the current record, or nil if nothing was decided.
func (g *Gate) Record() *Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.record == nil {
		return nil
	}
	rec := *g.record
	return &rec
}

// DoNotTrack reports whether the browser's Do-Not-Track signal is set.
func (g *Gate) DoNotTrack(ctx context.Context) bool {
	return g.dnt(ctx)
}

// HasConsent reports whether collection is allowed: consent granted, no opt-out, and
// Do-Not-Track not set.
func (g *Gate) HasConsent(ctx context.Context) bool {
	if g.State() != Granted {
		return false
	}
	return !g.dnt(ctx)
}

// Request returns an existing decision without prompting. Otherwise Do-Not-Track
// declines, a banner asks, and without a banner implicit consent is granted.
func (g *Gate) Request(ctx context.Context, opts RequestOptions) (bool, error) {
	switch g.State() {
	case Granted:
		return g.HasConsent(ctx), nil
	case OptedOut, Denied:
		return false, nil
	}

	if g.dnt(ctx) {
		g.logger.Debug("do-not-track is set, not asking for consent")
		return false, nil
	}

	if !opts.Banner {
		return g.Grant(ctx, Implicit)
	}

	if g.banner == nil {
		return false, errors.New("consent: banner requested but none configured")
	}

	promptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	accepted, err := g.banner.Prompt(promptCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			g.logger.Info("consent banner timed out, treating as decline")
			return g.Deny(ctx)
		}
		return false, fmt.Errorf("consent banner failed: %w", err)
	}

	if accepted {
		return g.Grant(ctx, Explicit)
	}
	return g.Deny(ctx)
}

// Grant moves an undecided or denied user to Granted. An opted-out user must opt in
// first.
func (g *Gate) Grant(ctx context.Context, kind Kind) (bool, error) {
	g.mu.Lock()
	if g.stateLocked() == OptedOut {
		g.mu.Unlock()
		return false, nil
	}

	rec := Record{Granted: true, Kind: kind, Timestamp: time.Now().UTC(), Version: RecordVersion}
	g.record = &rec
	g.denied = false
	g.mu.Unlock()

	if err := g.writeRecord(ctx, rec); err != nil {
		return false, err
	}
	if err := g.session.Delete(ctx, storage.KeyConsentDenied); err != nil {
		g.logger.Warn("failed to clear denial", "error", err)
	}

	g.notify(rec)
	return g.HasConsent(ctx), nil
}

// Deny records a decline for this session. A future session may ask again.
func (g *Gate) Deny(ctx context.Context) (bool, error) {
	g.mu.Lock()
	if g.stateLocked() == OptedOut {
		g.mu.Unlock()
		return false, nil
	}

	rec := Record{Granted: false, Kind: Explicit, Timestamp: time.Now().UTC(), Version: RecordVersion}
	g.record = nil
	g.denied = true
	g.mu.Unlock()

	if err := g.local.Delete(ctx, storage.KeyConsent); err != nil {
		return false, fmt.Errorf("failed to clear consent: %w", err)
	}
	if err := g.session.Set(ctx, storage.KeyConsentDenied, "true"); err != nil {
		return false, fmt.Errorf("failed to persist denial: %w", err)
	}

	g.notify(rec)
	return false, nil
}

// OptOut purges everything stored under the namespace and records the opt-out. It is
// reachable from every state.
func (g *Gate) OptOut(ctx context.Context) (bool, error) {
	if err := storage.Purge(ctx, g.local, g.session); err != nil {
		return false, fmt.Errorf("failed to purge stored data: %w", err)
	}

	rec := Record{Granted: false, OptedOut: true, Timestamp: time.Now().UTC(), Version: RecordVersion}

	g.mu.Lock()
	g.record = &rec
	g.denied = false
	g.mu.Unlock()

	if err := g.local.Set(ctx, storage.KeyOptOut, "true"); err != nil {
		return false, fmt.Errorf("failed to persist opt-out: %w", err)
	}
	if err := g.writeRecord(ctx, rec); err != nil {
		return false, err
	}

	g.notify(rec)
	return false, nil
}

// OptIn clears an opt-out, returning the machine to Undecided, and asks again.
func (g *Gate) OptIn(ctx context.Context, opts RequestOptions) (bool, error) {
	if err := g.local.Delete(ctx, storage.KeyOptOut); err != nil {
		return false, fmt.Errorf("failed to clear opt-out: %w", err)
	}
	if err := g.local.Delete(ctx, storage.KeyConsent); err != nil {
		return false, fmt.Errorf("failed to clear consent: %w", err)
	}

	g.mu.Lock()
	g.record = nil
	g.denied = false
	g.mu.Unlock()

	g.notify(Record{Timestamp: time.Now().UTC(), Version: RecordVersion})

	return g.Request(ctx, opts)
}

// Clear forgets every decision, including an opt-out.
func (g *Gate) Clear(ctx context.Context) error {
	g.mu.Lock()
	g.record = nil
	g.denied = false
	g.mu.Unlock()

	var errs []error
	for _, key := range []string{storage.KeyConsent, storage.KeyOptOut} {
		if err := g.local.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.session.Delete(ctx, storage.KeyConsentDenied); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnChange registers fn to be called after every transition.
func (g *Gate) OnChange(fn func(Record)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

func (g *Gate) writeRecord(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}
	if err := g.local.Set(ctx, storage.KeyConsent, string(data)); err != nil {
		return fmt.Errorf("failed to persist consent: %w", err)
	}
	return nil
}

// notify calls every listener; a panicking listener is logged and skipped.
func (g *Gate) notify(rec Record) {
	g.mu.Lock()
	listeners := append([]func(Record){}, g.listeners...)
	g.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("consent listener panicked", "panic", r)
				}
			}()
			fn(rec)
		}()
	}
}
