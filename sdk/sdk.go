// Package sdk detects signups and engagement on a page and reports them, subject to
// consent. An SDK is an explicit instance: construct one per page with New and pass
// it to whatever needs it.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bobch27/signupwatch/internal/activity"
	"github.com/bobch27/signupwatch/internal/consent"
	"github.com/bobch27/signupwatch/internal/forms"
	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/oauth"
	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/safety"
	"github.com/bobch27/signupwatch/internal/storage"
	"github.com/bobch27/signupwatch/internal/transport"
)

var (
	ErrMissingAPIKey  = errors.New("signupwatch: API key is required")
	ErrNotInitialized = errors.New("signupwatch: not initialized, call Init first")
	ErrNoConsent      = errors.New("signupwatch: user has not consented to tracking")
	ErrEmailRequired  = errors.New("signupwatch: email is required, pass one or call SetUserEmail")
	ErrInvalidEmail   = errors.New("signupwatch: invalid email address")
)

// Dependencies are the collaborators of an SDK. Only Page is required.
type Dependencies struct {
	Page         page.Page
	LocalStore   storage.Store  // persists across sessions for the page's origin
	SessionStore storage.Store  // lives as long as the tab
	Banner       consent.Banner // shown when Config.ConsentBanner is set
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// SDK is safe for concurrent use.
type SDK struct {
	deps   Dependencies
	gate   *consent.Gate
	base   *slog.Logger
	logger *slog.Logger
	level  *slog.LevelVar // only used by the default logger

	// detectMu serialises starting and stopping the detectors
	detectMu sync.Mutex

	mu          sync.Mutex
	cfg         Config
	initialized bool
	offline     bool
	detecting   bool
	stopRun     context.CancelFunc
	userEmail   string
	reporter    *reporter
	forms       *forms.Detector
	oauth       *oauth.Detector
	activity    *activity.Tracker
	oauthSeen   int
	listeners   []func(Event)
}

// New creates an uninitialized SDK for deps.Page.
func New(deps Dependencies) *SDK {
	if deps.LocalStore == nil {
		deps.LocalStore = storage.NewMemory()
	}
	if deps.SessionStore == nil {
		deps.SessionStore = storage.NewMemory()
	}

	s := &SDK{deps: deps, level: new(slog.LevelVar), base: deps.Logger}
	if s.base == nil {
		s.base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.level}))
	}
	s.logger = s.base.With("component", "sdk")
	s.gate = s.newGate()
	return s
}

func (s *SDK) newGate() *consent.Gate {
	opts := []consent.Option{
		consent.WithLogger(s.base),
		consent.WithDoNotTrack(s.doNotTrack),
	}
	if s.deps.Banner != nil {
		opts = append(opts, consent.WithBanner(s.deps.Banner))
	}

	gate := consent.New(s.deps.LocalStore, s.deps.SessionStore, opts...)
	gate.OnChange(func(rec consent.Record) {
		s.emit(EventConsentChanged, map[string]any{
			"granted":   rec.Granted,
			"opted_out": rec.OptedOut,
			"kind":      string(rec.Kind),
		})
	})
	return gate
}

// doNotTrack probes the page live; an unreadable signal counts as unset
func (s *SDK) doNotTrack(ctx context.Context) bool {
	if s.deps.Page == nil {
		return false
	}
	dnt, err := s.deps.Page.DoNotTrack(ctx)
	if err != nil {
		s.logger.Debug("failed to read do-not-track", "error", err)
		return false
	}
	return dnt
}

// Init validates the configuration, checks the API key with the service, runs the
// consent flow and starts detection once consent is granted. An unreachable service
// or rejected key puts the SDK in offline mode instead of failing.
func (s *SDK) Init(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if s.deps.Page == nil {
		return errors.New("signupwatch: a page is required")
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		s.logger.Debug("already initialized")
		return nil
	}
	s.mu.Unlock()

	if cfg.Debug {
		s.level.Set(slog.LevelDebug)
	}
	logger := s.base

	client, err := transport.New(transport.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
		HTTPClient: s.deps.HTTPClient,
		Logger:     logger,

		RequestsPerSecond: 5,
		Burst:             10,
	})
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	offline := false
	valid, err := client.ValidateKey(ctx)
	switch {
	case err != nil:
		s.logger.Warn("could not reach signupwatch, running in offline mode", "error", err)
		offline = true
	case !valid:
		s.logger.Warn("API key was rejected, running in offline mode")
		offline = true
	}

	if err := s.gate.Load(ctx); err != nil {
		s.logger.Warn("failed to load consent, treating as undecided", "error", err)
	}

	rep := &reporter{
		client:   client,
		gate:     s.gate,
		local:    s.deps.LocalStore,
		page:     s.deps.Page,
		privacy:  cfg.Privacy,
		logger:   s.logger,
		emit:     s.emit,
		identify: s.rememberEmail,
	}

	formDetector := forms.NewDetector(s.deps.Page, s.gate, rep, forms.Config{MaxForms: cfg.MaxForms}, logger)

	oauthDetector := oauth.NewDetector(s.deps.Page, s.gate, rep, oauth.Config{
		PollInterval: cfg.OAuthPollInterval,
		MaxChecks:    cfg.OAuthMaxChecks,
		EmailDelay:   cfg.OAuthEmailDelay,
		AutoCleanup:  cfg.AutoCleanup,
	}, logger)
	oauthDetector.OnDetect(s.handleOAuth)

	tracker := activity.NewTracker(s.deps.Page, s.gate, rep, s.deps.SessionStore,
		activity.Config{HeartbeatInterval: cfg.HeartbeatInterval}, logger)

	s.mu.Lock()
	s.cfg = cfg
	s.offline = offline
	s.reporter = rep
	s.forms = formDetector
	s.oauth = oauthDetector
	s.activity = tracker
	s.initialized = true
	if s.userEmail != "" {
		tracker.SetEmail(s.userEmail)
	}
	s.mu.Unlock()

	s.emit(EventInitialized, map[string]any{"offline_mode": offline})

	granted, err := s.gate.Request(ctx, s.consentOptions())
	if err != nil {
		s.logger.Warn("consent flow failed", "error", err)
		return nil
	}
	if !granted {
		s.logger.Info("no consent, detection not started")
		return nil
	}

	if err := s.StartDetection(ctx); err != nil {
		s.logger.Warn("failed to start detection", "error", err)
	}
	return nil
}

func (s *SDK) consentOptions() consent.RequestOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consent.RequestOptions{Banner: s.cfg.ConsentBanner, Timeout: s.cfg.ConsentTimeout}
}

type starter interface {
	Start(ctx context.Context) error
	Stop()
}

// StartDetection starts the configured detectors. It is a no-op while detecting and
// fails without consent. The detectors keep running after ctx is done, until
// StopDetection, OptOut, DeleteUserData or Reset.
func (s *SDK) StartDetection(ctx context.Context) error {
	s.detectMu.Lock()
	defer s.detectMu.Unlock()

	s.mu.Lock()
	initialized, detecting, cfg := s.initialized, s.detecting, s.cfg
	formDetector, oauthDetector, tracker := s.forms, s.oauth, s.activity
	s.mu.Unlock()

	if !initialized {
		return ErrNotInitialized
	}
	if detecting {
		return nil
	}
	if !s.gate.HasConsent(ctx) {
		return ErrNoConsent
	}

	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))

	var kinds []string
	var started []starter
	for _, d := range []struct {
		kind string
		det  starter
	}{
		{DetectSignups, formDetector},
		{DetectOAuth, oauthDetector},
		{DetectActivity, tracker},
	} {
		if !cfg.detects(d.kind) {
			continue
		}
		if err := d.det.Start(runCtx); err != nil {
			for _, st := range started {
				st.Stop()
			}
			stopRun()
			return fmt.Errorf("failed to start %s detection: %w", d.kind, err)
		}
		started = append(started, d.det)
		kinds = append(kinds, d.kind)
	}

	s.mu.Lock()
	s.detecting = true
	s.stopRun = stopRun
	s.mu.Unlock()

	s.logger.Info("detection started", "detectors", kinds)
	s.emit(EventDetectionStarted, map[string]any{"detectors": kinds})
	return nil
}

// StopDetection stops every detector. Reports already sent are not cancelled.
func (s *SDK) StopDetection() {
	s.detectMu.Lock()
	defer s.detectMu.Unlock()

	s.mu.Lock()
	if !s.detecting {
		s.mu.Unlock()
		return
	}
	s.detecting = false
	formDetector, oauthDetector, tracker, stopRun := s.forms, s.oauth, s.activity, s.stopRun
	s.stopRun = nil
	s.mu.Unlock()

	formDetector.Stop()
	oauthDetector.Stop()
	tracker.Stop()
	stopRun()

	s.logger.Info("detection stopped")
	s.emit(EventDetectionStopped, nil)
}

// Wait blocks until every report handed off so far has completed.
func (s *SDK) Wait() {
	s.mu.Lock()
	formDetector, oauthDetector, tracker, rep := s.forms, s.oauth, s.activity, s.reporter
	s.mu.Unlock()

	if formDetector == nil {
		return
	}
	formDetector.Wait()
	oauthDetector.Wait()
	tracker.Wait()
	rep.inflight.Wait()
}

func (s *SDK) handleOAuth(det oauth.Detection) {
	s.mu.Lock()
	s.oauthSeen++
	s.mu.Unlock()

	s.emit(EventOAuthDetected, map[string]any{
		"provider":  det.Provider,
		"flow_type": string(det.Type),
		"flow_id":   det.ID,
		"has_error": det.HasError,
	})
}

// ready checks the preconditions of a manual tracking call
func (s *SDK) ready(ctx context.Context) (*reporter, error) {
	s.mu.Lock()
	initialized, rep := s.initialized, s.reporter
	s.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}
	if !s.gate.HasConsent(ctx) {
		return nil, ErrNoConsent
	}
	return rep, nil
}

// resolveEmail returns the normalised explicit email, or the one set earlier
func (s *SDK) resolveEmail(email string) (string, error) {
	if email == "" {
		s.mu.Lock()
		email = s.userEmail
		s.mu.Unlock()
	}
	if email == "" {
		return "", ErrEmailRequired
	}
	if !safety.IsValidEmail(email) {
		return "", ErrInvalidEmail
	}
	return safety.NormalizeEmail(email), nil
}

// SignupData is a manually tracked signup.
type SignupData struct {
	Email    string
	Method   string
	Provider string
	Fields   map[string]string
	Metadata map[string]any
}

// TrackSignup reports a signup the host application detected itself.
func (s *SDK) TrackSignup(ctx context.Context, data SignupData) error {
	rep, err := s.ready(ctx)
	if err != nil {
		return err
	}
	email, err := s.resolveEmail(data.Email)
	if err != nil {
		return err
	}

	method := data.Method
	if method == "" {
		method = models.MethodManual
	}

	signup := models.Signup{
		Email:     email,
		Method:    method,
		Provider:  data.Provider,
		Fields:    safety.SanitizeFormData(data.Fields, nil),
		Metadata:  data.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if u, err := s.deps.Page.URL(ctx); err == nil {
		signup.PageURL = u
	}
	if ref, err := s.deps.Page.Referrer(ctx); err == nil {
		signup.Referrer = ref
	}

	if err := rep.ReportSignup(ctx, signup); err != nil {
		return err
	}

	s.rememberEmail(email)
	return nil
}

// UserData updates what the service knows about a user.
type UserData struct {
	Email string
	Name  string
}

func (s *SDK) UpdateUser(ctx context.Context, data UserData) error {
	rep, err := s.ready(ctx)
	if err != nil {
		return err
	}
	email, err := s.resolveEmail(data.Email)
	if err != nil {
		return err
	}

	name := ""
	if data.Name != "" {
		clean := safety.SanitizeFormData(map[string]string{"name": data.Name}, nil)
		name = clean["name"]
	}

	return rep.UpdateUser(ctx, models.UserUpdate{Email: email, Name: name, Timestamp: time.Now().UTC()})
}

// ConversionData is a business event such as a purchase.
type ConversionData struct {
	Email    string
	Type     string
	Value    float64
	Currency string
	Metadata map[string]any
}

func (s *SDK) TrackConversion(ctx context.Context, data ConversionData) error {
	rep, err := s.ready(ctx)
	if err != nil {
		return err
	}
	email, err := s.resolveEmail(data.Email)
	if err != nil {
		return err
	}

	conv := models.Conversion{
		Email:     email,
		Type:      data.Type,
		Value:     data.Value,
		Currency:  data.Currency,
		Metadata:  data.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if conv.Type == "" {
		conv.Type = "conversion"
	}
	if conv.Currency == "" {
		conv.Currency = "USD"
	}

	return rep.TrackConversion(ctx, conv)
}

// SetUserEmail sets the email used by later tracking calls and activity reports.
func (s *SDK) SetUserEmail(email string) error {
	if !safety.IsValidEmail(email) {
		return ErrInvalidEmail
	}
	s.rememberEmail(safety.NormalizeEmail(email))
	return nil
}

func (s *SDK) rememberEmail(email string) {
	s.mu.Lock()
	s.userEmail = email
	tracker := s.activity
	s.mu.Unlock()

	if tracker != nil {
		tracker.SetEmail(email)
	}
}

// ConsentStatus describes the consent gate.
type ConsentStatus struct {
	State      consent.State
	HasConsent bool
	DoNotTrack bool
	Record     *consent.Record
}

func (s *SDK) ConsentStatus(ctx context.Context) ConsentStatus {
	return ConsentStatus{
		State:      s.gate.State(),
		HasConsent: s.gate.HasConsent(ctx),
		DoNotTrack: s.gate.DoNotTrack(ctx),
		Record:     s.gate.Record(),
	}
}

// GrantConsent records an explicit grant, for hosts with their own consent UI, and
// starts detection when initialized.
func (s *SDK) GrantConsent(ctx context.Context) error {
	granted, err := s.gate.Grant(ctx, consent.Explicit)
	if err != nil {
		return err
	}
	if !granted {
		return ErrNoConsent
	}
	return s.startIfInitialized(ctx)
}

// OptOut stops detection, erases stored data and records the opt-out.
func (s *SDK) OptOut(ctx context.Context) error {
	s.StopDetection()
	s.Wait()

	if _, err := s.gate.OptOut(ctx); err != nil {
		return err
	}

	s.forgetUser()
	s.logger.Info("user opted out")
	return nil
}

// OptIn clears an opt-out and asks for consent again, starting detection if it is
// granted.
func (s *SDK) OptIn(ctx context.Context) (bool, error) {
	granted, err := s.gate.OptIn(ctx, s.consentOptions())
	if err != nil {
		return false, err
	}
	if !granted {
		return false, nil
	}
	return true, s.startIfInitialized(ctx)
}

func (s *SDK) startIfInitialized(ctx context.Context) error {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()

	if !initialized {
		return nil
	}
	return s.StartDetection(ctx)
}

// DeleteUserData stops detection and erases everything stored under the namespace,
// consent included.
func (s *SDK) DeleteUserData(ctx context.Context) error {
	s.StopDetection()
	s.Wait()

	if err := storage.Purge(ctx, s.deps.LocalStore, s.deps.SessionStore); err != nil {
		return fmt.Errorf("failed to delete stored data: %w", err)
	}
	if err := s.gate.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear consent: %w", err)
	}

	s.forgetUser()
	s.logger.Info("user data deleted")
	return nil
}

func (s *SDK) forgetUser() {
	s.mu.Lock()
	s.userEmail = ""
	tracker, rep := s.activity, s.reporter
	s.mu.Unlock()

	if tracker != nil {
		tracker.SetEmail("")
	}
	if rep != nil {
		rep.forget()
	}
}

// Status is a snapshot of the SDK.
type Status struct {
	Initialized     bool
	OfflineMode     bool
	Detecting       bool
	Consent         consent.State
	Detectors       []string
	HasUserEmail    bool
	FormsObserved   int
	SignupsReported int
	OAuthReturns    int
	OAuthFailures   int
	Activity        models.ActivityMetrics
}

func (s *SDK) Status() Status {
	s.mu.Lock()
	st := Status{
		Initialized:  s.initialized,
		OfflineMode:  s.offline,
		Detecting:    s.detecting,
		HasUserEmail: s.userEmail != "",
		OAuthReturns: s.oauthSeen,
	}
	if s.initialized {
		st.Detectors = append([]string(nil), s.cfg.Detect...)
	}
	formDetector, oauthDetector, tracker := s.forms, s.oauth, s.activity
	s.mu.Unlock()

	st.Consent = s.gate.State()
	if formDetector != nil {
		st.FormsObserved = formDetector.Observed()
		st.SignupsReported = formDetector.Reported()
		st.OAuthFailures = oauthDetector.Failures()
		st.Activity = tracker.Metrics()
	}
	return st
}

// Reset stops detection, forgets consent and identity, and returns the SDK to its
// uninitialized state.
func (s *SDK) Reset(ctx context.Context) error {
	s.StopDetection()
	s.Wait()

	// the activity snapshot carries the user's email and counters
	if err := storage.Purge(ctx, s.deps.SessionStore); err != nil {
		return fmt.Errorf("failed to clear session data: %w", err)
	}
	if err := s.deps.LocalStore.Delete(ctx, storage.KeyAnonymousID); err != nil {
		return fmt.Errorf("failed to clear anonymous id: %w", err)
	}
	s.forgetUser()

	err := s.gate.Clear(ctx)

	s.mu.Lock()
	s.initialized = false
	s.offline = false
	s.userEmail = ""
	s.oauthSeen = 0
	s.reporter = nil
	s.forms = nil
	s.oauth = nil
	s.activity = nil
	s.cfg = Config{}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear consent: %w", err)
	}
	return nil
}
