package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"github.com/oklog/ulid/v2"

	"github.com/bobch27/signupwatch/internal/consent"
	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/oauth"
	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/safety"
	"github.com/bobch27/signupwatch/internal/storage"
	"github.com/bobch27/signupwatch/internal/transport"
)

// reporter is the last stop before the network: it re-checks consent, stamps ids and
// client info, and scrubs URLs
type reporter struct {
	client   *transport.Client
	gate     *consent.Gate
	local    storage.Store
	page     page.Page
	privacy  bool
	logger   *slog.Logger
	emit     func(EventType, map[string]any)
	identify func(email string) // receives the email of every confirmed signup

	mu     sync.Mutex
	anonID string
	info   *models.ClientInfo

	inflight sync.WaitGroup
}

func (r *reporter) ReportSignup(ctx context.Context, s models.Signup) error {
	if !r.gate.HasConsent(ctx) {
		return ErrNoConsent
	}

	r.inflight.Add(1)
	defer r.inflight.Done()

	s.ID = ulid.Make().String()
	s.AnonymousID = r.anonymousID(ctx)
	s.Client = r.clientInfo(ctx)
	s.PageURL = safety.ScrubURL(s.PageURL, r.privacy)
	s.Referrer = r.scrubReferrer(s.Referrer)
	if r.privacy {
		s.Fields = nil
	}

	if err := r.client.RegisterSignup(ctx, s); err != nil {
		r.emit(EventReportFailed, map[string]any{"report": "signup", "method": s.Method, "error": err.Error()})
		return fmt.Errorf("failed to register signup: %w", err)
	}

	payload := map[string]any{"id": s.ID, "method": s.Method}
	if s.Provider != "" {
		payload["provider"] = s.Provider
	}
	r.emit(EventSignupReported, payload)
	r.logger.Info("signup reported", "id", s.ID, "method", s.Method)

	if r.identify != nil && s.Email != oauth.PendingEmail {
		r.identify(s.Email)
	}
	return nil
}

func (r *reporter) TrackActivity(ctx context.Context, a models.Activity) error {
	if !r.gate.HasConsent(ctx) {
		return ErrNoConsent
	}

	r.inflight.Add(1)
	defer r.inflight.Done()

	a.ID = ulid.Make().String()
	a.AnonymousID = r.anonymousID(ctx)
	a.PageURL = safety.ScrubURL(a.PageURL, r.privacy)

	if err := r.client.TrackActivity(ctx, a); err != nil {
		r.emit(EventReportFailed, map[string]any{"report": "activity", "error": err.Error()})
		return fmt.Errorf("failed to track activity: %w", err)
	}
	return nil
}

func (r *reporter) UpdateUser(ctx context.Context, u models.UserUpdate) error {
	if err := r.client.UpdateUser(ctx, u); err != nil {
		r.emit(EventReportFailed, map[string]any{"report": "user", "error": err.Error()})
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (r *reporter) TrackConversion(ctx context.Context, c models.Conversion) error {
	c.ID = ulid.Make().String()
	if err := r.client.TrackConversion(ctx, c); err != nil {
		r.emit(EventReportFailed, map[string]any{"report": "conversion", "error": err.Error()})
		return fmt.Errorf("failed to track conversion: %w", err)
	}
	return nil
}

// anonymousID returns the stored anonymous id, creating it on first use
func (r *reporter) anonymousID(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.anonID != "" {
		return r.anonID
	}

	id, err := r.local.Get(ctx, storage.KeyAnonymousID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && id == "") {
		id = uuid.New().String()
		if err := r.local.Set(ctx, storage.KeyAnonymousID, id); err != nil {
			r.logger.Warn("failed to persist anonymous id", "error", err)
		}
	} else if err != nil {
		r.logger.Warn("failed to read anonymous id", "error", err)
		return ""
	}

	r.anonID = id
	return id
}

func (r *reporter) forget() {
	r.mu.Lock()
	r.anonID = ""
	r.mu.Unlock()
}

func (r *reporter) clientInfo(ctx context.Context) *models.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.info != nil {
		return r.info
	}

	uaString, err := r.page.UserAgent(ctx)
	if err != nil || uaString == "" {
		return nil
	}

	r.info = parseUserAgent(uaString)
	return r.info
}

// parseUserAgent extracts browser, OS, and device type from a user agent string
func parseUserAgent(uaString string) *models.ClientInfo {
	ua := useragent.Parse(uaString)

	info := &models.ClientInfo{Browser: ua.Name, OS: ua.OS}
	if info.Browser == "" {
		info.Browser = "Unknown"
	}
	if info.OS == "" {
		info.OS = "Unknown"
	}

	switch {
	case ua.Mobile:
		info.DeviceType = "mobile"
	case ua.Tablet:
		info.DeviceType = "tablet"
	case ua.Bot:
		info.DeviceType = "bot"
	default:
		info.DeviceType = "desktop"
	}

	return info
}

// scrubReferrer keeps only the origin in privacy mode
func (r *reporter) scrubReferrer(referrer string) string {
	if !r.privacy {
		return safety.ScrubURL(referrer, false)
	}

	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
