// Package activity measures engagement on a page. Session holds the accounting and
// has no page dependency; Tracker feeds it from page events and reports it.
package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/safety"
)

// Session accumulates engagement for one tab. It is not safe for concurrent use.
type Session struct {
	StartTime          time.Time `json:"start_time"`
	LastActivity       time.Time `json:"last_activity"`
	TotalActiveMillis  int64     `json:"total_active_millis"`
	ScrollDepthPercent int       `json:"scroll_depth_percent"`
	ClickCount         int       `json:"click_count"`
	PageViews          int       `json:"page_views"`
	Visible            bool      `json:"visible"`
	UserEmail          string    `json:"user_email,omitempty"`

	// MaxInactivity is the longest gap between inputs still counted as active time.
	MaxInactivity time.Duration `json:"-"`
}

// NewSession starts a visible session with one page view.
func NewSession(now time.Time, maxInactivity time.Duration) *Session {
	return &Session{
		StartTime:     now,
		LastActivity:  now,
		PageViews:     1,
		Visible:       true,
		MaxInactivity: maxInactivity,
	}
}

// RecordActivity marks an input at now. The gap since the previous input counts as
// active time only when it is shorter than MaxInactivity; it reports whether it did.
func (s *Session) RecordActivity(now time.Time) bool {
	if now.Before(s.LastActivity) {
		return false
	}

	gap := now.Sub(s.LastActivity)
	s.LastActivity = now

	if gap <= 0 || gap >= s.MaxInactivity {
		return false
	}
	s.TotalActiveMillis += gap.Milliseconds()
	return true
}

// RecordClick records activity and counts the click when the target is safe.
func (s *Session) RecordClick(now time.Time, target page.Element) bool {
	s.RecordActivity(now)
	if !safety.IsSafeClickTarget(target.Tag, target.ID, target.Class) {
		return false
	}
	s.ClickCount++
	return true
}

// RecordScroll records activity and raises the maximum scroll depth. It returns the
// current maximum.
func (s *Session) RecordScroll(now time.Time, sc page.Scroll) int {
	s.RecordActivity(now)
	if sc.DocumentHeight <= 0 {
		return s.ScrollDepthPercent
	}

	depth := int((sc.Top + sc.ViewportHeight) / sc.DocumentHeight * 100)
	depth = max(0, min(depth, 100))
	s.ScrollDepthPercent = max(s.ScrollDepthPercent, depth)
	return s.ScrollDepthPercent
}

// RecordPageView counts an in-page navigation.
func (s *Session) RecordPageView(now time.Time) {
	s.PageViews++
	s.RecordActivity(now)
}

// SetVisible records a visibility change. Time spent hidden is never counted: on
// return the activity clock restarts at now.
func (s *Session) SetVisible(now time.Time, visible bool) {
	if visible && !s.Visible && now.After(s.LastActivity) {
		s.LastActivity = now
	}
	s.Visible = visible
}

// Idle reports whether no input was seen for MaxInactivity.
func (s *Session) Idle(now time.Time) bool {
	return now.Sub(s.LastActivity) >= s.MaxInactivity
}

// Resume merges prev into s when prev's last input is recent enough. Counters add up,
// scroll depth keeps the maximum and the session keeps prev's start.
func (s *Session) Resume(prev Session, now time.Time) bool {
	if prev.LastActivity.IsZero() || now.Sub(prev.LastActivity) >= s.MaxInactivity {
		return false
	}

	s.TotalActiveMillis += prev.TotalActiveMillis
	s.ClickCount += prev.ClickCount
	s.PageViews += prev.PageViews
	s.ScrollDepthPercent = max(s.ScrollDepthPercent, prev.ScrollDepthPercent)
	if !prev.StartTime.IsZero() && prev.StartTime.Before(s.StartTime) {
		s.StartTime = prev.StartTime
	}
	if s.UserEmail == "" {
		s.UserEmail = prev.UserEmail
	}
	return true
}

// ShouldReport reports whether active time exceeds minActive.
func (s *Session) ShouldReport(minActive time.Duration) bool {
	return s.TotalActiveMillis > minActive.Milliseconds()
}

// Metrics returns the values sent in an activity report.
func (s *Session) Metrics(now time.Time) models.ActivityMetrics {
	return models.ActivityMetrics{
		TimeOnPageSeconds:      s.TotalActiveMillis / 1000,
		ScrollDepthPercent:     s.ScrollDepthPercent,
		Clicks:                 s.ClickCount,
		PageViews:              s.PageViews,
		Visible:                s.Visible,
		SessionDurationSeconds: int64(now.Sub(s.StartTime).Seconds()),
	}
}

// Snapshot encodes the session for the session store.
func (s *Session) Snapshot() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return string(data), nil
}

// ParseSnapshot decodes a stored session.
func ParseSnapshot(raw string) (Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session: %w", err)
	}
	return s, nil
}
