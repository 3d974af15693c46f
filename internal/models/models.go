package models

import "time"

// Signup methods.
const (
	MethodForm   = "form"
	MethodOAuth  = "oauth"
	MethodManual = "manual"
)

// ClientInfo describes the browser a report came from.
type ClientInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"` // desktop|mobile|tablet|bot
}

type Signup struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Method      string            `json:"method"`
	Provider    string            `json:"provider,omitempty"`
	PageURL     string            `json:"page_url"`
	Referrer    string            `json:"referrer,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	AnonymousID string            `json:"anonymous_id,omitempty"`
	Client      *ClientInfo       `json:"client,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

type ActivityMetrics struct {
	TimeOnPageSeconds      int64 `json:"time_on_page_seconds"`
	ScrollDepthPercent     int   `json:"scroll_depth_percent"`
	Clicks                 int   `json:"clicks"`
	PageViews              int   `json:"page_views"`
	Visible                bool  `json:"visible"`
	SessionDurationSeconds int64 `json:"session_duration_seconds"`
}

type Activity struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	PageURL     string          `json:"page_url"`
	Metrics     ActivityMetrics `json:"metrics"`
	AnonymousID string          `json:"anonymous_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type UserUpdate struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversion struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Type      string         `json:"type"`
	Value     float64        `json:"value"`
	Currency  string         `json:"currency"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
