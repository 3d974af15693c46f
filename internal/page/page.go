// Package page models the parts of a live web page the detectors care about as plain
// data, and defines the Page interface the browser adapter implements.
package page

import (
	"context"
	"time"
)

// EventKind identifies a DOM or navigation event forwarded from the page.
type EventKind string

const (
	EventFormAdded  EventKind = "form_added"
	EventSubmit     EventKind = "submit"
	EventActivity   EventKind = "activity" // pointer move, key press, focus
	EventClick      EventKind = "click"
	EventScroll     EventKind = "scroll"
	EventVisibility EventKind = "visibility"
	EventURLChange  EventKind = "url_change"
	EventUnload     EventKind = "unload"
	EventConsent    EventKind = "consent" // banner decision
)

// Field is an input, select or textarea inside a form.
type Field struct {
	Tag          string `json:"tag"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	ID           string `json:"id"`
	Value        string `json:"value"`
	Placeholder  string `json:"placeholder"`
	AriaLabel    string `json:"ariaLabel"`
	Autocomplete string `json:"autocomplete"`
	// Rendered is nil when the element's computed style could not be inspected.
	Rendered *bool `json:"rendered,omitempty"`
}

// Key returns the name the field's value is captured under.
func (f Field) Key() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// Form is a snapshot of a form element and its fields.
type Form struct {
	// Key is stable for the lifetime of the element in the document.
	Key          string   `json:"key"`
	Action       string   `json:"action"`
	ID           string   `json:"id"`
	Class        string   `json:"class"`
	Name         string   `json:"name"`
	Fields       []Field  `json:"fields"`
	SubmitLabels []string `json:"submitLabels"`
}

// Element is the target of a click.
type Element struct {
	Tag   string `json:"tag"`
	ID    string `json:"id"`
	Class string `json:"class"`
}

// Scroll carries the scroll geometry at the time of a scroll event.
type Scroll struct {
	Top            float64 `json:"top"`
	ViewportHeight float64 `json:"viewportHeight"`
	DocumentHeight float64 `json:"documentHeight"`
}

// Event is a single notification from the page.
type Event struct {
	Kind   EventKind `json:"kind"`
	Time   time.Time `json:"-"`
	Form   *Form     `json:"form,omitempty"`
	Target *Element  `json:"target,omitempty"`
	Scroll *Scroll   `json:"scroll,omitempty"`
	URL    string    `json:"url,omitempty"`
	// Visible is set on visibility events, Accepted on consent events.
	Visible  bool `json:"visible,omitempty"`
	Accepted bool `json:"accepted,omitempty"`
}

// Page is the host page as seen by the detectors. Implementations must be safe for
// concurrent use.
type Page interface {
	URL(ctx context.Context) (string, error)
	Referrer(ctx context.Context) (string, error)
	UserAgent(ctx context.Context) (string, error)
	// HTML returns a snapshot of the current document.
	HTML(ctx context.Context) (string, error)
	// ReplaceURL rewrites the address bar without navigating.
	ReplaceURL(ctx context.Context, rawURL string) error
	// NavigationStart reports when the current document load began.
	NavigationStart(ctx context.Context) (time.Time, error)
	DoNotTrack(ctx context.Context) (bool, error)
	// Subscribe acquires a subscription to the given event kinds. The caller owns the
	// subscription and must Close it.
	Subscribe(kinds ...EventKind) (*Subscription, error)
}
