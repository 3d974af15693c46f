package sdk

import "time"

// EventType names a lifecycle notification.
type EventType string

const (
	EventInitialized      EventType = "initialized"
	EventDetectionStarted EventType = "detection-started"
	EventDetectionStopped EventType = "detection-stopped"
	EventConsentChanged   EventType = "consent-changed"
	EventSignupReported   EventType = "signup-reported"
	EventOAuthDetected    EventType = "oauth-detected"
	EventReportFailed     EventType = "report-failed"
)

// Event is delivered to OnEvent listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   map[string]any
}

// OnEvent registers fn for every notification. Listeners run synchronously on the
// goroutine that caused the event; a panicking listener is logged and skipped.
func (s *SDK) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *SDK) emit(typ EventType, payload map[string]any) {
	s.mu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()

	ev := Event{Type: typ, Timestamp: time.Now().UTC(), Payload: payload}
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event listener panicked", "event", typ, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}
