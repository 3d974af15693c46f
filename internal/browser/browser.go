// Package browser implements page.Page on top of a Chrome tab driven by chromedp.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/bobch27/signupwatch/internal/page"
)

// name of the function the hook script calls to reach Go
const bindingName = "__signupwatchEmit"

// set while the SDK itself rewrites the address bar
const silentFlag = "__signupwatchSilent"

// Page is a Chrome tab seen as a page.Page
type Page struct {
	*page.Hub

	tab    context.Context
	logger *slog.Logger
}

// Attach installs the event hook into the tab behind tabCtx, which must come from
// chromedp.NewContext. The hook runs on every document loaded afterwards and on the
// current one.
func Attach(tabCtx context.Context, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Page{
		Hub:    page.NewHub(),
		tab:    tabCtx,
		logger: logger.With("component", "browser"),
	}

	chromedp.ListenTarget(tabCtx, p.handleTargetEvent)

	err := chromedp.Run(tabCtx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(hookScript).Do(ctx)
			return err
		}),
		chromedp.Evaluate(hookScript, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to tab: %w", err)
	}

	// release subscribers when the tab goes away
	go func() {
		<-tabCtx.Done()
		p.Close()
	}()

	return p, nil
}

// handleTargetEvent runs on the chromedp event loop and must not block
func (p *Page) handleTargetEvent(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}

	event, err := decodePayload(called.Payload)
	if err != nil {
		p.logger.Debug("dropping malformed page event", "error", err)
		return
	}

	if dropped := p.Publish(event); dropped > 0 {
		p.logger.Debug("subscriber buffer full, event dropped", "kind", event.Kind, "dropped", dropped)
	}
}

type payload struct {
	page.Event
	Millis float64 `json:"t"`
}

// decodePayload turns a binding payload into an event
func decodePayload(raw string) (page.Event, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return page.Event{}, fmt.Errorf("failed to decode page event: %w", err)
	}
	if p.Kind == "" {
		return page.Event{}, fmt.Errorf("page event without kind")
	}

	ev := p.Event
	if p.Millis > 0 {
		ev.Time = millisToTime(p.Millis)
	} else {
		ev.Time = time.Now()
	}
	return ev, nil
}

func millisToTime(ms float64) time.Time {
	sec, frac := math.Modf(ms / 1000)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// run executes actions on the tab, giving up when either ctx or the tab is done
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (p *Page) Referrer(ctx context.Context) (string, error) {
	var ref string
	if err := p.run(ctx, chromedp.Evaluate(`document.referrer`, &ref)); err != nil {
		return "", fmt.Errorf("failed to read referrer: %w", err)
	}
	return ref, nil
}

func (p *Page) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := p.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", fmt.Errorf("failed to read user agent: %w", err)
	}
	return ua, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &html)); err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return html, nil
}

// ReplaceURL rewrites the address bar with history.replaceState. The rewrite is
// not reported as a url_change.
func (p *Page) ReplaceURL(ctx context.Context, rawURL string) error {
	script, err := replaceURLFor(rawURL)
	if err != nil {
		return err
	}

	if err := p.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("failed to replace URL: %w", err)
	}
	return nil
}

func replaceURLFor(rawURL string) (string, error) {
	quoted, err := json.Marshal(rawURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(replaceURLScript, quoted), nil
}

// NavigationStart reads performance.timeOrigin of the current document
func (p *Page) NavigationStart(ctx context.Context) (time.Time, error) {
	var origin float64
	if err := p.run(ctx, chromedp.Evaluate(`performance.timeOrigin`, &origin)); err != nil {
		return time.Time{}, fmt.Errorf("failed to read navigation timing: %w", err)
	}
	return millisToTime(origin), nil
}

func (p *Page) DoNotTrack(ctx context.Context) (bool, error) {
	var dnt bool
	if err := p.run(ctx, chromedp.Evaluate(doNotTrackScript, &dnt)); err != nil {
		return false, fmt.Errorf("failed to read do-not-track: %w", err)
	}
	return dnt, nil
}

var _ page.Page = (*Page)(nil)
