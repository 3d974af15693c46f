package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/bobch27/signupwatch/internal/page"
)

// DefaultBannerText is shown when no message is configured
const DefaultBannerText = "We use your signup and activity data to improve your onboarding. Do you agree?"

// Banner shows an accept/decline consent banner in the tab and waits for the click
type Banner struct {
	page *Page
	text string
}

func NewBanner(p *Page, text string) *Banner {
	if text == "" {
		text = DefaultBannerText
	}
	return &Banner{page: p, text: text}
}

// Prompt injects the banner and blocks until the user decides or ctx is done
func (b *Banner) Prompt(ctx context.Context) (bool, error) {
	sub, err := b.page.Subscribe(page.EventConsent)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	script, err := bannerFor(b.text)
	if err != nil {
		return false, err
	}
	if err := b.page.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return false, fmt.Errorf("failed to show consent banner: %w", err)
	}

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			return false, page.ErrClosed
		}
		return ev.Accepted, nil
	case <-ctx.Done():
		// the banner outlives ctx otherwise
		if err := b.page.run(context.WithoutCancel(ctx), chromedp.Evaluate(removeBannerScript, nil)); err != nil {
			b.page.logger.Debug("failed to remove consent banner", "error", err)
		}
		return false, ctx.Err()
	}
}

func bannerFor(text string) (string, error) {
	quoted, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(bannerScript, quoted), nil
}
