package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	pageLoadTimeout = 30 * time.Second
	cardWaitTimeout = 10 * time.Second
	domSettleDur    = 500 * time.Millisecond

	// jobCardSelector is the same card structure ParseListing extracts
	// from. Rendering waits for it so the HTML is snapshotted after the
	// listing's JavaScript has populated the cards.
	jobCardSelector = "div.bg-white.rounded-md.shadow.p-3.w-full"
)

// RodRenderer loads the jobs listing in a headless Chromium instance
// managed by Rod, for deployments where the listing is populated by
// JavaScript and a plain GET returns an empty shell. Create with
// NewRodRenderer; call Close when done.
type RodRenderer struct {
	browser *rod.Browser

	// The fetcher renders page 1 and page 2 sequentially and on-demand
	// fetches are already collapsed by singleflight, so one tab at a
	// time is enough.
	mu sync.Mutex
}

// NewRodRenderer launches a headless Chromium process via Rod's launcher.
// Returns an error if Chrome/Chromium cannot be started.
func NewRodRenderer() (*RodRenderer, error) {
	u, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}

	return &RodRenderer{browser: browser}, nil
}

// Render loads a listing page, waits for the job cards to appear and
// returns the rendered HTML. A page with no cards is still returned
// after a short settle wait; ParseListing treats it as an empty
// listing.
func (r *RodRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	page, err := stealth.Page(r.browser)
	if err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	defer page.Close()

	loadCtx, cancel := context.WithTimeout(ctx, pageLoadTimeout)
	defer cancel()
	page = page.Context(loadCtx)

	// The cards are plain text once rendered; images, fonts, styling
	// and media only slow the load down.
	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeImage,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	go router.Run()
	defer router.MustStop()

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", pageURL, err)
	}

	if _, err := page.Timeout(cardWaitTimeout).Element(jobCardSelector); err != nil {
		// No cards within the wait: the listing page may legitimately
		// be empty. Let the DOM settle and return whatever is there.
		_ = page.WaitStable(domSettleDur)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("get HTML from %s: %w", pageURL, err)
	}

	return html, nil
}

// Close shuts down the headless browser process.
func (r *RodRenderer) Close() {
	_ = r.browser.Close()
}
