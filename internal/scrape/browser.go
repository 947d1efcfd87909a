package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"webscout/internal/logging"
)

// Renderer renders script-heavy pages in a shared headless browser.
// The browser is launched lazily on first use and reused across pages.
type Renderer struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewRenderer creates a renderer. The browser is not launched until the
// first Render call.
func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) connect(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	timer := logging.StartTimer(logging.CategoryScrape, "Renderer.launch")
	defer timer.StopWithInfo()

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.browser = browser
	return browser, nil
}

// Render loads the URL in a fresh page, waits for the load event, and
// returns the rendered HTML.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.connect(ctx)
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(10 * time.Second)
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page load failed: %w", err)
	}

	rendered, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read rendered HTML: %w", err)
	}
	return rendered, nil
}

// Close shuts the browser down if it was launched.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
