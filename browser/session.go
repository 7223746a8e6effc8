// Package browser wraps a single headless-browser session behind a small
// capability interface so the pipeline never depends on the automation
// backend directly. One session is owned by exactly one component at a
// time; it is never shared across concurrent callers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// ErrElementNotFound reports a click target that is absent from the page.
// Callers treat it as a soft failure.
var ErrElementNotFound = errors.New("browser: element not found")

const cookieBannerSelector = "#onetrust-accept-btn-handler"

// Session is the capability contract the pipeline drives: navigate, read
// the rendered DOM, trigger an in-page click, and release resources.
type Session interface {
	// Navigate loads url and blocks until the page reports ready, then
	// waits the configured settle delay for client-side rendering.
	Navigate(ctx context.Context, url string) error
	// HTML returns the current rendered document.
	HTML(ctx context.Context) (string, error)
	// Click clicks the first element matching the CSS selector and waits
	// the configured expansion settle. Returns ErrElementNotFound when no
	// element matches the selector.
	Click(ctx context.Context, selector string) error
	// AcceptCookieBanner dismisses the consent banner if present. Best
	// effort: failures are swallowed.
	AcceptCookieBanner(ctx context.Context)
	// Close releases the browser. Safe to call more than once.
	Close() error
}

// Options configures a chromedp-backed session.
type Options struct {
	Headless             bool
	WindowWidth          int
	WindowHeight         int
	DisableNotifications bool
	UserAgent            string

	NavTimeout       time.Duration
	SettleDelay      time.Duration
	FirstSettleDelay time.Duration
	ClickSettle      time.Duration
	ClickTimeout     time.Duration
}

type chromeFlag struct {
	name  string
	value any
}

// chromeFlags lists the Chrome flags derived from the options, applied on
// top of chromedp's defaults. The headless flag is always set explicitly:
// the defaults already carry headless=true, so a headful session must
// override it with false.
func (o Options) chromeFlags() []chromeFlag {
	flags := []chromeFlag{
		{"headless", o.Headless},
		{"disable-gpu", true},
		{"no-sandbox", true},
		{"window-size", fmt.Sprintf("%d,%d", o.WindowWidth, o.WindowHeight)},
	}
	if o.DisableNotifications {
		flags = append(flags, chromeFlag{"disable-notifications", true})
	}
	if o.UserAgent != "" {
		flags = append(flags, chromeFlag{"user-agent", o.UserAgent})
	}
	return flags
}

type chromeSession struct {
	opts Options

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	navigated bool
}

// Open starts a browser and returns a ready session. The caller must
// Close it, including on abnormal termination.
func Open(opts Options) (Session, error) {
	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	for _, f := range opts.chromeFlags() {
		allocOpts = append(allocOpts, chromedp.Flag(f.name, f.value))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser process up front so Open fails fast when no
	// usable Chrome binary is around.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &chromeSession{
		opts:          opts,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	settle := s.opts.SettleDelay
	if !s.navigated && s.opts.FirstSettleDelay > 0 {
		settle = s.opts.FirstSettleDelay
	}

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if settle > 0 {
		tasks = append(tasks, chromedp.Sleep(settle))
	}

	if err := s.run(ctx, s.opts.NavTimeout, tasks); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	s.navigated = true
	return nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.opts.NavTimeout, chromedp.Tasks{
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	// AtLeast(0) makes the node query return without waiting, so an
	// absent element is detected immediately instead of burning the whole
	// click timeout.
	var nodes []*cdp.Node
	if err := s.run(ctx, s.opts.ClickTimeout, chromedp.Tasks{
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
	}); err != nil {
		return fmt.Errorf("locate %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	tasks := chromedp.Tasks{
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	}
	if s.opts.ClickSettle > 0 {
		tasks = append(tasks, chromedp.Sleep(s.opts.ClickSettle))
	}
	if err := s.run(ctx, s.opts.ClickTimeout, tasks); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) AcceptCookieBanner(ctx context.Context) {
	_ = s.Click(ctx, cookieBannerSelector)
}

func (s *chromeSession) Close() error {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	return nil
}

func (s *chromeSession) run(ctx context.Context, timeout time.Duration, tasks chromedp.Tasks) error {
	runCtx := s.browserCtx
	if ctx != nil {
		// Honor caller cancellation without detaching from the browser.
		var stop context.CancelFunc
		runCtx, stop = mergeCancel(s.browserCtx, ctx)
		defer stop()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	return chromedp.Run(runCtx, tasks)
}

// mergeCancel returns a copy of parent that is additionally canceled when
// other is done. chromedp contexts carry browser state in their values,
// so parent must stay the base context.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
