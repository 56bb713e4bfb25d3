// Package browser provides a process-wide headless browser controller.
// A single worker goroutine exclusively owns the rod browser; callers
// submit requests on a channel and wait on a per-request result sink, so
// browser access is strictly serialised in submission order.
package browser

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"truststack/internal/config"
	"truststack/internal/logging"
)

// Controller states.
const (
	StateStopped int32 = iota
	StateStarting
	StateRunning
	StateStopping
)

// ErrNotStarted is returned by FetchPage after Close or before Start.
var ErrNotStarted = errors.New("browser not started")

// ErrTimeout is returned when a caller's wait budget expires while the
// request is still queued or in flight. The worker keeps draining.
var ErrTimeout = errors.New("timeout waiting for browser")

// Request is one unit of browser work.
type Request struct {
	URL               string
	UserAgent         string
	CaptureScreenshot bool

	result chan Result
}

// Result is the browser's view of a fetched page.
type Result struct {
	URL          string
	Title        string
	Body         string
	HTML         string
	Status       int
	AccessDenied bool
	Screenshot   []byte
	Err          error
}

// Controller owns the shared browser. Create one per process and inject
// it into fetchers; all mutation happens on the worker goroutine.
type Controller struct {
	cfg config.BrowserConfig

	mu       sync.Mutex
	state    int32
	requests chan *Request
	done     chan struct{}
	browser  *rod.Browser
	cleanup  func()

	// fetchFn is swappable for tests; defaults to fetchOne.
	fetchFn func(*rod.Browser, *Request) Result
}

var (
	shared     *Controller
	sharedOnce sync.Once
)

// Shared returns the process-wide controller, creating it on first use.
func Shared(cfg config.BrowserConfig) *Controller {
	sharedOnce.Do(func() {
		shared = New(cfg)
	})
	return shared
}

// New creates a stopped controller.
func New(cfg config.BrowserConfig) *Controller {
	return &Controller{cfg: cfg, state: StateStopped}
}

// State returns the current lifecycle state.
func (c *Controller) State() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the browser and the worker goroutine. Idempotent when
// already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state == StateRunning || c.state == StateStarting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStarting
	c.mu.Unlock()

	l := launcher.New().Headless(c.cfg.Headless)
	if c.cfg.Bin != "" {
		l = l.Bin(c.cfg.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		return fmt.Errorf("connect to browser: %w", err)
	}

	c.mu.Lock()
	c.browser = browser
	c.cleanup = l.Cleanup
	c.requests = make(chan *Request, 16)
	c.done = make(chan struct{})
	c.state = StateRunning
	c.mu.Unlock()

	go c.worker()
	logging.Browser("browser started (headless=%v)", c.cfg.Headless)
	return nil
}

// Close posts a sentinel, drains in-flight work, closes the browser and
// joins the worker within a bounded timeout. Subsequent FetchPage calls
// fail with ErrNotStarted.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	requests := c.requests
	done := c.done
	c.mu.Unlock()

	requests <- nil // sentinel

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logging.BrowserWarn("worker did not drain within join timeout")
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	return nil
}

// FetchPage submits a request and waits up to timeout for the result.
// A zero timeout waits indefinitely.
func (c *Controller) FetchPage(url, userAgent string, captureScreenshot bool, timeout time.Duration) (Result, error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return Result{}, ErrNotStarted
	}
	requests := c.requests
	c.mu.Unlock()

	req := &Request{
		URL:               url,
		UserAgent:         userAgent,
		CaptureScreenshot: captureScreenshot,
		result:            make(chan Result, 1),
	}

	if timeout <= 0 {
		requests <- req
		return <-req.result, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case requests <- req:
	case <-deadline.C:
		return Result{}, ErrTimeout
	}
	select {
	case res := <-req.result:
		return res, nil
	case <-deadline.C:
		// Worker keeps draining; the buffered sink absorbs the late result.
		return Result{}, ErrTimeout
	}
}

// worker is the only goroutine that touches the browser.
func (c *Controller) worker() {
	c.mu.Lock()
	browser := c.browser
	requests := c.requests
	cleanup := c.cleanup
	done := c.done
	fetch := c.fetchFn
	c.mu.Unlock()
	if fetch == nil {
		fetch = c.fetchOne
	}

	for req := range requests {
		if req == nil {
			break
		}
		res := fetch(browser, req)
		req.result <- res
	}

	if browser != nil {
		if err := browser.Close(); err != nil && !isShutdownNoise(err) {
			logging.BrowserWarn("browser close: %v", err)
		}
	}
	if cleanup != nil {
		cleanup()
	}
	close(done)
	logging.Browser("browser worker exited")
}

// stealthScript masks common automation fingerprints before any page
// script runs.
const stealthScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
	if (originalQuery) {
		window.navigator.permissions.query = (parameters) =>
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters);
	}
}`

// extractScript implements the body-text strategy ladder:
// article -> main/role=main -> content-class div (>=150 chars) ->
// concatenated <p> -> body.
const extractScript = `() => {
	const text = el => (el && el.innerText) ? el.innerText.trim() : '';

	let t = text(document.querySelector('article'));
	if (t) return t;

	t = text(document.querySelector('main')) || text(document.querySelector('[role="main"]'));
	if (t) return t;

	const hints = ['content', 'post-content', 'article-body', 'article', 'entry', 'post', 'story-body'];
	for (const div of document.querySelectorAll('div[class]')) {
		const cls = div.className.toLowerCase();
		if (hints.some(h => cls.includes(h))) {
			const dt = text(div);
			if (dt.length >= 150) return dt;
		}
	}

	const paras = Array.from(document.querySelectorAll('p')).map(p => p.innerText.trim()).filter(Boolean);
	if (paras.length) return paras.join('\n\n');

	return text(document.body);
}`

func (c *Controller) fetchOne(browser *rod.Browser, req *Request) Result {
	res := Result{URL: req.URL}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		res.Err = fmt.Errorf("create page: %w", err)
		return res
	}
	defer func() {
		if err := page.Close(); err != nil && !isShutdownNoise(err) {
			logging.BrowserDebug("page close: %v", err)
		}
	}()

	if req.UserAgent != "" {
		_ = (proto.NetworkSetUserAgentOverride{UserAgent: req.UserAgent}).Call(page)
	}
	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		logging.BrowserDebug("stealth install: %v", err)
	}
	if c.cfg.ViewportWidth > 0 && c.cfg.ViewportHeight > 0 {
		_ = (proto.EmulationSetDeviceMetricsOverride{
			Width:             c.cfg.ViewportWidth,
			Height:            c.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
		}).Call(page)
	}

	// Record the document response status for the access-denied check.
	var status int32
	go page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type == proto.NetworkResourceTypeDocument {
			atomic.StoreInt32(&status, int32(ev.Response.Status))
			return true
		}
		return false
	})()

	nav := page.Timeout(c.cfg.NavigationTimeout())
	if err := nav.Navigate(req.URL); err != nil {
		res.Err = fmt.Errorf("navigate %s: %w", req.URL, err)
		return res
	}
	if err := nav.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		logging.BrowserDebug("dom stable wait: %v", err)
	}

	// Wait for the body element, bounded.
	if _, err := page.Timeout(c.cfg.BodyWaitTimeout()).Element("body"); err != nil {
		logging.BrowserDebug("body wait for %s: %v", req.URL, err)
	}

	if info, err := page.Info(); err == nil {
		res.Title = info.Title
	}
	res.Status = int(atomic.LoadInt32(&status))

	if body, err := page.Eval(extractScript); err == nil {
		res.Body = strings.TrimSpace(body.Value.Str())
	}
	if html, err := page.HTML(); err == nil {
		res.HTML = html
	}

	res.AccessDenied = deniedByStatus(res.Status) || deniedByContent(res.Title, res.Body)

	if req.CaptureScreenshot && !res.AccessDenied {
		shot, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			logging.BrowserDebug("screenshot %s: %v", req.URL, err)
		} else {
			res.Screenshot = shot
		}
	}

	return res
}

func deniedByStatus(status int) bool {
	return status == 401 || status == 403
}

func deniedByContent(title, body string) bool {
	probe := strings.ToLower(title + " " + firstN(body, 500))
	if strings.Contains(probe, "access denied") || strings.Contains(probe, "403 forbidden") {
		return true
	}
	return strings.Contains(probe, "cloudflare") && strings.Contains(probe, "security")
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isShutdownNoise filters errors expected while tearing down a live
// websocket session.
func isShutdownNoise(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "websocket: close")
}
