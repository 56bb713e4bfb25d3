// Package fetch turns URLs into extracted page records. It tries plain
// HTTP first and escalates to the shared headless browser for hosts
// that block or client-render, remembering which hosts needed it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"truststack/internal/browser"
	"truststack/internal/config"
	"truststack/internal/content"
	"truststack/internal/logging"
	"truststack/internal/ratelimit"
	"truststack/internal/robots"
)

// ErrRobotsBlocked marks URLs whose robots.txt disallows our agent.
var ErrRobotsBlocked = errors.New("blocked by robots.txt")

// browserWait bounds how long a caller waits for the shared browser
// queue; pages behind it can be slow to render.
const browserWait = 60 * time.Second

const maxBodyBytes = 4 << 20

// Page is the extracted view of one fetched URL.
type Page struct {
	URL            string
	FinalURL       string
	Title          string
	Body           string
	HTML           string
	Structured     []content.Segment
	Legal          LegalLinks
	Badges         content.VerificationBadges
	ScreenshotPath string
	Status         int
	AccessDenied   bool
	ViaBrowser     bool
}

// Fetcher coordinates HTTP sessions, pacing, robots checks and browser
// escalation. Safe for concurrent use.
type Fetcher struct {
	cfg      config.FetchConfig
	limiter  *ratelimit.Limiter
	robots   *robots.Cache
	browser  *browser.Controller
	sessions *sessionPool
	memo     *browserMemo

	visualAnalysis bool
	screenshotDir  string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithVisualAnalysis makes site-root fetches go through the browser and
// capture screenshots.
func WithVisualAnalysis(dir string) Option {
	return func(f *Fetcher) {
		f.visualAnalysis = true
		f.screenshotDir = dir
	}
}

// New builds a Fetcher. The browser controller may be nil, in which
// case escalation is skipped and blocked pages surface as-is.
func New(cfg config.FetchConfig, limiter *ratelimit.Limiter, robotsCache *robots.Cache, ctrl *browser.Controller, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		limiter:  limiter,
		robots:   robotsCache,
		browser:  ctrl,
		sessions: newSessionPool(),
		memo:     newBrowserMemo(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves and extracts one URL, respecting robots.txt and
// per-host pacing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.robots != nil && !f.robots.IsAllowed(rawURL, f.cfg.UserAgent) {
		logging.Fetch("robots disallows %s", rawURL)
		return nil, fmt.Errorf("%s: %w", rawURL, ErrRobotsBlocked)
	}

	host := hostOf(rawURL)
	if host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	if f.wantsBrowserFirst(rawURL, host) {
		if page, err := f.browserFetch(ctx, rawURL); err == nil {
			return page, nil
		} else {
			logging.FetchWarn("browser-first fetch of %s failed, trying http: %v", rawURL, err)
		}
	}

	page, err := f.httpFetch(ctx, rawURL, host)
	if err == nil && !f.needsEscalation(page) {
		return page, nil
	}

	if f.browser != nil {
		if err != nil {
			logging.Fetch("http fetch of %s failed (%v), escalating to browser", rawURL, err)
		} else {
			logging.Fetch("http fetch of %s unusable (status=%d len=%d), escalating to browser", rawURL, page.Status, len(page.Body))
		}
		bp, berr := f.browserFetch(ctx, rawURL)
		if berr == nil && !bp.AccessDenied && len(bp.Body) >= f.cfg.MinBodyLength {
			f.memo.mark(host)
			return bp, nil
		}
		if berr == nil && (err != nil || len(bp.Body) > len(page.Body)) {
			return bp, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return page, nil
}

// wantsBrowserFirst skips the HTTP attempt for hosts known to need the
// browser, and for site roots when visual analysis wants a screenshot.
func (f *Fetcher) wantsBrowserFirst(rawURL, host string) bool {
	if f.browser == nil {
		return false
	}
	if f.memo.requires(host) {
		return true
	}
	if f.cfg.UseBrowser {
		return true
	}
	return f.visualAnalysis && isSiteRoot(rawURL)
}

// needsEscalation reports whether an HTTP result is too degraded to use.
func (f *Fetcher) needsEscalation(page *Page) bool {
	if page.AccessDenied {
		return true
	}
	return page.Status == http.StatusOK && len(page.Body) < f.cfg.MinBodyLength
}

func (f *Fetcher) httpFetch(ctx context.Context, rawURL, host string) (*Page, error) {
	profile := f.profileFor(host)
	client := f.sessions.get(host, profile.Timeout)

	var lastErr error
	for attempt := 1; attempt <= profile.MaxRetries+1; attempt++ {
		if attempt == 1 {
			f.limiter.Wait(rawURL)
		} else {
			backoff := profile.BaseBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff + profile.randomDelay()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		page, retryable, err := f.doRequest(ctx, client, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable {
			return page, err
		}
		logging.FetchDebug("attempt %d for %s: %v", attempt, rawURL, err)
	}
	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

// doRequest performs one HTTP round trip. The returned page is non-nil
// for definitive statuses even when err is set, so callers can inspect
// the denial.
func (f *Fetcher) doRequest(ctx context.Context, client *http.Client, rawURL string) (*Page, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		page := &Page{URL: rawURL, FinalURL: resp.Request.URL.String(), Status: resp.StatusCode, AccessDenied: true}
		return page, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}

	page := f.parsePage(rawURL, resp.Request.URL.String(), string(raw), resp.StatusCode)
	if len(page.Body) < f.cfg.MinBodyLength {
		f.debugDump(rawURL, string(raw), "thin")
	}
	return page, false, nil
}

func (f *Fetcher) browserFetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.browser == nil {
		return nil, browser.ErrNotStarted
	}
	if err := f.browser.Start(); err != nil {
		return nil, err
	}

	capture := f.visualAnalysis && f.screenshotDir != ""
	res, err := f.browser.FetchPage(rawURL, f.cfg.UserAgent, capture, browserWait)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}

	page := f.parsePage(rawURL, rawURL, res.HTML, res.Status)
	page.ViaBrowser = true
	if page.Title == "" {
		page.Title = res.Title
	}
	// The rendered innerText beats a static parse on script-heavy pages.
	if len(res.Body) > len(page.Body) {
		page.Body = res.Body
	}
	page.AccessDenied = page.AccessDenied || res.AccessDenied
	if len(res.Screenshot) > 0 {
		if path, serr := f.saveScreenshot(rawURL, res.Screenshot); serr == nil {
			page.ScreenshotPath = path
		} else {
			logging.FetchWarn("save screenshot for %s: %v", rawURL, serr)
		}
	}
	return page, nil
}

// parsePage runs the extraction pipeline over raw HTML.
func (f *Fetcher) parsePage(rawURL, finalURL, html string, status int) *Page {
	page := &Page{URL: rawURL, FinalURL: finalURL, HTML: html, Status: status}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logging.FetchWarn("parse %s: %v", rawURL, err)
		return page
	}

	page.Title = extractTitle(doc)
	page.Body = extractBody(doc)
	page.Structured = extractSegments(doc)
	page.Legal = extractLegalLinks(doc, finalURL)
	page.Badges = detectBadges(doc, hostOf(finalURL))
	page.AccessDenied = deniedTitle(page.Title)
	return page
}

// deniedTitle catches block pages that come back with status 200.
func deniedTitle(title string) bool {
	probe := strings.ToLower(title)
	return strings.Contains(probe, "access denied") ||
		strings.Contains(probe, "403 forbidden") ||
		(strings.Contains(probe, "attention required") && strings.Contains(probe, "cloudflare"))
}

// Links returns same-host anchors from a fetched page, used for
// brand-owned sub-page expansion.
func (p *Page) Links() []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil
	}
	base, err := url.Parse(p.FinalURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		if u.Hostname() != base.Hostname() || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		s := u.String()
		if !seen[s] {
			seen[s] = true
			links = append(links, s)
		}
	})
	return links
}

func (f *Fetcher) saveScreenshot(rawURL string, png []byte) (string, error) {
	if err := os.MkdirAll(f.screenshotDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%d.png", slugifyURL(rawURL), time.Now().UnixMilli())
	path := filepath.Join(f.screenshotDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// debugDump writes raw HTML for post-mortem when extraction came up
// short. No-op unless a debug dir is configured.
func (f *Fetcher) debugDump(rawURL, html, reason string) {
	if f.cfg.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(f.cfg.DebugDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s.html", slugifyURL(rawURL), reason)
	if err := os.WriteFile(filepath.Join(f.cfg.DebugDir, name), []byte(html), 0o644); err != nil {
		logging.FetchDebug("debug dump %s: %v", rawURL, err)
	}
}

func slugifyURL(rawURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= 80 {
			break
		}
	}
	return b.String()
}
