package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"truststack/internal/config"
	"truststack/internal/logging"
	"truststack/internal/ratelimit"
)

const (
	braveAPIURL    = "https://api.search.brave.com/res/v1/web/search"
	braveScrapeURL = "https://search.brave.com/search"
	braveMaxCount  = 20
)

// Brave queries the Brave Search API, paging until enough results
// arrive. Without an API key (or when the API fails and the fallback is
// enabled) it scrapes the public HTML results page instead.
type Brave struct {
	cfg     config.BraveConfig
	limiter *ratelimit.Limiter
	client  *http.Client

	// apiURL and scrapeURL are overridable in tests.
	apiURL    string
	scrapeURL string
}

// NewBrave builds the Brave provider.
func NewBrave(cfg config.BraveConfig, limiter *ratelimit.Limiter) *Brave {
	if cfg.MaxCount <= 0 || cfg.MaxCount > braveMaxCount {
		cfg.MaxCount = braveMaxCount
	}
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &Brave{
		cfg:       cfg,
		limiter:   limiter,
		client:    &http.Client{Timeout: timeout},
		apiURL:    braveAPIURL,
		scrapeURL: braveScrapeURL,
	}
	if limiter != nil {
		interval := time.Duration(cfg.RequestInterval * float64(time.Second))
		if interval > 0 {
			limiter.SetHostInterval(hostOf(b.apiURL), interval)
			limiter.SetHostInterval(hostOf(b.scrapeURL), interval)
		}
	}
	return b
}

func (b *Brave) Name() string { return "brave" }

// Search returns up to size results starting at offset.
func (b *Brave) Search(ctx context.Context, query string, size, offset int) ([]Result, error) {
	if size <= 0 {
		return nil, nil
	}
	if b.cfg.APIKey == "" {
		if !b.cfg.AllowHTMLFallback {
			return nil, fmt.Errorf("brave search requires an api key (set BRAVE_API_KEY or allow the html fallback)")
		}
		return b.scrape(ctx, query, size)
	}

	results, err := b.searchAPI(ctx, query, size, offset)
	if err != nil && b.cfg.AllowHTMLFallback {
		logging.SearchWarn("brave api failed (%v), falling back to html scrape", err)
		return b.scrape(ctx, query, size)
	}
	return results, err
}

func (b *Brave) searchAPI(ctx context.Context, query string, size, offset int) ([]Result, error) {
	var results []Result
	page := offset / b.cfg.MaxCount

	for len(results) < size {
		count := size - len(results)
		if count > b.cfg.MaxCount {
			count = b.cfg.MaxCount
		}

		batch, err := b.apiPage(ctx, query, count, page)
		if err != nil {
			return results, err
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		page++
	}

	if len(results) > size {
		results = results[:size]
	}
	logging.Search("brave: %d results for %q", len(results), query)
	return results, nil
}

func (b *Brave) apiPage(ctx context.Context, query string, count, page int) ([]Result, error) {
	if b.limiter != nil {
		b.limiter.WaitHost(hostOf(b.apiURL))
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprint(count))
	q.Set("offset", fmt.Sprint(page))
	if b.cfg.AuthMode == "query" || b.cfg.AuthMode == "both" {
		q.Set("key", b.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	switch b.cfg.AuthMode {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	case "subscription-token":
		req.Header.Set("X-Subscription-Token", b.cfg.APIKey)
	case "query":
		// key already in the query string
	default: // x-api-key, both
		req.Header.Set("X-Subscription-Token", b.cfg.APIKey)
		req.Header.Set("X-API-Key", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("brave auth rejected (HTTP %d): check BRAVE_API_KEY and BRAVE_API_AUTH", resp.StatusCode)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("brave rate limited (HTTP 429)")
	default:
		return nil, fmt.Errorf("brave HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
