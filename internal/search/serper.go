package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"truststack/internal/config"
	"truststack/internal/logging"
	"truststack/internal/ratelimit"
)

const serperAPIURL = "https://google.serper.dev/search"

// Serper queries Google results through the serper.dev API, paging
// until enough results arrive or a page comes back empty.
type Serper struct {
	cfg     config.SerperConfig
	limiter *ratelimit.Limiter
	client  *http.Client

	apiURL string // overridable in tests
}

// NewSerper builds the Serper provider.
func NewSerper(cfg config.SerperConfig, limiter *ratelimit.Limiter) *Serper {
	if cfg.MaxPerRequest <= 0 {
		cfg.MaxPerRequest = 10
	}
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Serper{
		cfg:     cfg,
		limiter: limiter,
		client:  &http.Client{Timeout: timeout},
		apiURL:  serperAPIURL,
	}
	if limiter != nil {
		interval := time.Duration(cfg.RequestInterval * float64(time.Second))
		if interval > 0 {
			limiter.SetHostInterval(hostOf(s.apiURL), interval)
		}
	}
	return s
}

func (s *Serper) Name() string { return "serper" }

// Search returns up to size results starting at offset.
func (s *Serper) Search(ctx context.Context, query string, size, offset int) ([]Result, error) {
	if size <= 0 {
		return nil, nil
	}

	var results []Result
	page := offset/s.cfg.MaxPerRequest + 1 // serper pages are 1-based

	for len(results) < size {
		batch, err := s.apiPage(ctx, query, page)
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
	logging.Search("serper: %d results for %q", len(results), query)
	return results, nil
}

func (s *Serper) apiPage(ctx context.Context, query string, page int) ([]Result, error) {
	if s.limiter != nil {
		s.limiter.WaitHost(hostOf(s.apiURL))
	}

	body, err := json.Marshal(map[string]any{
		"q":    query,
		"num":  s.cfg.MaxPerRequest,
		"page": page,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("serper auth rejected (HTTP %d): check SERPER_API_KEY", resp.StatusCode)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("serper rate limited (HTTP 429)")
	default:
		return nil, fmt.Errorf("serper HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode serper response: %w", err)
	}

	results := make([]Result, 0, len(payload.Organic))
	for _, r := range payload.Organic {
		if r.Link == "" {
			continue
		}
		results = append(results, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}
