// Package search finds candidate URLs for a query through pluggable
// web-search providers.
package search

import (
	"context"
	"fmt"
	"strings"

	"truststack/internal/config"
	"truststack/internal/ratelimit"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider runs web searches. size is the total number of results
// wanted; offset skips results already consumed by a previous call.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, size, offset int) ([]Result, error)
}

// NewProvider builds the configured provider and registers its pacing
// interval with the shared limiter.
func NewProvider(cfg config.SearchConfig, limiter *ratelimit.Limiter) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "brave":
		return NewBrave(cfg.Brave, limiter), nil
	case "serper":
		if cfg.Serper.APIKey == "" {
			return nil, fmt.Errorf("serper provider requires an api key")
		}
		return NewSerper(cfg.Serper, limiter), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
