// Package collector turns a search query into a balanced set of
// successfully fetched pages. One producer drives the search provider
// with adaptive batch sizing while a fixed worker pool fetches and
// validates candidates, enforcing brand/third-party ratios and a
// domain-diversity cap.
package collector

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"truststack/internal/classify"
	"truststack/internal/config"
	"truststack/internal/content"
	"truststack/internal/fetch"
	"truststack/internal/logging"
	"truststack/internal/search"
)

const (
	producerYield  = 100 * time.Millisecond
	maxChannelCap  = 50
	maxSubpages    = 15
	minSampleSize  = 5 // fetches before adaptive sizing kicks in
	defaultWorkers = 5
)

// Item is one accepted page with its classification.
type Item struct {
	URL        string
	Title      string
	Page       *fetch.Page
	SourceType string
	Tier       string
}

// Stats counts what happened to every candidate URL.
type Stats struct {
	Processed          int `json:"processed"`
	Fetched            int `json:"fetched"`
	Valid              int `json:"valid"`
	ThinContent        int `json:"thin_content"`
	RobotsBlocked      int `json:"robots_blocked"`
	ErrorPage          int `json:"error_page"`
	DomainLimitReached int `json:"domain_limit_reached"`
	PoolFull           int `json:"pool_full"`
	NoURL              int `json:"no_url"`
}

// Result is the outcome of one collection attempt.
type Result struct {
	BrandOwned []Item
	ThirdParty []Item
	Stats      Stats
}

// PageFetcher is the slice of the fetcher the collector needs.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
	FetchAll(ctx context.Context, urls []string, workers int) ([]fetch.FetchResult, error)
}

// Collector wires the search provider, fetcher and classifier together.
type Collector struct {
	cfg        config.CollectionConfig
	fetchCfg   config.FetchConfig
	provider   search.Provider
	fetcher    PageFetcher
	classifier *classify.Classifier
}

// New builds a Collector.
func New(cfg config.CollectionConfig, fetchCfg config.FetchConfig, provider search.Provider, fetcher PageFetcher) *Collector {
	return &Collector{
		cfg:        cfg,
		fetchCfg:   fetchCfg,
		provider:   provider,
		fetcher:    fetcher,
		classifier: classify.New(cfg),
	}
}

// state is the shared collection state. One mutex guards everything.
type state struct {
	mu sync.Mutex

	brand []Item
	third []Item

	targetBrand  int
	targetThird  int
	poolSize     int
	maxPerDomain int // 0 disables the cap

	domainCounts map[string]int
	seen         map[string]bool
	stats        Stats

	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (s *state) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *state) collected() int {
	return len(s.brand) + len(s.third)
}

// Collect gathers up to target valid pages for query. URLs in excluded
// are never considered (smart-reuse cache hits from the same run).
func (c *Collector) Collect(ctx context.Context, query string, target int, excluded map[string]bool) (*Result, error) {
	if target <= 0 {
		return &Result{}, nil
	}

	targetBrand, targetThird := splitTargets(target, c.cfg.BrandOwnedRatio, c.cfg.ThirdPartyRatio)
	poolSize := target * 5
	if poolSize < 30 {
		poolSize = 30
	}

	st := &state{
		targetBrand:  targetBrand,
		targetThird:  targetThird,
		poolSize:     poolSize,
		domainCounts: make(map[string]int),
		seen:         make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
	if !c.cfg.BrandControlled() {
		st.maxPerDomain = int(math.Floor(0.2 * float64(target)))
		if st.maxPerDomain < 1 {
			st.maxPerDomain = 1
		}
	}
	for u := range excluded {
		st.seen[u] = true
	}

	chanCap := poolSize
	if chanCap > maxChannelCap {
		chanCap = maxChannelCap
	}
	urls := make(chan string, chanCap)

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	logging.Collector("collecting %d pages for %q (brand=%d third=%d pool=%d cap=%d)",
		target, query, targetBrand, targetThird, poolSize, st.maxPerDomain)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consume(ctx, st, target, urls)
		}()
	}

	c.produce(ctx, st, query, target, urls)
	close(urls)
	wg.Wait()
	st.stop()

	if c.cfg.SubpageExpansion {
		c.expandBrand(ctx, st)
	}

	st.mu.Lock()
	res := &Result{BrandOwned: st.brand, ThirdParty: st.third, Stats: st.stats}
	st.mu.Unlock()

	logging.Collector("collected %d/%d (brand=%d third=%d) stats=%+v",
		len(res.BrandOwned)+len(res.ThirdParty), target, len(res.BrandOwned), len(res.ThirdParty), res.Stats)
	return res, ctx.Err()
}

// splitTargets divides target by ratio, giving the remainder to the
// larger share.
func splitTargets(target int, brandRatio, thirdRatio float64) (int, int) {
	if brandRatio <= 0 && thirdRatio <= 0 {
		brandRatio, thirdRatio = 0.6, 0.4
	}
	brand := int(math.Floor(float64(target) * brandRatio))
	third := int(math.Floor(float64(target) * thirdRatio))
	for brand+third < target {
		if brandRatio >= thirdRatio {
			brand++
		} else {
			third++
		}
	}
	return brand, third
}

// produce drives the search provider until targets, the pool cap or the
// result stream is exhausted.
func (c *Collector) produce(ctx context.Context, st *state, query string, target int, urls chan<- string) {
	offset := 0
	batchSize := target

	for {
		st.mu.Lock()
		done := st.stopped || st.collected() >= target || st.stats.Processed >= st.poolSize
		st.mu.Unlock()
		if done || ctx.Err() != nil {
			st.stop()
			return
		}

		batch, err := c.provider.Search(ctx, query, batchSize, offset)
		if err != nil {
			logging.CollectorWarn("search batch at offset %d: %v", offset, err)
		}
		if len(batch) == 0 {
			logging.Collector("provider exhausted at offset %d", offset)
			st.stop()
			return
		}
		offset += len(batch)

		for _, r := range batch {
			if r.URL == "" {
				st.mu.Lock()
				st.stats.NoURL++
				st.mu.Unlock()
				continue
			}
			st.mu.Lock()
			dup := st.seen[r.URL]
			st.seen[r.URL] = true
			st.mu.Unlock()
			if dup {
				continue
			}
			select {
			case urls <- r.URL:
			case <-st.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		batchSize = c.nextBatchSize(st, target)

		select {
		case <-time.After(producerYield):
		case <-st.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextBatchSize adapts the provider batch size to the observed fetch
// success rate.
func (c *Collector) nextBatchSize(st *state, target int) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.stats.Fetched < minSampleSize {
		return target
	}
	rate := float64(st.stats.Valid) / float64(st.stats.Fetched)
	switch {
	case rate < 0.3:
		return 2 * target
	case rate > 0.6:
		remaining := target - st.collected()
		if remaining < 0 {
			remaining = 0
		}
		size := int(math.Ceil(float64(remaining)/rate)) + 5
		if size < 10 {
			size = 10
		}
		return size
	default:
		return target
	}
}

// consume validates candidate URLs until the channel drains.
func (c *Collector) consume(ctx context.Context, st *state, target int, urls <-chan string) {
	for {
		var rawURL string
		var ok bool
		select {
		case rawURL, ok = <-urls:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		st.mu.Lock()
		if st.stopped || st.collected() >= target {
			st.mu.Unlock()
			continue
		}
		st.stats.Processed++
		st.mu.Unlock()

		c.tryCollect(ctx, st, target, rawURL)
	}
}

func (c *Collector) tryCollect(ctx context.Context, st *state, target int, rawURL string) {
	class := c.classifier.Classify(rawURL)
	isBrand := class.SourceType == content.SourceBrandOwned

	// Skip fetches for a class that already filled its quota.
	st.mu.Lock()
	full := (isBrand && len(st.brand) >= st.targetBrand) || (!isBrand && len(st.third) >= st.targetThird)
	if full {
		st.stats.PoolFull++
	}
	st.mu.Unlock()
	if full {
		return
	}

	st.mu.Lock()
	st.stats.Fetched++
	st.mu.Unlock()

	page, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		st.mu.Lock()
		if errors.Is(err, fetch.ErrRobotsBlocked) {
			st.stats.RobotsBlocked++
		}
		st.mu.Unlock()
		logging.CollectorDebug("fetch %s: %v", rawURL, err)
		return
	}

	if page.AccessDenied || isErrorTitle(page.Title) {
		st.mu.Lock()
		st.stats.ErrorPage++
		st.mu.Unlock()
		return
	}

	minLen := c.fetchCfg.MinBodyLength
	if isBrand {
		minLen = c.fetchCfg.MinBrandBody
	}
	if len(page.Body) < minLen {
		st.mu.Lock()
		st.stats.ThinContent++
		st.mu.Unlock()
		return
	}

	host := strings.ToLower(hostOf(page.FinalURL))
	item := Item{URL: rawURL, Title: page.Title, Page: page, SourceType: class.SourceType, Tier: class.Tier}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.collected() >= target {
		st.stats.PoolFull++
		return
	}
	if isBrand && len(st.brand) >= st.targetBrand || !isBrand && len(st.third) >= st.targetThird {
		st.stats.PoolFull++
		return
	}
	if !isBrand && st.maxPerDomain > 0 && st.domainCounts[host] >= st.maxPerDomain {
		st.stats.DomainLimitReached++
		return
	}

	if isBrand {
		st.brand = append(st.brand, item)
	} else {
		st.third = append(st.third, item)
	}
	st.domainCounts[host]++
	st.stats.Valid++

	if st.collected() >= target {
		go st.stop()
	}
}

// expandBrand tops up the brand-owned quota from same-host links on
// already-collected brand pages.
func (c *Collector) expandBrand(ctx context.Context, st *state) {
	st.mu.Lock()
	need := st.targetBrand - len(st.brand)
	var parents []*fetch.Page
	for _, it := range st.brand {
		parents = append(parents, it.Page)
	}
	st.mu.Unlock()
	if need <= 0 || len(parents) == 0 {
		return
	}

	var candidates []string
	for _, parent := range parents {
		for _, link := range parent.Links() {
			if len(candidates) >= maxSubpages {
				break
			}
			if skipSubpage(link) {
				continue
			}
			st.mu.Lock()
			dup := st.seen[link]
			st.seen[link] = true
			st.mu.Unlock()
			if !dup {
				candidates = append(candidates, link)
			}
		}
	}
	if len(candidates) == 0 {
		return
	}

	logging.Collector("expanding %d brand sub-pages (need %d more)", len(candidates), need)
	results, _ := c.fetcher.FetchAll(ctx, candidates, c.fetchCfg.ParallelWorkers)

	for _, res := range results {
		if res.Err != nil || res.Page == nil || res.Page.AccessDenied || isErrorTitle(res.Page.Title) {
			continue
		}
		if len(res.Page.Body) < c.fetchCfg.MinBrandBody {
			continue
		}
		class := c.classifier.Classify(res.URL)

		st.mu.Lock()
		if len(st.brand) < st.targetBrand && st.stats.Processed < st.poolSize {
			st.stats.Processed++
			st.stats.Fetched++
			st.stats.Valid++
			st.brand = append(st.brand, Item{
				URL: res.URL, Title: res.Page.Title, Page: res.Page,
				SourceType: class.SourceType, Tier: class.Tier,
			})
			st.domainCounts[strings.ToLower(hostOf(res.Page.FinalURL))]++
		}
		st.mu.Unlock()
	}
}

var subpageSkips = []string{"/search", "/login", "/signin", "/cart", "/checkout", "/account", "/privacy", "/terms"}

func skipSubpage(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, frag := range subpageSkips {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

var errorTitleMarkers = []string{"access denied", "403", "404", "forbidden", "not found", "error"}

func isErrorTitle(title string) bool {
	probe := strings.ToLower(title)
	for _, m := range errorTitleMarkers {
		if strings.Contains(probe, m) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	if i := strings.Index(rawURL, "//"); i >= 0 {
		rest := rawURL[i+2:]
		if j := strings.IndexAny(rest, "/?#"); j >= 0 {
			rest = rest[:j]
		}
		if k := strings.Index(rest, ":"); k >= 0 {
			rest = rest[:k]
		}
		return rest
	}
	return ""
}
