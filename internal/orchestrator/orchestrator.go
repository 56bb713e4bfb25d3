// Package orchestrator drives one full analysis run: brand and
// scenario bookkeeping, smart reuse of recent assets, URL collection,
// scoring, and summary persistence. Failed runs keep their partial
// data queryable.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"truststack/internal/aggregate"
	"truststack/internal/browser"
	"truststack/internal/collector"
	"truststack/internal/config"
	"truststack/internal/content"
	"truststack/internal/detect"
	"truststack/internal/extract"
	"truststack/internal/fetch"
	"truststack/internal/logging"
	"truststack/internal/ratelimit"
	"truststack/internal/robots"
	"truststack/internal/scoring"
	"truststack/internal/search"
	"truststack/internal/store"
	"truststack/internal/usage"
	"truststack/internal/whois"
)

const (
	defaultLimit  = 10
	defaultMaxAge = 24 * time.Hour
)

// Options configures one analysis run.
type Options struct {
	BrandName           string
	ScenarioName        string
	ScenarioDescription string

	// Assets skips collection when supplied by the caller.
	Assets []*content.Normalized

	Sources  []string // web, brave, serper, reddit, youtube
	Keywords []string
	Limit    int // per-keyword target, default 10

	ReuseData        *bool // smart reuse, default on
	MaxAssetAgeHours int   // reuse window, default 24
}

func (o *Options) reuse() bool {
	return o.ReuseData == nil || *o.ReuseData
}

func (o *Options) limit() int {
	if o.Limit <= 0 {
		return defaultLimit
	}
	return o.Limit
}

func (o *Options) maxAge() time.Duration {
	if o.MaxAssetAgeHours <= 0 {
		return defaultMaxAge
	}
	return time.Duration(o.MaxAssetAgeHours) * time.Hour
}

// URLCollector is the slice of the collector the orchestrator drives.
type URLCollector interface {
	Collect(ctx context.Context, query string, target int, excluded map[string]bool) (*collector.Result, error)
}

// Orchestrator wires the full pipeline over a store.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	limiter  *ratelimit.Limiter
	fetcher  *fetch.Fetcher
	browser  *browser.Controller
	pipeline *scoring.Pipeline
	tracker  *usage.Tracker

	// collectorFor builds a collector per source; replaceable in tests.
	collectorFor func(source string) (URLCollector, error)
}

// Option overrides a default dependency.
type Option func(*Orchestrator)

// WithCollectorFactory replaces the per-source collector constructor.
func WithCollectorFactory(fn func(source string) (URLCollector, error)) Option {
	return func(o *Orchestrator) { o.collectorFor = fn }
}

// WithPipeline replaces the scoring pipeline.
func WithPipeline(p *scoring.Pipeline) Option {
	return func(o *Orchestrator) { o.pipeline = p }
}

// New builds an orchestrator. Browser launch failure downgrades the
// run to HTTP-only fetching rather than failing.
func New(cfg *config.Config, st *store.Store, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, store: st}
	o.limiter = ratelimit.New(time.Duration(cfg.Fetch.DomainInterval * float64(time.Second)))

	if cfg.Fetch.UseBrowser || cfg.Scoring.VisualAnalysis {
		ctrl := browser.Shared(cfg.Browser)
		if err := ctrl.Start(); err != nil {
			logging.BrowserWarn("browser unavailable, continuing HTTP-only: %v", err)
		} else {
			o.browser = ctrl
		}
	}

	var fetchOpts []fetch.Option
	if cfg.Scoring.VisualAnalysis {
		fetchOpts = append(fetchOpts, fetch.WithVisualAnalysis(filepath.Join(workspaceDir(cfg), "screenshots")))
	}
	o.fetcher = fetch.New(cfg.Fetch, o.limiter, robots.NewCache(o.limiter), o.browser, fetchOpts...)
	o.collectorFor = o.defaultCollector

	for _, opt := range opts {
		opt(o)
	}

	if o.pipeline == nil {
		engine, err := detect.NewEngine(cfg.Scoring.RubricPath, whois.NewClient())
		if err != nil {
			return nil, fmt.Errorf("load rubric: %w", err)
		}
		signals, err := aggregate.LoadConfig(cfg.Scoring.SignalsPath)
		if err != nil {
			return nil, fmt.Errorf("load trust signals: %w", err)
		}

		tracker, err := usage.Init(workspaceDir(cfg), cfg.Usage)
		if err != nil {
			return nil, fmt.Errorf("init usage tracker: %w", err)
		}
		o.tracker = tracker

		var svc scoring.Service
		if cfg.Scoring.GeminiAPIKey != "" {
			g, err := scoring.NewGemini(cfg.Scoring.GeminiAPIKey, cfg.Scoring.Model, cfg.Scoring.VisualAnalysis, tracker)
			if err != nil {
				return nil, fmt.Errorf("init scoring service: %w", err)
			}
			svc = g
		}
		o.pipeline = scoring.New(engine, signals, svc)
	}
	return o, nil
}

func workspaceDir(cfg *config.Config) string {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		return dir
	}
	return "."
}

// Close releases the browser and flushes usage data.
func (o *Orchestrator) Close() error {
	if o.tracker != nil {
		_ = o.tracker.Save()
	}
	if o.browser != nil {
		return o.browser.Close()
	}
	return nil
}

func (o *Orchestrator) defaultCollector(source string) (URLCollector, error) {
	searchCfg := o.cfg.Search
	switch source {
	case "brave", "serper":
		searchCfg.Provider = source
	case "web", "reddit", "youtube", "":
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
	provider, err := search.NewProvider(searchCfg, o.limiter)
	if err != nil {
		return nil, err
	}
	return collector.New(o.cfg.Collection, o.cfg.Fetch, provider, o.fetcher), nil
}

// runID builds the external run identifier.
func runID(slug string, now time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s_%s", slug, now.Format("20060102_150405"), hex.EncodeToString(buf))
}

// RunAnalysis executes one analysis run end to end. On failure the run
// is marked failed and the partial report is still returned.
func (o *Orchestrator) RunAnalysis(ctx context.Context, brandSlug, scenarioSlug string, opts Options) (*Report, error) {
	brand, err := o.store.GetOrCreateBrand(brandSlug, opts.BrandName, "", o.cfg.Collection.BrandDomains)
	if err != nil {
		return nil, err
	}
	scenario, err := o.store.GetOrCreateScenario(scenarioSlug, opts.ScenarioName, opts.ScenarioDescription, nil)
	if err != nil {
		return nil, err
	}

	externalID := runID(brandSlug, time.Now())
	run, err := o.store.CreateRun(externalID, brand.ID, scenario.ID, map[string]any{
		"sources": opts.Sources, "keywords": opts.Keywords, "limit": opts.limit(),
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateRunStatus(run.ID, store.StatusInProgress, ""); err != nil {
		return nil, err
	}
	logging.Run("run %s started for brand %s", externalID, brandSlug)

	if err := o.execute(ctx, run, brandSlug, opts); err != nil {
		logging.RunError("run %s failed: %v", externalID, err)
		_ = o.store.UpdateRunStatus(run.ID, store.StatusFailed, err.Error())
		report, rerr := o.Report(externalID)
		if rerr != nil {
			return nil, err
		}
		return report, err
	}

	if err := o.store.UpdateRunStatus(run.ID, store.StatusCompleted, ""); err != nil {
		return nil, err
	}
	if o.tracker != nil {
		logging.API("run %s cost table:\n%s", externalID, o.tracker.CostTable())
	}
	logging.Run("run %s completed", externalID)
	return o.Report(externalID)
}

// runAsset is one asset flowing through a run, persisted and scored.
type runAsset struct {
	norm   *content.Normalized
	raw    string // raw HTML, empty for re-emitted cached assets
	cached bool
	id     int64
}

func (o *Orchestrator) execute(ctx context.Context, run *store.Run, brandSlug string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var assets []*runAsset
	var err error
	if len(opts.Assets) > 0 {
		assets, err = o.prepareCallerAssets(ctx, opts.Assets)
	} else {
		assets, err = o.collectAssets(ctx, brandSlug, opts)
	}
	if err != nil {
		return err
	}

	norms := make([]*content.Normalized, len(assets))
	for i, a := range assets {
		norms[i] = a.norm
		id, err := o.store.SaveAsset(run.ID, storeAsset(a))
		if err != nil {
			return err
		}
		a.id = id
	}

	scored := o.pipeline.ScoreAll(ctx, norms)
	for i, sc := range scored {
		if sc.Scores == nil {
			continue
		}
		if err := o.store.SaveScores(assets[i].id, sc.Scores); err != nil {
			return err
		}
	}

	return o.store.SaveSummary(summarize(run.ID, assets, scored))
}

// prepareCallerAssets fetches bodies for caller assets missing content.
func (o *Orchestrator) prepareCallerAssets(ctx context.Context, supplied []*content.Normalized) ([]*runAsset, error) {
	out := make([]*runAsset, 0, len(supplied))
	var missing []string
	var missingIdx []int
	for i, n := range supplied {
		if n.ContentID == "" {
			n.ContentID = uuid.NewString()
		}
		if n.Body == "" && n.URL != "" {
			missing = append(missing, n.URL)
			missingIdx = append(missingIdx, i)
		}
		out = append(out, &runAsset{norm: n})
	}

	if len(missing) > 0 {
		results, err := o.fetcher.FetchAll(ctx, missing, o.cfg.Fetch.ParallelWorkers)
		if err != nil {
			return nil, err
		}
		for j, res := range results {
			if res.Err != nil || res.Page == nil {
				logging.RunWarn("caller asset fetch failed for %s: %v", res.URL, res.Err)
				continue
			}
			a := out[missingIdx[j]]
			applyPage(a.norm, res.Page)
			a.raw = res.Page.HTML
		}
	}
	return out, nil
}

// collectAssets runs smart reuse plus per-source, per-keyword
// collection.
func (o *Orchestrator) collectAssets(ctx context.Context, brandSlug string, opts Options) ([]*runAsset, error) {
	excluded := make(map[string]bool)
	var out []*runAsset
	cachedByKeyword := make(map[string]int)

	if opts.reuse() {
		cached, err := o.store.RecentAssets(brandSlug, opts.maxAge())
		if err != nil {
			return nil, err
		}
		for _, a := range cached {
			excluded[a.URL] = true
			if kw, _ := a.MetaInfo["keyword"].(string); kw != "" {
				cachedByKeyword[kw]++
			}
			out = append(out, &runAsset{norm: normalizedFromAsset(a), raw: a.RawContent, cached: true})
		}
		if len(cached) > 0 {
			logging.Run("smart reuse: %d assets within %s", len(cached), opts.maxAge())
		}
	}

	sources := opts.Sources
	if len(sources) == 0 {
		sources = []string{"web"}
	}
	keywords := opts.Keywords
	if len(keywords) == 0 {
		keywords = []string{brandSlug}
	}

	for _, src := range sources {
		coll, err := o.collectorFor(src)
		if err != nil {
			logging.RunWarn("source %s unavailable: %v", src, err)
			continue
		}
		for _, kw := range keywords {
			target := opts.limit() - cachedByKeyword[kw]
			if target < 0 {
				target = 0
			}
			res, err := coll.Collect(ctx, sourceQuery(src, kw), target, excluded)
			if err != nil {
				logging.RunWarn("collection failed for %s/%q: %v", src, kw, err)
				continue
			}
			for _, item := range append(res.BrandOwned, res.ThirdParty...) {
				excluded[item.URL] = true
				n := normalizeItem(item, src, kw)
				out = append(out, &runAsset{norm: n, raw: item.Page.HTML})
			}
		}
	}
	return out, nil
}

// sourceQuery scopes platform sources to their site.
func sourceQuery(source, keyword string) string {
	switch source {
	case "reddit":
		return "site:reddit.com " + keyword
	case "youtube":
		return "site:youtube.com " + keyword
	default:
		return keyword
	}
}

// normalizeItem turns a collected page into the detector input record.
func normalizeItem(item collector.Item, source, keyword string) *content.Normalized {
	n := &content.Normalized{
		ContentID:  uuid.NewString(),
		Source:     source,
		URL:        item.URL,
		SourceType: item.SourceType,
		Tier:       item.Tier,
		Metadata:   map[string]any{"keyword": keyword},
	}
	applyPage(n, item.Page)
	return n
}

// applyPage copies fetch output onto a normalised record and runs the
// metadata extractor over the raw HTML.
func applyPage(n *content.Normalized, page *fetch.Page) {
	n.Title = page.Title
	n.Body = page.Body
	n.Structured = page.Structured
	n.Badges = page.Badges
	n.Screenshot = page.ScreenshotPath
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	if page.AccessDenied {
		n.Metadata["access_denied"] = true
	}
	if page.Legal.Privacy != "" {
		n.Metadata["privacy_policy_url"] = page.Legal.Privacy
	}
	if page.Legal.Terms != "" {
		n.Metadata["terms_url"] = page.Legal.Terms
	}
	meta := extract.Extract(n.URL, page.HTML)
	meta.Apply(n)
}

// storeAsset maps a run asset onto its persisted row.
func storeAsset(a *runAsset) *store.Asset {
	n := a.norm
	return &store.Asset{
		AssetID:           n.ContentID,
		SourceType:        n.SourceType,
		Channel:           n.Channel,
		URL:               n.URL,
		ExternalID:        n.PlatformID,
		Title:             n.Title,
		RawContent:        a.raw,
		NormalizedContent: n.Body,
		Modality:          n.Modality,
		Language:          n.Language,
		ScreenshotPath:    n.Screenshot,
		VisualBlob:        string(n.VisualBlob),
		MetaInfo:          n.Metadata,
	}
}

// normalizedFromAsset rebuilds the detector input from a cached row.
func normalizedFromAsset(a *store.Asset) *content.Normalized {
	n := &content.Normalized{
		ContentID:  uuid.NewString(),
		Source:     a.Channel,
		PlatformID: a.ExternalID,
		URL:        a.URL,
		Title:      a.Title,
		Body:       a.NormalizedContent,
		Modality:   a.Modality,
		Channel:    a.Channel,
		SourceType: a.SourceType,
		Language:   a.Language,
		Screenshot: a.ScreenshotPath,
		VisualBlob: []byte(a.VisualBlob),
		Metadata:   a.MetaInfo,
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	return n
}

// summarize computes the per-run averages over scored assets.
func summarize(runID int64, assets []*runAsset, scored []scoring.Scored) *store.Summary {
	sum := &store.Summary{RunID: runID}
	var count, skipped, cachedCount int
	for i, sc := range scored {
		if assets[i].cached {
			cachedCount++
		}
		if sc.Skipped {
			skipped++
		}
		if sc.Scores == nil {
			continue
		}
		count++
		sum.AvgProvenance += sc.Scores.Provenance
		sum.AvgVerification += sc.Scores.Verification
		sum.AvgTransparency += sc.Scores.Transparency
		sum.AvgCoherence += sc.Scores.Coherence
		sum.AvgResonance += sc.Scores.Resonance
		sum.TrustStackScore += sc.Scores.Overall
	}
	if count > 0 {
		n := float64(count)
		sum.AvgProvenance /= n
		sum.AvgVerification /= n
		sum.AvgTransparency /= n
		sum.AvgCoherence /= n
		sum.AvgResonance /= n
		sum.TrustStackScore = sum.TrustStackScore / n * 100
	}
	// Legacy metric kept for older report consumers.
	sum.AuthenticityRatio = (sum.AvgProvenance + sum.AvgVerification) / 2
	sum.Insights = map[string]any{
		"assets":  len(assets),
		"scored":  count,
		"skipped": skipped,
		"cached":  cachedCount,
	}
	return sum
}
