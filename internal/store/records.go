package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"truststack/internal/content"
)

// Run statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Brand is one analysed brand.
type Brand struct {
	ID       int64
	Slug     string
	Name     string
	Industry string
	Domains  []string
}

// Scenario is a named analysis playbook.
type Scenario struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	Config      map[string]any
}

// Run is one execution for a (brand, scenario) pair.
type Run struct {
	ID         int64
	ExternalID string
	BrandID    int64
	ScenarioID int64
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Config     map[string]any
	Error      string
}

// Asset is one persisted page or post.
type Asset struct {
	ID                int64
	RunID             int64
	AssetID           string
	SourceType        string
	Channel           string
	URL               string
	ExternalID        string
	Title             string
	RawContent        string
	NormalizedContent string
	Modality          string
	Language          string
	ScreenshotPath    string
	VisualBlob        string
	MetaInfo          map[string]any
}

// Metadata is an accessor alias for the meta_info column.
func (a *Asset) Metadata() map[string]any { return a.MetaInfo }

// Summary is the one-per-run trust-stack rollup.
type Summary struct {
	RunID             int64
	AvgProvenance     float64
	AvgVerification   float64
	AvgTransparency   float64
	AvgCoherence      float64
	AvgResonance      float64
	TrustStackScore   float64
	AuthenticityRatio float64
	Insights          map[string]any
}

// GetOrCreateBrand fetches the brand by slug or creates it.
func (s *Store) GetOrCreateBrand(slug, name, industry string, domains []string) (*Brand, error) {
	b := &Brand{Slug: slug}
	var domainsJSON string
	err := s.db.QueryRow(`SELECT id, name, industry, COALESCE(domains,'') FROM brands WHERE slug = ?`, slug).
		Scan(&b.ID, &b.Name, &b.Industry, &domainsJSON)
	if err == nil {
		b.Domains = decodeStrings(domainsJSON)
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query brand: %w", err)
	}

	if name == "" {
		name = slug
	}
	res, err := s.db.Exec(`INSERT INTO brands (slug, name, industry, domains) VALUES (?, ?, ?, ?)`,
		slug, name, industry, encodeJSON(domains))
	if err != nil {
		return nil, fmt.Errorf("insert brand: %w", err)
	}
	b.ID, _ = res.LastInsertId()
	b.Name, b.Industry, b.Domains = name, industry, domains
	return b, nil
}

// GetOrCreateScenario fetches the scenario by slug or creates it.
func (s *Store) GetOrCreateScenario(slug, name, description string, cfg map[string]any) (*Scenario, error) {
	sc := &Scenario{Slug: slug}
	var cfgJSON string
	err := s.db.QueryRow(`SELECT id, name, COALESCE(description,''), COALESCE(config,'') FROM scenarios WHERE slug = ?`, slug).
		Scan(&sc.ID, &sc.Name, &sc.Description, &cfgJSON)
	if err == nil {
		sc.Config = decodeMap(cfgJSON)
		return sc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query scenario: %w", err)
	}

	if name == "" {
		name = slug
	}
	res, err := s.db.Exec(`INSERT INTO scenarios (slug, name, description, config) VALUES (?, ?, ?, ?)`,
		slug, name, description, encodeJSON(cfg))
	if err != nil {
		return nil, fmt.Errorf("insert scenario: %w", err)
	}
	sc.ID, _ = res.LastInsertId()
	sc.Name, sc.Description, sc.Config = name, description, cfg
	return sc, nil
}

// CreateRun inserts a pending run.
func (s *Store) CreateRun(externalID string, brandID, scenarioID int64, cfg map[string]any) (*Run, error) {
	r := &Run{
		ExternalID: externalID,
		BrandID:    brandID,
		ScenarioID: scenarioID,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
		Config:     cfg,
	}
	res, err := s.db.Exec(
		`INSERT INTO runs (external_id, brand_id, scenario_id, status, started_at, config) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ExternalID, r.BrandID, r.ScenarioID, r.Status, r.StartedAt, encodeJSON(cfg))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

// UpdateRunStatus moves a run to status, stamping finished_at on the
// terminal states so the finished-iff-terminal invariant holds.
func (s *Store) UpdateRunStatus(runID int64, status, errMsg string) error {
	var err error
	if status == StatusCompleted || status == StatusFailed {
		_, err = s.db.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			status, errMsg, time.Now().UTC(), runID)
	} else {
		_, err = s.db.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = NULL WHERE id = ?`,
			status, errMsg, runID)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// GetRun loads a run by external id.
func (s *Store) GetRun(externalID string) (*Run, error) {
	r := &Run{ExternalID: externalID}
	var cfgJSON, errMsg sql.NullString
	var finished sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, brand_id, scenario_id, status, started_at, finished_at, config, error FROM runs WHERE external_id = ?`,
		externalID).
		Scan(&r.ID, &r.BrandID, &r.ScenarioID, &r.Status, &r.StartedAt, &finished, &cfgJSON, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.Config = decodeMap(cfgJSON.String)
	r.Error = errMsg.String
	return r, nil
}

// SaveAsset inserts one asset row for a run.
func (s *Store) SaveAsset(runID int64, a *Asset) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO content_assets
		(run_id, asset_id, source_type, channel, url, external_id, title,
		 raw_content, normalized_content, modality, language,
		 screenshot_path, visual_blob, meta_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, a.AssetID, a.SourceType, a.Channel, a.URL, a.ExternalID, a.Title,
		a.RawContent, a.NormalizedContent, a.Modality, a.Language,
		a.ScreenshotPath, a.VisualBlob, encodeJSON(a.MetaInfo))
	if err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}
	id, _ := res.LastInsertId()
	a.ID, a.RunID = id, runID
	return id, nil
}

// SaveScores inserts the dimension scores for an asset.
func (s *Store) SaveScores(assetID int64, sc *content.Scores) error {
	_, err := s.db.Exec(`INSERT INTO dimension_scores
		(asset_id, provenance, verification, transparency, coherence, resonance,
		 overall, classification, rationale, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assetID, sc.Provenance, sc.Verification, sc.Transparency, sc.Coherence,
		sc.Resonance, sc.Overall, sc.Classification,
		encodeJSON(sc.Rationale), encodeJSON(sc.Flags))
	if err != nil {
		return fmt.Errorf("insert scores: %w", err)
	}
	return nil
}

const assetColumns = `a.id, a.run_id, a.asset_id, COALESCE(a.source_type,''),
	COALESCE(a.channel,''), COALESCE(a.url,''), COALESCE(a.external_id,''),
	COALESCE(a.title,''), COALESCE(a.raw_content,''),
	COALESCE(a.normalized_content,''), COALESCE(a.modality,''),
	COALESCE(a.language,''), COALESCE(a.screenshot_path,''),
	COALESCE(a.visual_blob,''), COALESCE(a.meta_info,'')`

func scanAsset(rows *sql.Rows) (*Asset, error) {
	a := &Asset{}
	var metaJSON string
	err := rows.Scan(&a.ID, &a.RunID, &a.AssetID, &a.SourceType, &a.Channel,
		&a.URL, &a.ExternalID, &a.Title, &a.RawContent, &a.NormalizedContent,
		&a.Modality, &a.Language, &a.ScreenshotPath, &a.VisualBlob, &metaJSON)
	if err != nil {
		return nil, err
	}
	a.MetaInfo = decodeMap(metaJSON)
	return a, nil
}

// AssetsForRun loads all assets of a run.
func (s *Store) AssetsForRun(runID int64) ([]*Asset, error) {
	rows, err := s.db.Query(`SELECT `+assetColumns+` FROM content_assets a WHERE a.run_id = ? ORDER BY a.id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ScoresForAsset loads the dimension scores of an asset, or nil when
// the asset was never scored.
func (s *Store) ScoresForAsset(assetID int64) (*content.Scores, error) {
	sc := &content.Scores{}
	var rationale, flags sql.NullString
	err := s.db.QueryRow(`SELECT provenance, verification, transparency, coherence,
		resonance, overall, COALESCE(classification,''), rationale, flags
		FROM dimension_scores WHERE asset_id = ? ORDER BY id DESC LIMIT 1`, assetID).
		Scan(&sc.Provenance, &sc.Verification, &sc.Transparency, &sc.Coherence,
			&sc.Resonance, &sc.Overall, &sc.Classification, &rationale, &flags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	sc.Rationale = decodeMap(rationale.String)
	sc.Flags = decodeStrings(flags.String)
	return sc, nil
}

// SaveSummary upserts the run summary.
func (s *Store) SaveSummary(sum *Summary) error {
	_, err := s.db.Exec(`INSERT INTO truststack_summary
		(run_id, avg_provenance, avg_verification, avg_transparency,
		 avg_coherence, avg_resonance, truststack_score, authenticity_ratio, insights)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
		 avg_provenance=excluded.avg_provenance,
		 avg_verification=excluded.avg_verification,
		 avg_transparency=excluded.avg_transparency,
		 avg_coherence=excluded.avg_coherence,
		 avg_resonance=excluded.avg_resonance,
		 truststack_score=excluded.truststack_score,
		 authenticity_ratio=excluded.authenticity_ratio,
		 insights=excluded.insights`,
		sum.RunID, sum.AvgProvenance, sum.AvgVerification, sum.AvgTransparency,
		sum.AvgCoherence, sum.AvgResonance, sum.TrustStackScore,
		sum.AuthenticityRatio, encodeJSON(sum.Insights))
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// GetSummary loads the run summary, or nil when absent.
func (s *Store) GetSummary(runID int64) (*Summary, error) {
	sum := &Summary{RunID: runID}
	var insights sql.NullString
	err := s.db.QueryRow(`SELECT avg_provenance, avg_verification, avg_transparency,
		avg_coherence, avg_resonance, truststack_score, authenticity_ratio, insights
		FROM truststack_summary WHERE run_id = ?`, runID).
		Scan(&sum.AvgProvenance, &sum.AvgVerification, &sum.AvgTransparency,
			&sum.AvgCoherence, &sum.AvgResonance, &sum.TrustStackScore,
			&sum.AuthenticityRatio, &insights)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	sum.Insights = decodeMap(insights.String)
	return sum, nil
}

// RecentAssets loads assets for smart reuse: same brand, owning run
// started inside the window, run not failed, non-empty raw content.
func (s *Store) RecentAssets(brandSlug string, maxAge time.Duration) ([]*Asset, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.Query(`SELECT `+assetColumns+`
		FROM content_assets a
		JOIN runs r ON a.run_id = r.id
		JOIN brands b ON r.brand_id = b.id
		WHERE b.slug = ? AND r.started_at >= ? AND r.status != 'failed'
		  AND a.raw_content != ''
		ORDER BY r.started_at DESC, a.id`, brandSlug, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent assets: %w", err)
	}
	defer rows.Close()

	var out []*Asset
	seen := make(map[string]bool)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent asset: %w", err)
		}
		if a.URL != "" && seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out, rows.Err()
}
