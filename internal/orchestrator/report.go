package orchestrator

import (
	"truststack/internal/content"
	"truststack/internal/store"
)

// Report is the read-back view of a run.
type Report struct {
	RunID       string
	Status      string
	Error       string
	Assets      []AssetReport
	BlockedURLs []string
	Dimensions  map[string]float64
	Summary     *store.Summary
}

// AssetReport is one asset with its scores and merged metadata.
type AssetReport struct {
	URL        string
	Title      string
	SourceType string
	Channel    string
	Scores     *content.Scores
	Meta       map[string]any
}

// Report builds the run report: assets joined with their scores, a
// metadata view merging meta_info with the scoring rationale, blocked
// URLs, and dimension-breakdown averages.
func (o *Orchestrator) Report(externalID string) (*Report, error) {
	run, err := o.store.GetRun(externalID)
	if err != nil {
		return nil, err
	}
	assets, err := o.store.AssetsForRun(run.ID)
	if err != nil {
		return nil, err
	}
	summary, err := o.store.GetSummary(run.ID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:      externalID,
		Status:     run.Status,
		Error:      run.Error,
		Dimensions: make(map[string]float64),
		Summary:    summary,
	}

	var scoredCount int
	for _, a := range assets {
		scores, err := o.store.ScoresForAsset(a.ID)
		if err != nil {
			return nil, err
		}

		meta := make(map[string]any, len(a.MetaInfo)+4)
		for k, v := range a.MetaInfo {
			meta[k] = v
		}
		if scores != nil {
			for _, key := range []string{"detected_attributes", "dimensions", "visual_analysis"} {
				if v, ok := scores.Rationale[key]; ok {
					meta[key] = v
				}
			}
		}
		if a.ScreenshotPath != "" {
			meta["screenshot_path"] = a.ScreenshotPath
		}

		if denied, _ := a.MetaInfo["access_denied"].(bool); denied {
			rep.BlockedURLs = append(rep.BlockedURLs, a.URL)
		}

		if scores != nil {
			scoredCount++
			for _, dim := range content.Dimensions {
				rep.Dimensions[dim] += scores.Dimension(dim)
			}
		}

		rep.Assets = append(rep.Assets, AssetReport{
			URL:        a.URL,
			Title:      a.Title,
			SourceType: a.SourceType,
			Channel:    a.Channel,
			Scores:     scores,
			Meta:       meta,
		})
	}

	if scoredCount > 0 {
		for dim := range rep.Dimensions {
			rep.Dimensions[dim] /= float64(scoredCount)
		}
	}
	return rep, nil
}
