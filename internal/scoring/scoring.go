// Package scoring runs the per-asset trust pipeline: pre-filter and
// triage obvious junk, detect language, run the attribute detectors,
// optionally refine with an LLM scoring service, and aggregate into
// dimension scores. Service failures degrade to rule-based scores,
// they never abort a run.
package scoring

import (
	"context"
	"strings"

	"truststack/internal/aggregate"
	"truststack/internal/content"
	"truststack/internal/detect"
	"truststack/internal/logging"
)

const (
	triageMinBody     = 100 // below this: skip with default score
	functionalMinBody = 300 // functional pages need more body to score
	defaultScore      = 0.5
)

// Service scores a batch of normalised assets. The returned slice is
// aligned with the input; a nil entry means the service filtered that
// item and the pipeline applies the heuristic fallback.
type Service interface {
	Name() string
	ScoreBatch(ctx context.Context, items []*content.Normalized) ([]*content.Scores, error)
}

// Scored is one pipeline outcome.
type Scored struct {
	Content    *content.Normalized
	Scores     *content.Scores
	Skipped    bool
	SkipReason string
}

// Pipeline wires detection, aggregation, and the optional LLM service.
type Pipeline struct {
	engine  *detect.Engine
	signals *aggregate.Config
	svc     Service // nil disables the LLM stage
}

// New builds a pipeline. svc may be nil.
func New(engine *detect.Engine, signals *aggregate.Config, svc Service) *Pipeline {
	return &Pipeline{engine: engine, signals: signals, svc: svc}
}

// ScoreAll runs every asset through the pipeline. The output is
// aligned with the input.
func (p *Pipeline) ScoreAll(ctx context.Context, items []*content.Normalized) []Scored {
	out := make([]Scored, len(items))
	var pass []*content.Normalized
	var passIdx []int

	for i, n := range items {
		out[i].Content = n
		if reason, skip := shouldSkip(n); skip {
			out[i].Skipped = true
			out[i].SkipReason = reason
			logging.ScoreDebug("skipping %s: %s", n.URL, reason)
			continue
		}
		if reason, deflt := triage(n); reason != "" {
			out[i].Skipped = true
			out[i].SkipReason = reason
			if deflt {
				out[i].Scores = uniformScores(defaultScore, reason)
			}
			continue
		}
		if n.Language == "" {
			n.Language = DetectLanguage(n.Body)
		}
		pass = append(pass, n)
		passIdx = append(passIdx, i)
	}

	ruleScores := make([]*content.Scores, len(pass))
	for i, n := range pass {
		ruleScores[i] = p.ruleScore(ctx, n)
	}

	llm := p.serviceScores(ctx, pass)
	for i, idx := range passIdx {
		if llm != nil && llm[i] != nil {
			out[idx].Scores = merge(ruleScores[i], llm[i])
		} else if llm != nil {
			// Filtered by the service: heuristic fallback.
			h := HeuristicScore(pass[i].Body)
			s := uniformScores(h, "scoring_service_filtered")
			s.Rationale["detected_attributes"] = ruleScores[i].Rationale["detected_attributes"]
			out[idx].Scores = s
		} else {
			out[idx].Scores = ruleScores[i]
		}
	}

	logging.Score("scored %d of %d assets (%d skipped)", len(pass), len(items), len(items)-len(pass))
	return out
}

// ruleScore runs detectors and aggregates their signals.
func (p *Pipeline) ruleScore(ctx context.Context, n *content.Normalized) *content.Scores {
	attrs := p.engine.DetectAll(ctx, n)
	signals := aggregate.SignalsFromAttributes(p.signals, attrs)
	res := aggregate.Aggregate(p.signals, signals)

	s := &content.Scores{Rationale: map[string]any{
		"detected_attributes": attrs,
		"dimensions":          res.Dimensions,
	}}
	for _, dim := range content.Dimensions {
		s.SetDimension(dim, res.Dimensions[dim].Score/10)
	}
	s.Overall = res.Overall / 100
	for _, dim := range content.Dimensions {
		if dr := res.Dimensions[dim]; dr.CappedBy != "" {
			s.Flags = append(s.Flags, dim+"_capped_"+dr.CappedBy)
		}
	}
	s.Classification = Classify(s.Overall)
	return s
}

// serviceScores calls the LLM service; any error degrades the whole
// batch to rule-based scores.
func (p *Pipeline) serviceScores(ctx context.Context, items []*content.Normalized) []*content.Scores {
	if p.svc == nil || len(items) == 0 {
		return nil
	}
	scores, err := p.svc.ScoreBatch(ctx, items)
	if err != nil {
		logging.ScoreWarn("scoring service %s failed, using rule-based scores: %v", p.svc.Name(), err)
		return nil
	}
	if len(scores) != len(items) {
		logging.ScoreWarn("scoring service %s returned %d scores for %d items", p.svc.Name(), len(scores), len(items))
		return nil
	}
	return scores
}

// merge averages rule and service dimensions and combines rationale.
func merge(rule, svc *content.Scores) *content.Scores {
	out := &content.Scores{Rationale: map[string]any{}}
	for k, v := range rule.Rationale {
		out.Rationale[k] = v
	}
	for k, v := range svc.Rationale {
		out.Rationale[k] = v
	}
	for _, dim := range content.Dimensions {
		out.SetDimension(dim, (rule.Dimension(dim)+svc.Dimension(dim))/2)
	}
	out.Overall = (rule.Overall + svc.Overall) / 2
	out.Flags = append(append(out.Flags, rule.Flags...), svc.Flags...)
	out.Classification = Classify(out.Overall)
	return out
}

// shouldSkip applies the pre-filter: pages that cannot meaningfully be
// scored at all.
func shouldSkip(n *content.Normalized) (string, bool) {
	body := strings.TrimSpace(n.Body)
	if body == "" && n.Screenshot == "" {
		return "empty_body", true
	}
	if isErrorPage(n) {
		return "error_page", true
	}
	if isFunctionalPage(n) && len(body) < functionalMinBody {
		return "functional_page", true
	}
	return "", false
}

// triage returns a skip reason and whether the default score applies.
func triage(n *content.Normalized) (string, bool) {
	body := strings.TrimSpace(n.Body)
	if len(body) < triageMinBody {
		return "body_under_100_chars", true
	}
	return "", false
}

var functionalMarkers = []string{
	"/login", "/signin", "/sign-in", "/signup", "/sign-up",
	"/cart", "/checkout", "/register", "/account",
}

func isFunctionalPage(n *content.Normalized) bool {
	u := strings.ToLower(n.URL)
	for _, m := range functionalMarkers {
		if strings.Contains(u, m) {
			return true
		}
	}
	title := strings.ToLower(n.Title)
	return strings.Contains(title, "log in") || strings.Contains(title, "sign in") ||
		strings.Contains(title, "shopping cart") || strings.Contains(title, "checkout")
}

var errorTitleMarkers = []string{
	"404", "500", "not found", "page not found", "server error", "service unavailable",
}

func isErrorPage(n *content.Normalized) bool {
	title := strings.ToLower(n.Title)
	for _, m := range errorTitleMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// HeuristicScore is the fallback for items the scoring service
// filtered: 0.5 for empty content, otherwise scaled by length.
func HeuristicScore(body string) float64 {
	body = strings.TrimSpace(body)
	if body == "" {
		return defaultScore
	}
	v := 0.3 + float64(len(body))/2000
	if v > 1 {
		v = 1
	}
	return v
}

// Classify maps an overall score in [0,1] to a band.
func Classify(overall float64) string {
	switch {
	case overall >= 0.8:
		return "highly_trusted"
	case overall >= 0.6:
		return "trusted"
	case overall >= 0.4:
		return "mixed"
	case overall >= 0.2:
		return "low_trust"
	default:
		return "untrusted"
	}
}

func uniformScores(v float64, reason string) *content.Scores {
	s := &content.Scores{
		Overall:   v,
		Rationale: map[string]any{"skip_reason": reason},
	}
	for _, dim := range content.Dimensions {
		s.SetDimension(dim, v)
	}
	s.Classification = Classify(v)
	return s
}
