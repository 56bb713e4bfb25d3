package scoring

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"truststack/internal/aggregate"
	"truststack/internal/content"
	"truststack/internal/detect"
)

func newTestPipeline(t *testing.T, svc Service) *Pipeline {
	t.Helper()
	engine, err := detect.NewEngine(filepath.Join("..", "..", "configs", "rubric.yaml"), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	signals, err := aggregate.LoadConfig(filepath.Join("..", "..", "configs", "trust_signals.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return New(engine, signals, svc)
}

func richContent(url string) *content.Normalized {
	return &content.Normalized{
		URL:        url,
		Title:      "How we build our running shoes",
		Body:       strings.Repeat("We design every shoe with recycled materials and test each model with independent runners before release. ", 8),
		SourceType: content.SourceBrandOwned,
		Metadata:   map[string]any{},
	}
}

func TestTriageShortBodyGetsDefaultScore(t *testing.T) {
	p := newTestPipeline(t, nil)
	n := &content.Normalized{URL: "https://example.com/a", Body: "short text here"}

	out := p.ScoreAll(context.Background(), []*content.Normalized{n})
	if !out[0].Skipped || out[0].SkipReason != "body_under_100_chars" {
		t.Fatalf("out = %+v, want triage skip", out[0])
	}
	s := out[0].Scores
	if s == nil || s.Overall != 0.5 || s.Provenance != 0.5 {
		t.Errorf("scores = %+v, want uniform 0.5", s)
	}
}

func TestPreFilterSkips(t *testing.T) {
	p := newTestPipeline(t, nil)
	cases := []struct {
		name   string
		n      *content.Normalized
		reason string
	}{
		{"empty", &content.Normalized{URL: "https://example.com"}, "empty_body"},
		{"error page", &content.Normalized{URL: "https://example.com/x", Title: "404 Not Found", Body: strings.Repeat("a", 400)}, "error_page"},
		{"thin cart", &content.Normalized{URL: "https://shop.example.com/cart", Body: "Your cart is empty."}, "functional_page"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := p.ScoreAll(context.Background(), []*content.Normalized{tc.n})
			if !out[0].Skipped || out[0].SkipReason != tc.reason {
				t.Errorf("got %+v, want skip %q", out[0], tc.reason)
			}
			if out[0].Scores != nil {
				t.Errorf("pre-filtered pages get no score, got %+v", out[0].Scores)
			}
		})
	}
}

func TestRuleBasedScoring(t *testing.T) {
	p := newTestPipeline(t, nil)
	n := richContent("https://www.example.com/story")

	out := p.ScoreAll(context.Background(), []*content.Normalized{n})
	s := out[0].Scores
	if out[0].Skipped || s == nil {
		t.Fatalf("expected a score, got %+v", out[0])
	}
	for _, dim := range content.Dimensions {
		if v := s.Dimension(dim); v < 0 || v > 1 {
			t.Errorf("%s = %v, want [0,1]", dim, v)
		}
	}
	if s.Overall < 0 || s.Overall > 1 {
		t.Errorf("overall = %v, want [0,1]", s.Overall)
	}
	if _, ok := s.Rationale["detected_attributes"]; !ok {
		t.Error("rationale missing detected_attributes")
	}
	if s.Classification == "" {
		t.Error("classification not set")
	}
	if n.Language != "en" {
		t.Errorf("language = %q, want en", n.Language)
	}
}

type stubService struct {
	scores []*content.Scores
	err    error
	calls  int
}

func (s *stubService) Name() string { return "stub" }

func (s *stubService) ScoreBatch(ctx context.Context, items []*content.Normalized) ([]*content.Scores, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func TestServiceMergeAndFallback(t *testing.T) {
	llm := &content.Scores{Overall: 1, Rationale: map[string]any{"model_rationale": "x"}}
	for _, dim := range content.Dimensions {
		llm.SetDimension(dim, 1)
	}
	svc := &stubService{scores: []*content.Scores{llm, nil}}
	p := newTestPipeline(t, svc)

	a := richContent("https://www.example.com/a")
	b := richContent("https://www.example.com/b")
	out := p.ScoreAll(context.Background(), []*content.Normalized{a, b})

	rule := newTestPipeline(t, nil).ScoreAll(context.Background(), []*content.Normalized{richContent("https://www.example.com/a")})
	wantOverall := (rule[0].Scores.Overall + 1) / 2
	if math.Abs(out[0].Scores.Overall-wantOverall) > 1e-9 {
		t.Errorf("merged overall = %v, want %v", out[0].Scores.Overall, wantOverall)
	}
	if _, ok := out[0].Scores.Rationale["model_rationale"]; !ok {
		t.Error("merged rationale missing model keys")
	}

	// Filtered item: heuristic by body length.
	want := HeuristicScore(b.Body)
	if math.Abs(out[1].Scores.Overall-want) > 1e-9 {
		t.Errorf("fallback overall = %v, want %v", out[1].Scores.Overall, want)
	}
}

func TestServiceErrorDegradesToRules(t *testing.T) {
	svc := &stubService{err: errors.New("quota exhausted")}
	p := newTestPipeline(t, svc)

	out := p.ScoreAll(context.Background(), []*content.Normalized{richContent("https://www.example.com/a")})
	if out[0].Scores == nil {
		t.Fatal("service failure must still yield rule-based scores")
	}
	if _, ok := out[0].Scores.Rationale["detected_attributes"]; !ok {
		t.Error("rule rationale missing after degradation")
	}
}

func TestHeuristicScore(t *testing.T) {
	assert.Equal(t, 0.5, HeuristicScore(""))
	assert.InDelta(t, 0.8, HeuristicScore(strings.Repeat("a", 1000)), 1e-9)
	assert.Equal(t, 1.0, HeuristicScore(strings.Repeat("a", 4000)))
}

func TestClassifyBands(t *testing.T) {
	cases := []struct {
		v    float64
		want string
	}{
		{0.95, "highly_trusted"},
		{0.7, "trusted"},
		{0.5, "mixed"},
		{0.3, "low_trust"},
		{0.1, "untrusted"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.v), "Classify(%v)", tc.v)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"english", "The shoes are designed for the runners and it is clear that the team cares about the fit of the product for you.", "en"},
		{"spanish", "El equipo de la marca presenta los nuevos modelos que se fabrican en el taller con los materiales reciclados para una temporada.", "es"},
		{"german", "Die Marke stellt die neuen Schuhe vor und der Laden bietet den Kunden das beste Angebot mit den nachhaltigen Materialien.", "de"},
		{"too short", "hola", "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectLanguage(tc.body))
		})
	}
}
