package detect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"truststack/internal/content"
	"truststack/internal/whois"
)

func inputFor(n *content.Normalized) *Input {
	return &Input{Content: n, Now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCanonicalMatchLadder(t *testing.T) {
	cases := []struct {
		name       string
		pageURL    string
		canonical  string
		want       float64
		wantStatus string
	}{
		{"exact", "https://example.com/post", "https://example.com/post", 10, content.StatusPresent},
		{"www insensitive", "https://www.example.com/post", "https://example.com/post", 10, content.StatusPresent},
		{"trailing slash", "https://example.com/post/", "https://example.com/post", 10, content.StatusPresent},
		{"same host different path", "https://example.com/post", "https://example.com/other", 5, content.StatusPresent},
		{"different host", "https://example.com/post", "https://syndicator.net/post", 1, content.StatusAbsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &content.Normalized{
				URL:      tc.pageURL,
				Metadata: map[string]any{"canonical_url": tc.canonical},
			}
			got := detectCanonicalMatch(inputFor(n))
			if got == nil {
				t.Fatal("expected a detection")
			}
			if got.Value != tc.want {
				t.Errorf("value = %v, want %v", got.Value, tc.want)
			}
			if got.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tc.wantStatus)
			}
		})
	}

	if got := detectCanonicalMatch(inputFor(&content.Normalized{URL: "https://example.com"})); got != nil {
		t.Error("no canonical link should yield nil")
	}
}

func TestC2PAGatedOnVisuals(t *testing.T) {
	textOnly := &content.Normalized{
		Modality: content.ModalityText,
		Metadata: map[string]any{"has_significant_visuals": false},
	}
	if got := detectProvenanceManifest(inputFor(textOnly)); got != nil {
		t.Errorf("text-only content must not be judged: %+v", got)
	}

	visual := &content.Normalized{
		Modality: content.ModalityImage,
		Metadata: map[string]any{"has_provenance_manifest": true},
	}
	got := detectProvenanceManifest(inputFor(visual))
	if got == nil || got.Value != 10 {
		t.Errorf("manifest on visual content = %+v, want value 10", got)
	}

	noManifest := &content.Normalized{
		Modality: content.ModalityText,
		Metadata: map[string]any{"has_significant_visuals": true},
	}
	got = detectProvenanceManifest(inputFor(noManifest))
	if got == nil || got.Status != content.StatusAbsent {
		t.Errorf("missing manifest = %+v, want absent", got)
	}
}

func TestVerifiedPlatformAccount(t *testing.T) {
	verified := &content.Normalized{
		URL:    "https://www.instagram.com/nike/",
		Badges: content.VerificationBadges{Platform: "instagram", Verified: true, Method: "aria-label"},
	}
	got := detectVerifiedAccount(inputFor(verified))
	if got == nil || got.Value != 10 {
		t.Errorf("verified account = %+v, want 10", got)
	}

	unbadged := &content.Normalized{URL: "https://www.instagram.com/someone/"}
	got = detectVerifiedAccount(inputFor(unbadged))
	if got == nil || got.Value != 3 {
		t.Errorf("social without badge = %+v, want 3", got)
	}

	website := &content.Normalized{URL: "https://example.com/page"}
	if got := detectVerifiedAccount(inputFor(website)); got != nil {
		t.Errorf("plain website = %+v, want nil", got)
	}
}

func TestDomainAgeBands(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		years float64
		want  float64
	}{
		{12, 10},
		{6, 8},
		{3, 6},
		{1.5, 4},
		{0.7, 3},
		{0.2, 2},
	}
	for _, tc := range cases {
		created := now.Add(-time.Duration(tc.years * 365.25 * 24 * float64(time.Hour)))
		in := &Input{
			Content: &content.Normalized{URL: "https://example.com"},
			Whois:   &whois.Record{Created: created},
			Now:     now,
		}
		got := detectDomainAge(in)
		if got == nil || got.Value != tc.want {
			t.Errorf("%.1f years: got %+v, want value %v", tc.years, got, tc.want)
		}
	}

	if got := detectDomainAge(inputFor(&content.Normalized{URL: "https://example.com"})); got != nil {
		t.Error("no whois record should yield nil")
	}
}

func TestReadabilityBands(t *testing.T) {
	sentence := func(words int) string {
		return strings.TrimSpace(strings.Repeat("word ", words)) + "."
	}
	cases := []struct {
		name  string
		words int
		want  float64
	}{
		{"ideal", 16, 10},
		{"acceptable short", 9, 7},
		{"acceptable long", 28, 7},
		{"too long", 40, 4},
		{"too short", 4, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			for i := 0; i < 8; i++ {
				b.WriteString(sentence(tc.words))
				b.WriteString(" ")
			}
			n := &content.Normalized{Body: b.String()}
			got := detectReadability(inputFor(n))
			if got == nil {
				t.Fatal("expected a detection")
			}
			if got.Value != tc.want {
				t.Errorf("value = %v, want %v (median %s)", got.Value, tc.want, got.Evidence)
			}
		})
	}
}

func TestReadabilitySkipsListPages(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Air Max 90 Shoes $120\n")
	}
	n := &content.Normalized{Body: b.String()}
	if got := detectReadability(inputFor(n)); got != nil {
		t.Errorf("list-dominated page should be skipped, got %+v", got)
	}
}

func TestDataCitationGating(t *testing.T) {
	noClaims := &content.Normalized{Body: "We make comfortable running shoes for everyone who loves the sport."}
	if got := detectDataCitations(inputFor(noClaims)); got != nil {
		t.Errorf("page without data claims must return nil, got %+v", got)
	}
	if got := detectClaimTraceability(inputFor(noClaims)); got != nil {
		t.Errorf("traceability without claims must return nil, got %+v", got)
	}

	uncited := &content.Normalized{Body: "Our new foam improves energy return by 87% and cuts weight by 23%."}
	got := detectDataCitations(inputFor(uncited))
	if got == nil || got.Value > 4 {
		t.Errorf("uncited claims = %+v, want low score", got)
	}

	cited := &content.Normalized{Body: "A study found 87% improvement. Source: Journal of Sports Science. A second study published in 2024 agreed. Source: independent lab. References listed below."}
	got = detectDataCitations(inputFor(cited))
	if got == nil || got.Value < 6 {
		t.Errorf("cited claims = %+v, want high score", got)
	}
}

func TestEngagementGating(t *testing.T) {
	docs := &content.Normalized{URL: "https://example.com/docs/api", SourceType: content.SourceThirdParty}
	if got := detectEngagementTrust(inputFor(docs)); got != nil {
		t.Errorf("docs page = %+v, want nil", got)
	}

	gov := &content.Normalized{URL: "https://www.ftc.gov/consumers", SourceType: content.SourceThirdParty}
	if got := detectEngagementTrust(inputFor(gov)); got != nil {
		t.Errorf("gov page = %+v, want nil", got)
	}

	brandNoCommunity := &content.Normalized{
		URL: "https://www.nike.com/air-max", SourceType: content.SourceBrandOwned,
		Body: "Engineered for comfort with responsive cushioning.",
	}
	if got := detectEngagementTrust(inputFor(brandNoCommunity)); got != nil {
		t.Errorf("brand page without community section = %+v, want nil", got)
	}

	social := &content.Normalized{
		URL: "https://www.reddit.com/r/running/comments/1", SourceType: content.SourceThirdParty,
		Body: "Great shoes! 1.2k upvotes and 300 comments with many replies.",
	}
	got := detectEngagementTrust(inputFor(social))
	if got == nil || got.Value < 6 {
		t.Errorf("engagement-rich page = %+v, want positive detection", got)
	}
}

func TestAILabelingArtifactWithoutDisclosure(t *testing.T) {
	undisclosed := &content.Normalized{
		Body: "As an AI language model, I cannot verify this. The shoes are great though.",
	}
	got := detectAILabelingClarity(inputFor(undisclosed))
	if got == nil || got.Value != 2 {
		t.Errorf("undisclosed AI artefact = %+v, want value 2", got)
	}

	disclosed := &content.Normalized{
		Body: "This article is ai-generated. As an AI language model, I summarise reviews.",
	}
	got = detectAILabelingClarity(inputFor(disclosed))
	if got == nil || got.Value < 5 {
		t.Errorf("disclosed AI content = %+v, want no artefact penalty", got)
	}
}

func writeRubric(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rubric.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rubric: %v", err)
	}
	return path
}

func TestRubricValidation(t *testing.T) {
	dir := t.TempDir()

	path := writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - content_depth\n  - https_secure_connection\n")
	r, err := LoadRubric(path)
	if err != nil {
		t.Fatalf("LoadRubric: %v", err)
	}
	if got := r.Enabled(); len(got) != 2 || got[0] != "content_depth" {
		t.Errorf("enabled = %v", got)
	}

	bad := writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - no_such_detector\n")
	if _, err := LoadRubric(bad); err == nil || !strings.Contains(err.Error(), "no_such_detector") {
		t.Errorf("unknown attribute should fail with its name, got %v", err)
	}

	empty := writeRubric(t, dir, "version: 1\nenabled_attributes: []\n")
	if _, err := LoadRubric(empty); err == nil {
		t.Error("empty rubric should fail")
	}
}

func TestRubricReloadKeepsOldSetOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - content_depth\n")

	r, err := LoadRubric(path)
	if err != nil {
		t.Fatalf("LoadRubric: %v", err)
	}

	writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - bogus_attribute\n")
	if err := r.Reload(); err == nil {
		t.Fatal("reload of invalid rubric should error")
	}
	if got := r.Enabled(); len(got) != 1 || got[0] != "content_depth" {
		t.Errorf("old set not preserved: %v", got)
	}

	writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - https_secure_connection\n")
	if err := r.Reload(); err != nil {
		t.Fatalf("valid reload: %v", err)
	}
	if got := r.Enabled(); len(got) != 1 || got[0] != "https_secure_connection" {
		t.Errorf("new set not applied: %v", got)
	}
}

func TestEngineSurvivesPanickingDetector(t *testing.T) {
	register("panics_on_purpose", func(in *Input) *content.DetectedAttribute {
		panic("boom")
	})
	defer delete(registry, "panics_on_purpose")

	dir := t.TempDir()
	path := writeRubric(t, dir, "version: 1\nenabled_attributes:\n  - panics_on_purpose\n  - content_depth\n")

	e, err := NewEngine(path, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	n := &content.Normalized{URL: "https://example.com", Body: strings.Repeat("word ", 400)}
	attrs := e.DetectAll(context.Background(), n)
	if len(attrs) != 1 || attrs[0].AttributeID != "content_depth" {
		t.Errorf("attrs = %+v, want just content_depth", attrs)
	}
}

func TestFullRubricFileMatchesRegistry(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "rubric.yaml")
	r, err := LoadRubric(path)
	if err != nil {
		t.Fatalf("shipped rubric invalid: %v", err)
	}
	if got := len(r.Enabled()); got < 40 {
		t.Errorf("shipped rubric enables %d attributes, want 40+", got)
	}
}
