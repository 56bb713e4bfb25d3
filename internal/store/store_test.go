package store

import (
	"fmt"
	"math"
	"testing"
	"time"

	"truststack/internal/content"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRun(t *testing.T, s *Store, brandSlug, externalID string) *Run {
	t.Helper()
	b, err := s.GetOrCreateBrand(brandSlug, "", "", []string{brandSlug + ".com"})
	if err != nil {
		t.Fatalf("GetOrCreateBrand: %v", err)
	}
	sc, err := s.GetOrCreateScenario("default", "Default", "", nil)
	if err != nil {
		t.Fatalf("GetOrCreateScenario: %v", err)
	}
	r, err := s.CreateRun(externalID, b.ID, sc.ID, map[string]any{"limit": float64(10)})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s, "acme", "acme_20260824_120000_ab12cd")

	if err := s.UpdateRunStatus(run.ID, StatusInProgress, ""); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	asset := &Asset{
		AssetID:           "a-1",
		SourceType:        content.SourceBrandOwned,
		Channel:           "web",
		URL:               "https://acme.com/about",
		Title:             "About Acme",
		RawContent:        "<html>raw</html>",
		NormalizedContent: "Acme makes anvils.",
		Modality:          content.ModalityText,
		Language:          "en",
		MetaInfo:          map[string]any{"canonical_url": "https://acme.com/about", "access_denied": false},
	}
	assetID, err := s.SaveAsset(run.ID, asset)
	if err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}

	scores := &content.Scores{
		Provenance: 0.81, Verification: 0.72, Transparency: 0.63,
		Coherence: 0.54, Resonance: 0.45, Overall: 0.66,
		Classification: "trusted",
		Rationale:      map[string]any{"detected_attributes": []any{}},
		Flags:          []string{"provenance_capped_knockout"},
	}
	if err := s.SaveScores(assetID, scores); err != nil {
		t.Fatalf("SaveScores: %v", err)
	}

	sum := &Summary{
		RunID: run.ID, AvgProvenance: 0.81, AvgVerification: 0.72,
		AvgTransparency: 0.63, AvgCoherence: 0.54, AvgResonance: 0.45,
		TrustStackScore: 66.0, AuthenticityRatio: 0.765,
		Insights: map[string]any{"assets": float64(1)},
	}
	if err := s.SaveSummary(sum); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := s.UpdateRunStatus(run.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	got, err := s.GetRun(run.ExternalID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusCompleted || got.ExternalID != run.ExternalID {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("completed run must have finished_at")
	}
	if got.Config["limit"] != float64(10) {
		t.Errorf("config = %v", got.Config)
	}

	assets, err := s.AssetsForRun(run.ID)
	if err != nil {
		t.Fatalf("AssetsForRun: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("assets = %d, want 1", len(assets))
	}
	a := assets[0]
	if a.NormalizedContent != asset.NormalizedContent || a.URL != asset.URL {
		t.Errorf("asset = %+v", a)
	}
	if a.Metadata()["canonical_url"] != "https://acme.com/about" {
		t.Errorf("meta_info = %v", a.MetaInfo)
	}

	gotScores, err := s.ScoresForAsset(a.ID)
	if err != nil {
		t.Fatalf("ScoresForAsset: %v", err)
	}
	if math.Abs(gotScores.Provenance-0.81) > 1e-9 || math.Abs(gotScores.Overall-0.66) > 1e-9 {
		t.Errorf("scores = %+v", gotScores)
	}
	if len(gotScores.Flags) != 1 {
		t.Errorf("flags = %v", gotScores.Flags)
	}

	gotSum, err := s.GetSummary(run.ID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if math.Abs(gotSum.AvgProvenance-0.81) > 1e-9 ||
		math.Abs(gotSum.TrustStackScore-66.0) > 1e-9 ||
		math.Abs(gotSum.AuthenticityRatio-0.765) > 1e-9 {
		t.Errorf("summary = %+v", gotSum)
	}
}

func TestPendingRunHasNoFinishedAt(t *testing.T) {
	s := newTestStore(t)
	run := seedRun(t, s, "acme", "acme_20260824_120000_000001")

	got, err := s.GetRun(run.ExternalID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusPending || got.FinishedAt != nil {
		t.Errorf("run = %+v, want pending without finished_at", got)
	}
}

func TestRecentAssetsFilters(t *testing.T) {
	s := newTestStore(t)

	fresh := seedRun(t, s, "acme", "acme_fresh")
	if _, err := s.SaveAsset(fresh.ID, &Asset{AssetID: "f1", URL: "https://acme.com/1", RawContent: "body"}); err != nil {
		t.Fatal(err)
	}
	// Empty raw content never qualifies for reuse.
	if _, err := s.SaveAsset(fresh.ID, &Asset{AssetID: "f2", URL: "https://acme.com/2"}); err != nil {
		t.Fatal(err)
	}

	failed := seedRun(t, s, "acme", "acme_failed")
	if _, err := s.SaveAsset(failed.ID, &Asset{AssetID: "x1", URL: "https://acme.com/3", RawContent: "body"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRunStatus(failed.ID, StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	old := seedRun(t, s, "acme", "acme_old")
	if _, err := s.SaveAsset(old.ID, &Asset{AssetID: "o1", URL: "https://acme.com/4", RawContent: "body"}); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := s.db.Exec(`UPDATE runs SET started_at = ? WHERE id = ?`, stale, old.ID); err != nil {
		t.Fatal(err)
	}

	other := seedRun(t, s, "globex", "globex_fresh")
	if _, err := s.SaveAsset(other.ID, &Asset{AssetID: "g1", URL: "https://globex.com/1", RawContent: "body"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentAssets("acme", 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentAssets: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://acme.com/1" {
		urls := make([]string, len(got))
		for i, a := range got {
			urls[i] = a.URL
		}
		t.Errorf("reusable assets = %v, want only https://acme.com/1", urls)
	}
}

func TestPruneOldRunsCascades(t *testing.T) {
	s := newTestStore(t)

	old := seedRun(t, s, "acme", "acme_old")
	oldAsset, err := s.SaveAsset(old.ID, &Asset{AssetID: "o1", URL: "https://acme.com/old", RawContent: "body"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScores(oldAsset, &content.Scores{Overall: 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSummary(&Summary{RunID: old.ID, TrustStackScore: 50}); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().UTC().AddDate(0, 0, -40)
	if _, err := s.db.Exec(`UPDATE runs SET started_at = ? WHERE id = ?`, stale, old.ID); err != nil {
		t.Fatal(err)
	}

	keep := seedRun(t, s, "acme", "acme_keep")
	keepAsset, err := s.SaveAsset(keep.ID, &Asset{AssetID: "k1", URL: "https://acme.com/keep", RawContent: "body"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScores(keepAsset, &content.Scores{Overall: 0.7}); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneOldRuns(30)
	if err != nil {
		t.Fatalf("PruneOldRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	if _, err := s.GetRun("acme_old"); err == nil {
		t.Error("pruned run still readable")
	}
	for table, want := range map[string]int{
		"content_assets":     1,
		"dimension_scores":   1,
		"truststack_summary": 0,
	} {
		var count int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			t.Fatal(err)
		}
		if count != want {
			t.Errorf("%s rows = %d, want %d", table, count, want)
		}
	}

	// The surviving run keeps its children.
	if sc, err := s.ScoresForAsset(keepAsset); err != nil || sc == nil {
		t.Errorf("surviving scores = %v, %v", sc, err)
	}
}
