package aggregate

import (
	"math"
	"path/filepath"
	"testing"

	"truststack/internal/content"
)

func testConfig() *Config {
	return &Config{
		Version: 1,
		Dimensions: map[string]DimensionSpec{
			content.DimProvenance: {
				Weight:      0.2,
				MinCoverage: 2,
				Signals: map[string]SignalSpec{
					"s1": {Weight: 0.2},
					"s2": {Weight: 0.2},
					"s3": {Weight: 0.2},
					"s4": {Weight: 0.2},
					"s5": {Weight: 0.2, Knockout: true},
					"c1": {Weight: 0.5, Core: true},
				},
			},
			content.DimVerification: {Weight: 0.2, Signals: map[string]SignalSpec{"v1": {Weight: 0.5}}},
			content.DimTransparency: {Weight: 0.2, Signals: map[string]SignalSpec{"t1": {Weight: 0.5}}},
			content.DimCoherence:    {Weight: 0.2, Signals: map[string]SignalSpec{"h1": {Weight: 0.5}}},
			content.DimResonance:    {Weight: 0.2, Signals: map[string]SignalSpec{"r1": {Weight: 0.5}}},
		},
	}
}

func signal(id, dim string, value float64) content.SignalScore {
	return content.SignalScore{ID: id, Dimension: dim, Value: value, Weight: 0.2, Confidence: 1}
}

func TestKnockoutCapsDimension(t *testing.T) {
	signals := []content.SignalScore{
		signal("s1", content.DimProvenance, 8),
		signal("s2", content.DimProvenance, 8),
		signal("s3", content.DimProvenance, 8),
		signal("s4", content.DimProvenance, 8),
		signal("s5", content.DimProvenance, 2), // knockout
	}

	res := Aggregate(testConfig(), signals)
	dim := res.Dimensions[content.DimProvenance]
	// Weighted mean is 6.8, but the low knockout caps at 4.0.
	if dim.Score != 4.0 {
		t.Errorf("provenance = %v, want 4.0", dim.Score)
	}
	if dim.CappedBy != "knockout" {
		t.Errorf("capped_by = %q", dim.CappedBy)
	}
}

func TestKnockoutAboveThresholdDoesNotCap(t *testing.T) {
	signals := []content.SignalScore{
		signal("s1", content.DimProvenance, 8),
		signal("s2", content.DimProvenance, 8),
		signal("s5", content.DimProvenance, 5), // knockout signal, healthy value
	}
	res := Aggregate(testConfig(), signals)
	dim := res.Dimensions[content.DimProvenance]
	want := (8*0.2 + 8*0.2 + 5*0.2) / 0.6
	if math.Abs(dim.Score-want) > 1e-9 {
		t.Errorf("provenance = %v, want %v", dim.Score, want)
	}
	if dim.CappedBy != "" {
		t.Errorf("unexpected cap %q", dim.CappedBy)
	}
}

func TestCoreDeficitCapsAtSix(t *testing.T) {
	signals := []content.SignalScore{
		signal("s1", content.DimProvenance, 10),
		signal("s2", content.DimProvenance, 10),
		signal("s3", content.DimProvenance, 10),
		{ID: "c1", Dimension: content.DimProvenance, Value: 2, Weight: 0.1, Confidence: 1},
	}
	res := Aggregate(testConfig(), signals)
	dim := res.Dimensions[content.DimProvenance]
	if dim.Score != 6.0 {
		t.Errorf("provenance = %v, want core cap 6.0", dim.Score)
	}
	if dim.CappedBy != "core_deficit" {
		t.Errorf("capped_by = %q", dim.CappedBy)
	}
}

func TestConfidenceWeighting(t *testing.T) {
	signals := []content.SignalScore{
		{ID: "s1", Dimension: content.DimProvenance, Value: 10, Weight: 0.2, Confidence: 1.0},
		{ID: "s2", Dimension: content.DimProvenance, Value: 2, Weight: 0.2, Confidence: 0.1},
	}
	res := Aggregate(testConfig(), signals)
	dim := res.Dimensions[content.DimProvenance]
	want := (10*0.2*1.0 + 2*0.2*0.1) / (0.2*1.0 + 0.2*0.1)
	if math.Abs(dim.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", dim.Score, want)
	}
}

func TestCoveragePenalty(t *testing.T) {
	// MinCoverage 2 with a single signal halves the score.
	signals := []content.SignalScore{signal("s1", content.DimProvenance, 8)}
	res := Aggregate(testConfig(), signals)
	dim := res.Dimensions[content.DimProvenance]
	if math.Abs(dim.Score-4.0) > 1e-9 {
		t.Errorf("score = %v, want 4.0 after coverage penalty", dim.Score)
	}
}

func TestOverallOnHundredScale(t *testing.T) {
	var signals []content.SignalScore
	for _, dim := range content.Dimensions {
		for _, id := range []string{"a", "b"} {
			signals = append(signals, content.SignalScore{
				ID: id, Dimension: dim, Value: 8, Weight: 0.5, Confidence: 1,
			})
		}
	}
	cfg := testConfig()
	for name, spec := range cfg.Dimensions {
		spec.MinCoverage = 0
		cfg.Dimensions[name] = spec
	}
	res := Aggregate(cfg, signals)
	if math.Abs(res.Overall-80) > 1e-9 {
		t.Errorf("overall = %v, want 80", res.Overall)
	}
}

func TestEmptyDimensionScoresZero(t *testing.T) {
	res := Aggregate(testConfig(), nil)
	for _, dim := range content.Dimensions {
		if res.Dimensions[dim].Score != 0 {
			t.Errorf("%s = %v, want 0", dim, res.Dimensions[dim].Score)
		}
	}
	if res.Overall != 0 {
		t.Errorf("overall = %v, want 0", res.Overall)
	}
}

func TestSignalsFromAttributes(t *testing.T) {
	cfg := testConfig()
	attrs := []content.DetectedAttribute{
		{AttributeID: "s1", Dimension: content.DimProvenance, Value: 7, Confidence: 0.9},
		{AttributeID: "unconfigured", Dimension: content.DimProvenance, Value: 5, Confidence: 0.5},
	}
	signals := SignalsFromAttributes(cfg, attrs)
	if signals[0].Weight != 0.2 {
		t.Errorf("configured weight = %v, want 0.2", signals[0].Weight)
	}
	if signals[1].Weight != defaultWeight {
		t.Errorf("fallback weight = %v, want %v", signals[1].Weight, defaultWeight)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "trust_signals.yaml"))
	if err != nil {
		t.Fatalf("shipped trust signals invalid: %v", err)
	}
	for _, dim := range content.Dimensions {
		if _, ok := cfg.Dimensions[dim]; !ok {
			t.Errorf("dimension %s missing from shipped config", dim)
		}
	}
}
