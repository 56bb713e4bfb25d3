// Package aggregate folds signal scores into the five trust dimensions
// and an overall 0-100 trust-stack score, applying knockout and
// core-deficit caps from the trust-signals configuration.
package aggregate

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"truststack/internal/content"
	"truststack/internal/logging"
)

// SignalSpec configures one named signal inside a dimension.
type SignalSpec struct {
	Weight   float64 `yaml:"weight"`
	Knockout bool    `yaml:"knockout"`
	Core     bool    `yaml:"core"`
}

// DimensionSpec configures one dimension.
type DimensionSpec struct {
	Weight      float64               `yaml:"weight"`
	MinCoverage int                   `yaml:"min_coverage"`
	Signals     map[string]SignalSpec `yaml:"signals"`
}

// Config is the trust-signals configuration.
type Config struct {
	Version    int                      `yaml:"version"`
	Dimensions map[string]DimensionSpec `yaml:"dimensions"`
}

const (
	knockoutThreshold = 4.0
	knockoutCap       = 4.0
	coreThreshold     = 3.0
	coreCap           = 6.0
	defaultWeight     = 0.5
)

// LoadConfig reads and validates the trust-signals file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust signals: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse trust signals: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every dimension is known and carries signals.
func (c *Config) Validate() error {
	if len(c.Dimensions) == 0 {
		return fmt.Errorf("trust signals configure no dimensions")
	}
	known := make(map[string]bool, len(content.Dimensions))
	for _, d := range content.Dimensions {
		known[d] = true
	}
	for name, spec := range c.Dimensions {
		if !known[name] {
			return fmt.Errorf("unknown dimension %q in trust signals", name)
		}
		if len(spec.Signals) == 0 {
			return fmt.Errorf("dimension %q has no signals", name)
		}
		for id, sig := range spec.Signals {
			if sig.Weight < 0 || sig.Weight > 1 {
				return fmt.Errorf("signal %q weight %v out of [0,1]", id, sig.Weight)
			}
		}
	}
	return nil
}

// SignalWeight returns the configured weight for a signal, falling back
// to a neutral default for signals the config does not name.
func (c *Config) SignalWeight(dimension, id string) float64 {
	if spec, ok := c.Dimensions[dimension]; ok {
		if sig, ok := spec.Signals[id]; ok {
			return sig.Weight
		}
	}
	return defaultWeight
}

// DimensionResult carries one aggregated dimension with its caps.
type DimensionResult struct {
	Score       float64  `json:"score"` // [0,10]
	SignalCount int      `json:"signal_count"`
	CappedBy    string   `json:"capped_by,omitempty"` // knockout or core_deficit
	Signals     []string `json:"signals,omitempty"`
}

// Result is the full aggregation outcome.
type Result struct {
	Dimensions map[string]DimensionResult `json:"dimensions"`
	Overall    float64                    `json:"overall"` // [0,100]
}

// Aggregate folds signals into per-dimension scores and the overall
// trust score.
func Aggregate(cfg *Config, signals []content.SignalScore) Result {
	byDim := make(map[string][]content.SignalScore)
	for _, s := range signals {
		byDim[s.Dimension] = append(byDim[s.Dimension], s)
	}

	res := Result{Dimensions: make(map[string]DimensionResult, len(content.Dimensions))}
	var weightedSum, weightTotal float64

	for _, dim := range content.Dimensions {
		spec := cfg.Dimensions[dim]
		dr := aggregateDimension(spec, byDim[dim])
		res.Dimensions[dim] = dr

		w := spec.Weight
		if w <= 0 {
			w = 0.2
		}
		weightedSum += dr.Score * w
		weightTotal += w
	}

	if weightTotal > 0 {
		res.Overall = weightedSum / weightTotal * 10 // 0-10 -> 0-100
	}
	logging.Score("aggregated %d signals -> overall %.1f", len(signals), res.Overall)
	return res
}

func aggregateDimension(spec DimensionSpec, signals []content.SignalScore) DimensionResult {
	dr := DimensionResult{SignalCount: len(signals)}
	if len(signals) == 0 {
		return dr
	}

	var sum, weight float64
	for _, s := range signals {
		eff := s.Weight * s.Confidence
		sum += s.Value * eff
		weight += eff
		dr.Signals = append(dr.Signals, s.ID)
	}
	sort.Strings(dr.Signals)
	if weight == 0 {
		return dr
	}
	score := sum / weight

	for _, s := range signals {
		if sig, ok := spec.Signals[s.ID]; ok {
			if sig.Knockout && s.Value < knockoutThreshold && score > knockoutCap {
				score = knockoutCap
				dr.CappedBy = "knockout"
			}
		}
	}
	if dr.CappedBy == "" {
		for _, s := range signals {
			if sig, ok := spec.Signals[s.ID]; ok {
				if sig.Core && s.Value < coreThreshold && score > coreCap {
					score = coreCap
					dr.CappedBy = "core_deficit"
				}
			}
		}
	}

	if spec.MinCoverage > 0 && len(signals) < spec.MinCoverage {
		score *= float64(len(signals)) / float64(spec.MinCoverage)
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	dr.Score = score
	return dr
}

// SignalsFromAttributes converts detections to weighted signals using
// the configured per-signal weights.
func SignalsFromAttributes(cfg *Config, attrs []content.DetectedAttribute) []content.SignalScore {
	out := make([]content.SignalScore, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, a.Signal(cfg.SignalWeight(a.Dimension, a.AttributeID)))
	}
	return out
}
