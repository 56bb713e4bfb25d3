// Package usage tracks LLM token consumption and estimated cost across
// a process. Scoring calls record (model, prompt tokens, completion
// tokens); at run end the orchestrator emits a per-model cost table.
// Quota exceedances warn, they never abort a run.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"truststack/internal/config"
	"truststack/internal/logging"
)

// TokenCounts holds input/output sums plus the estimated spend.
type TokenCounts struct {
	Input   int64   `json:"input"`
	Output  int64   `json:"output"`
	Total   int64   `json:"total"`
	CostUSD float64 `json:"cost_est_usd"`
}

func (tc *TokenCounts) add(input, output int, cost float64) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
	tc.CostUSD += cost
}

// price is USD per million tokens.
type price struct {
	InputPerM  float64
	OutputPerM float64
}

// Published Gemini API prices. Unknown models fall back to the flash
// rate so totals stay conservative rather than zero.
var priceTable = map[string]price{
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash-lite": {InputPerM: 0.075, OutputPerM: 0.30},
	"gemini-1.5-flash":      {InputPerM: 0.075, OutputPerM: 0.30},
	"gemini-1.5-pro":        {InputPerM: 1.25, OutputPerM: 5.00},
}

var defaultPrice = price{InputPerM: 0.10, OutputPerM: 0.40}

func costFor(model string, input, output int) float64 {
	p, ok := priceTable[model]
	if !ok {
		p = defaultPrice
	}
	return float64(input)/1e6*p.InputPerM + float64(output)/1e6*p.OutputPerM
}

type usageData struct {
	Version string                 `json:"version"`
	Total   TokenCounts            `json:"total"`
	ByModel map[string]TokenCounts `json:"by_model"`
}

// Tracker records token usage, persists it to disk, and fires quota
// alarms against the configured limits.
type Tracker struct {
	mu       sync.Mutex
	data     usageData
	limits   config.UsageConfig
	filePath string
	dirty    bool
	alarmed  map[string]bool
}

// NewTracker creates a tracker persisting under workspace/.truststack.
func NewTracker(workspace string, limits config.UsageConfig) (*Tracker, error) {
	dir := filepath.Join(workspace, ".truststack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		limits:   limits,
		alarmed:  make(map[string]bool),
		data: usageData{
			Version: "1.0",
			ByModel: make(map[string]TokenCounts),
		},
	}
	if err := t.load(); err != nil {
		logging.APIWarn("usage file unreadable, starting fresh: %v", err)
	}
	return t, nil
}

func (t *Tracker) load() error {
	raw, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &t.data); err != nil {
		return err
	}
	if t.data.ByModel == nil {
		t.data.ByModel = make(map[string]TokenCounts)
	}
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, raw, 0o644)
}

// Track records one LLM call.
func (t *Tracker) Track(model string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := costFor(model, promptTokens, completionTokens)
	t.data.Total.add(promptTokens, completionTokens, cost)

	entry := t.data.ByModel[model]
	entry.add(promptTokens, completionTokens, cost)
	t.data.ByModel[model] = entry

	t.checkQuotasLocked()

	// Debounced auto-save.
	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			_ = t.Save()
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// checkQuotasLocked warns once per threshold crossing.
func (t *Tracker) checkQuotasLocked() {
	if t.limits.MaxInputTokens > 0 && t.data.Total.Input > t.limits.MaxInputTokens && !t.alarmed["input"] {
		t.alarmed["input"] = true
		logging.APIWarn("input token quota exceeded: %d > %d", t.data.Total.Input, t.limits.MaxInputTokens)
	}
	if t.limits.MaxOutputTokens > 0 && t.data.Total.Output > t.limits.MaxOutputTokens && !t.alarmed["output"] {
		t.alarmed["output"] = true
		logging.APIWarn("output token quota exceeded: %d > %d", t.data.Total.Output, t.limits.MaxOutputTokens)
	}
	if t.limits.MaxUSD > 0 && t.data.Total.CostUSD > t.limits.MaxUSD && !t.alarmed["usd"] {
		t.alarmed["usd"] = true
		logging.APIWarn("cost quota exceeded: $%.2f > $%.2f", t.data.Total.CostUSD, t.limits.MaxUSD)
	}
}

// Total returns the aggregate counts.
func (t *Tracker) Total() TokenCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Total
}

// ByModel returns a copy of the per-model counts.
func (t *Tracker) ByModel() map[string]TokenCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TokenCounts, len(t.data.ByModel))
	for k, v := range t.data.ByModel {
		out[k] = v
	}
	return out
}

// CostTable renders the per-model cost breakdown.
func (t *Tracker) CostTable() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	models := make([]string, 0, len(t.data.ByModel))
	for m := range t.data.ByModel {
		models = append(models, m)
	}
	sort.Strings(models)

	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %12s %12s %12s %10s\n", "model", "input", "output", "total", "cost")
	for _, m := range models {
		c := t.data.ByModel[m]
		fmt.Fprintf(&b, "%-28s %12d %12d %12d %9.4f$\n", m, c.Input, c.Output, c.Total, c.CostUSD)
	}
	c := t.data.Total
	fmt.Fprintf(&b, "%-28s %12d %12d %12d %9.4f$\n", "total", c.Input, c.Output, c.Total, c.CostUSD)
	return b.String()
}

var (
	globalMu sync.Mutex
	global   *Tracker
)

// Init sets the process-wide tracker. Later calls replace it.
func Init(workspace string, limits config.UsageConfig) (*Tracker, error) {
	t, err := NewTracker(workspace, limits)
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = t
	globalMu.Unlock()
	return t, nil
}

// Global returns the process-wide tracker, or nil before Init.
func Global() *Tracker {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}
