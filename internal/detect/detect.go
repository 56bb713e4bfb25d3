// Package detect implements the rule-based attribute catalogue. Each
// detector inspects one normalised content record and returns at most
// one DetectedAttribute, or nil when it has nothing to say. Detectors
// never return errors; a panicking detector is logged and skipped.
package detect

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"truststack/internal/classify"
	"truststack/internal/content"
	"truststack/internal/logging"
	"truststack/internal/whois"
)

// Input is everything a detector may look at.
type Input struct {
	Content *content.Normalized
	Whois   *whois.Record
	Now     time.Time
}

// Func is one detector.
type Func func(in *Input) *content.DetectedAttribute

// registry maps attribute id to its detector. Populated by the
// per-dimension files' init functions.
var registry = map[string]Func{}

func register(id string, fn Func) {
	if _, dup := registry[id]; dup {
		panic("duplicate detector id " + id)
	}
	registry[id] = fn
}

// Known returns the sorted set of registered attribute ids.
func Known() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WhoisLookup is the slice of the WHOIS client the engine needs.
type WhoisLookup interface {
	Lookup(ctx context.Context, domain string) (*whois.Record, error)
}

// Engine dispatches the enabled detectors over content records.
type Engine struct {
	rubric *Rubric
	whois  WhoisLookup
	now    func() time.Time
}

// NewEngine loads the rubric and builds an engine. lookup may be nil;
// WHOIS-backed detectors then return nil.
func NewEngine(rubricPath string, lookup WhoisLookup) (*Engine, error) {
	rubric, err := LoadRubric(rubricPath)
	if err != nil {
		return nil, err
	}
	return &Engine{rubric: rubric, whois: lookup, now: time.Now}, nil
}

// Rubric exposes the engine's rubric, mainly for the watcher.
func (e *Engine) Rubric() *Rubric { return e.rubric }

// DetectAll runs every enabled detector over n in rubric order.
func (e *Engine) DetectAll(ctx context.Context, n *content.Normalized) []content.DetectedAttribute {
	in := &Input{Content: n, Now: e.now()}

	if e.whois != nil && e.rubric.AnyEnabled("domain_age", "whois_privacy") {
		if host := registrableHost(n.URL); host != "" && !classify.IsSocialHost(host) {
			rec, err := e.whois.Lookup(ctx, host)
			if err != nil {
				logging.DetectDebug("whois %s: %v", host, err)
			} else {
				in.Whois = rec
			}
		}
	}

	var out []content.DetectedAttribute
	for _, id := range e.rubric.Enabled() {
		fn := registry[id]
		if fn == nil {
			continue
		}
		if attr := e.runOne(id, fn, in); attr != nil {
			out = append(out, *attr)
		}
	}
	logging.Detect("detected %d/%d attributes for %s", len(out), len(e.rubric.Enabled()), n.URL)
	return out
}

// runOne isolates detector panics so one bad rule cannot sink the run.
func (e *Engine) runOne(id string, fn Func, in *Input) (attr *content.DetectedAttribute) {
	defer func() {
		if r := recover(); r != nil {
			logging.DetectWarn("detector %s panicked: %v", id, r)
			attr = nil
		}
	}()
	attr = fn(in)
	if attr != nil && attr.SourceURL == "" {
		attr.SourceURL = in.Content.URL
	}
	return attr
}

// attr builds a detection with value clamped to [1,10].
func attr(id, dimension, label string, value, confidence float64, evidence ...string) *content.DetectedAttribute {
	if value < 1 {
		value = 1
	}
	if value > 10 {
		value = 10
	}
	return &content.DetectedAttribute{
		AttributeID: id,
		Dimension:   dimension,
		Label:       label,
		Value:       value,
		Confidence:  confidence,
		Evidence:    evidence,
		Status:      content.StatusPresent,
	}
}

func registrableHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// metaString reads a string value out of the content metadata map.
func metaString(n *content.Normalized, key string) string {
	if n.Metadata == nil {
		return ""
	}
	s, _ := n.Metadata[key].(string)
	return s
}

func metaBool(n *content.Normalized, key string) bool {
	if n.Metadata == nil {
		return false
	}
	b, _ := n.Metadata[key].(bool)
	return b
}

// metaJSONLD returns the JSON-LD objects collected at extraction time.
func metaJSONLD(n *content.Normalized) []map[string]any {
	if n.Metadata == nil {
		return nil
	}
	switch v := n.Metadata["json_ld"].(type) {
	case []map[string]any:
		return v
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func metaOpenGraph(n *content.Normalized) map[string]string {
	if n.Metadata == nil {
		return nil
	}
	switch v := n.Metadata["open_graph"].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

func containsAny(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}
