package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"truststack/internal/content"
	"truststack/internal/logging"
	"truststack/internal/usage"
)

const maxPromptBody = 6000

// Gemini scores assets through the Gemini API. Screenshot-bearing
// assets are scored multimodally when visual analysis is enabled.
type Gemini struct {
	client  *genai.Client
	model   string
	visual  bool
	tracker *usage.Tracker
}

// NewGemini builds the Gemini scoring service.
func NewGemini(apiKey, model string, visual bool, tracker *usage.Tracker) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, visual: visual, tracker: tracker}, nil
}

// Name identifies the service in logs.
func (g *Gemini) Name() string {
	return fmt.Sprintf("gemini:%s", g.model)
}

// Close releases the API client.
func (g *Gemini) Close() error {
	// genai.Client has no Close method; nothing to release.
	return nil
}

// geminiVerdict is the JSON shape the model is asked to return.
type geminiVerdict struct {
	Provenance     float64        `json:"provenance"`
	Verification   float64        `json:"verification"`
	Transparency   float64        `json:"transparency"`
	Coherence      float64        `json:"coherence"`
	Resonance      float64        `json:"resonance"`
	Overall        float64        `json:"overall"`
	Rationale      map[string]any `json:"rationale"`
	Flags          []string       `json:"flags"`
	VisualAnalysis map[string]any `json:"visual_analysis"`
}

// ScoreBatch scores each item with one model call. Per-item failures
// leave a nil entry so the pipeline applies the heuristic fallback.
func (g *Gemini) ScoreBatch(ctx context.Context, items []*content.Normalized) ([]*content.Scores, error) {
	out := make([]*content.Scores, len(items))
	for i, n := range items {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		s, err := g.scoreOne(ctx, n)
		if err != nil {
			logging.APIWarn("gemini scoring failed for %s: %v", n.URL, err)
			continue
		}
		out[i] = s
	}
	return out, nil
}

func (g *Gemini) scoreOne(ctx context.Context, n *content.Normalized) (*content.Scores, error) {
	parts := []*genai.Part{genai.NewPartFromText(g.prompt(n))}

	if g.visual && n.Screenshot != "" {
		if img, err := os.ReadFile(n.Screenshot); err == nil {
			parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
		} else {
			logging.APIWarn("screenshot unreadable for %s: %v", n.URL, err)
		}
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	if g.tracker != nil && resp.UsageMetadata != nil {
		g.tracker.Track(g.model,
			int(resp.UsageMetadata.PromptTokenCount),
			int(resp.UsageMetadata.CandidatesTokenCount))
	}

	raw := strings.TrimSpace(resp.Text())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var v geminiVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse model verdict: %w", err)
	}
	return v.scores(), nil
}

func (v *geminiVerdict) scores() *content.Scores {
	s := &content.Scores{
		Provenance:   clamp01(v.Provenance),
		Verification: clamp01(v.Verification),
		Transparency: clamp01(v.Transparency),
		Coherence:    clamp01(v.Coherence),
		Resonance:    clamp01(v.Resonance),
		Overall:      clamp01(v.Overall),
		Flags:        v.Flags,
		Rationale:    map[string]any{},
	}
	if len(v.Rationale) > 0 {
		s.Rationale["model_rationale"] = v.Rationale
	}
	if len(v.VisualAnalysis) > 0 {
		s.Rationale["visual_analysis"] = v.VisualAnalysis
	}
	s.Classification = Classify(s.Overall)
	return s
}

func (g *Gemini) prompt(n *content.Normalized) string {
	body := n.Body
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	var b strings.Builder
	b.WriteString("You evaluate the trustworthiness of brand-linked web content.\n")
	b.WriteString("Score the page below on five dimensions, each in [0,1]:\n")
	b.WriteString("provenance, verification, transparency, coherence, resonance,\n")
	b.WriteString("plus an overall score. Respond with a single JSON object with\n")
	b.WriteString("those six numeric keys, a \"rationale\" object explaining each\n")
	b.WriteString("dimension, and a \"flags\" array of short concern labels.")
	if g.visual && n.Screenshot != "" {
		b.WriteString(" An\nattached screenshot shows the rendered page; include a\n\"visual_analysis\" object describing layout and imagery trust cues.")
	}
	fmt.Fprintf(&b, "\n\nURL: %s\nSource type: %s\nChannel: %s\nTitle: %s\n\n%s\n", n.URL, n.SourceType, n.Channel, n.Title, body)
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
