// Package content holds the shared records that flow between the
// collector, detectors, aggregator and scoring pipeline.
package content

import "time"

// Trust dimensions.
const (
	DimProvenance   = "provenance"
	DimVerification = "verification"
	DimTransparency = "transparency"
	DimCoherence    = "coherence"
	DimResonance    = "resonance"
)

// Dimensions lists the five trust dimensions in canonical order.
var Dimensions = []string{DimProvenance, DimVerification, DimTransparency, DimCoherence, DimResonance}

// Modalities.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityVideo = "video"
	ModalityAudio = "audio"
	ModalityMixed = "mixed"
)

// Source types for ratio enforcement.
const (
	SourceBrandOwned = "brand_owned"
	SourceThirdParty = "third_party"
	SourceUnknown    = "unknown"
)

// Source tiers.
const (
	TierPrimaryWebsite     = "primary_website"
	TierContentHub         = "content_hub"
	TierDirectToConsumer   = "direct_to_consumer"
	TierBrandSocial        = "brand_social"
	TierNewsMedia          = "news_media"
	TierUserGenerated      = "user_generated"
	TierExpertProfessional = "expert_professional"
	TierMarketplace        = "marketplace"
)

// Semantic roles for structured segments.
const (
	RoleHeadline       = "headline"
	RoleSubheadline    = "subheadline"
	RoleBodyText       = "body_text"
	RoleListItem       = "list_item"
	RoleProductListing = "product_listing"
	RoleHeroText       = "hero_text"
	RoleTagline        = "tagline"
	RoleFooterText     = "footer_text"
)

// Segment is one structured piece of page text.
type Segment struct {
	Text         string `json:"text"`
	ElementType  string `json:"element_type"`
	SemanticRole string `json:"semantic_role"`
}

// VerificationBadges records platform account verification observed at
// fetch time.
type VerificationBadges struct {
	Platform string `json:"platform,omitempty"`
	Verified bool   `json:"verified"`
	Method   string `json:"method,omitempty"`
}

// Normalized is the canonical in-memory form of one content asset
// before persistence.
type Normalized struct {
	ContentID  string
	Source     string
	PlatformID string
	Author     string
	Title      string
	Body       string
	Structured []Segment
	URL        string

	PublishedAt *time.Time

	Modality     string
	Channel      string
	PlatformType string
	SourceType   string
	Tier         string
	Language     string

	Screenshot string
	VisualBlob []byte
	Badges     VerificationBadges

	Metadata map[string]any
}

// HasSignificantVisuals reports the extractor's visual flag.
func (n *Normalized) HasSignificantVisuals() bool {
	if n.Modality == ModalityImage || n.Modality == ModalityVideo {
		return true
	}
	if n.Metadata == nil {
		return false
	}
	v, _ := n.Metadata["has_significant_visuals"].(bool)
	return v
}

// Detection statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusPartial = "partial"
	StatusUnknown = "unknown"
)

// Reasons a detector could not decide.
const (
	ReasonNotInDOM       = "not_in_dom"
	ReasonUnreadable     = "unreadable"
	ReasonBlocked        = "blocked"
	ReasonClientRendered = "client_rendered"
)

// DetectedAttribute is the outcome of one rule-based detector.
type DetectedAttribute struct {
	AttributeID string   `json:"attribute_id"`
	Dimension   string   `json:"dimension"`
	Label       string   `json:"label"`
	Value       float64  `json:"value"` // [1,10]
	Evidence    []string `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"` // [0,1]
	Suggestion  string   `json:"suggestion,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	Status      string   `json:"status,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// Signal converts a detection into an aggregatable signal with the
// given weight.
func (d DetectedAttribute) Signal(weight float64) SignalScore {
	return SignalScore{
		ID:         d.AttributeID,
		Label:      d.Label,
		Dimension:  d.Dimension,
		Value:      d.Value,
		Weight:     weight,
		Evidence:   d.Evidence,
		Rationale:  d.Suggestion,
		Confidence: d.Confidence,
	}
}

// SignalScore feeds the dimension aggregator.
type SignalScore struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Dimension  string   `json:"dimension"`
	Value      float64  `json:"value"`  // [0,10]
	Weight     float64  `json:"weight"` // [0,1]
	Evidence   []string `json:"evidence,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
	Confidence float64  `json:"confidence"` // [0,1]
}

// Scores are the per-asset dimension scores in [0,1].
type Scores struct {
	Provenance   float64 `json:"provenance"`
	Verification float64 `json:"verification"`
	Transparency float64 `json:"transparency"`
	Coherence    float64 `json:"coherence"`
	Resonance    float64 `json:"resonance"`
	Overall      float64 `json:"overall"`

	Classification string         `json:"classification,omitempty"`
	Rationale      map[string]any `json:"rationale,omitempty"`
	Flags          []string       `json:"flags,omitempty"`
}

// Dimension returns one dimension score by name.
func (s *Scores) Dimension(name string) float64 {
	switch name {
	case DimProvenance:
		return s.Provenance
	case DimVerification:
		return s.Verification
	case DimTransparency:
		return s.Transparency
	case DimCoherence:
		return s.Coherence
	case DimResonance:
		return s.Resonance
	}
	return 0
}

// SetDimension sets one dimension score by name.
func (s *Scores) SetDimension(name string, v float64) {
	switch name {
	case DimProvenance:
		s.Provenance = v
	case DimVerification:
		s.Verification = v
	case DimTransparency:
		s.Transparency = v
	case DimCoherence:
		s.Coherence = v
	case DimResonance:
		s.Resonance = v
	}
}
