package detect

import (
	"fmt"
	"strings"
	"time"

	"truststack/internal/content"
)

func init() {
	register("engagement_to_trust_correlation", detectEngagementTrust)
	register("engagement_authenticity_ratio", detectEngagementAuthenticity)
	register("community_interaction_signals", detectCommunityInteraction)
	register("share_functionality_present", detectShareFunctionality)
	register("review_authenticity_markers", detectReviewAuthenticity)
	register("update_recency", detectUpdateRecency)
	register("multimedia_richness", detectMultimediaRichness)
	register("audience_relevance_signals", detectAudienceRelevance)
}

// engagementExpected filters out content types where engagement simply
// does not apply: documentation, job boards, landing pages,
// institutional sites, and brand pages without a community section.
func engagementExpected(n *content.Normalized) bool {
	host := registrableHost(n.URL)
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") {
		return false
	}
	lowerURL := strings.ToLower(n.URL)
	for _, frag := range []string{"/docs", "/documentation", "/careers", "/jobs", "/landing"} {
		if strings.Contains(lowerURL, frag) {
			return false
		}
	}
	if n.SourceType == content.SourceBrandOwned {
		lower := strings.ToLower(n.Body)
		return strings.Contains(lower, "review") || strings.Contains(lower, "comment") || strings.Contains(lower, "community")
	}
	return true
}

var engagementMarkers = []string{"likes", "comments", "shares", "upvote", "replies", "views", "followers"}

func detectEngagementTrust(in *Input) *content.DetectedAttribute {
	n := in.Content
	if !engagementExpected(n) {
		return nil
	}
	lower := strings.ToLower(n.Body)
	var found int
	for _, m := range engagementMarkers {
		if strings.Contains(lower, m) {
			found++
		}
	}
	if found == 0 {
		a := attr("engagement_to_trust_correlation", content.DimResonance, "Engagement signals",
			4, 0.5, "no visible engagement markers")
		a.Status = content.StatusAbsent
		return a
	}
	score := 6.0
	if found >= 3 {
		score = 8
	}
	return attr("engagement_to_trust_correlation", content.DimResonance, "Engagement signals",
		score, 0.6, fmt.Sprintf("%d engagement marker kinds visible", found))
}

var inauthenticMarkers = []string{
	"buy followers", "get more likes fast", "boost your engagement instantly",
}

func detectEngagementAuthenticity(in *Input) *content.DetectedAttribute {
	n := in.Content
	if !engagementExpected(n) {
		return nil
	}
	lower := strings.ToLower(n.Body)
	if m, ok := containsAny(lower, inauthenticMarkers); ok {
		return attr("engagement_authenticity_ratio", content.DimResonance, "Engagement authenticity",
			2, 0.8, "engagement-farming language: "+m)
	}
	if strings.Contains(lower, "verified purchase") || strings.Contains(lower, "verified buyer") {
		return attr("engagement_authenticity_ratio", content.DimResonance, "Engagement authenticity",
			9, 0.8, "verified-purchase review markers")
	}
	return nil
}

func detectCommunityInteraction(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	var evidence []string
	if strings.Contains(lower, "comment") {
		evidence = append(evidence, "comment section referenced")
	}
	if strings.Contains(lower, "reply") || strings.Contains(lower, "replies") {
		evidence = append(evidence, "threaded replies present")
	}
	if strings.Contains(lower, "join the discussion") || strings.Contains(lower, "community") {
		evidence = append(evidence, "community framing")
	}
	if len(evidence) == 0 {
		return nil
	}
	score := 6.0
	if len(evidence) >= 2 {
		score = 8
	}
	return attr("community_interaction_signals", content.DimResonance, "Community interaction",
		score, 0.6, evidence...)
}

func detectShareFunctionality(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	if strings.Contains(lower, "share this") || strings.Contains(lower, "share on") || strings.Contains(lower, "copy link") {
		return attr("share_functionality_present", content.DimResonance, "Share functionality",
			7, 0.6, "share controls referenced")
	}
	return nil
}

func detectReviewAuthenticity(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	if !strings.Contains(lower, "review") {
		return nil
	}
	var positives, negatives []string
	if strings.Contains(lower, "verified purchase") || strings.Contains(lower, "verified buyer") {
		positives = append(positives, "verified-purchase labels")
	}
	if strings.Contains(lower, "helpful") && strings.Contains(lower, "report") {
		positives = append(positives, "review moderation controls")
	}
	if strings.Contains(lower, "incentivized review") || strings.Contains(lower, "free product in exchange") {
		negatives = append(negatives, "incentivised review markers")
	}

	switch {
	case len(negatives) > 0:
		return attr("review_authenticity_markers", content.DimResonance, "Review authenticity",
			3, 0.7, negatives...)
	case len(positives) > 0:
		return attr("review_authenticity_markers", content.DimResonance, "Review authenticity",
			8, 0.7, positives...)
	default:
		return attr("review_authenticity_markers", content.DimResonance, "Review authenticity",
			5, 0.5, "reviews present without authenticity markers")
	}
}

func detectUpdateRecency(in *Input) *content.DetectedAttribute {
	n := in.Content
	if n.PublishedAt == nil || n.PublishedAt.IsZero() {
		return nil
	}
	age := in.Now.Sub(*n.PublishedAt)
	var score float64
	switch {
	case age <= 90*24*time.Hour:
		score = 9
	case age <= 365*24*time.Hour:
		score = 7
	case age <= 3*365*24*time.Hour:
		score = 5
	default:
		score = 3
	}
	return attr("update_recency", content.DimResonance, "Content recency",
		score, 0.8, fmt.Sprintf("published %s", n.PublishedAt.Format("2006-01-02")))
}

func detectMultimediaRichness(in *Input) *content.DetectedAttribute {
	n := in.Content
	if !n.HasSignificantVisuals() {
		return nil
	}
	score := 7.0
	evidence := "significant visuals present"
	if n.Modality == content.ModalityVideo || n.Modality == content.ModalityMixed {
		score = 8
		evidence = "video or mixed-media content"
	}
	return attr("multimedia_richness", content.DimResonance, "Multimedia richness",
		score, 0.7, evidence)
}

func detectAudienceRelevance(in *Input) *content.DetectedAttribute {
	n := in.Content
	kw := metaString(n, "keywords")
	desc := metaString(n, "description")
	if kw == "" && desc == "" {
		return nil
	}
	var evidence []string
	if desc != "" {
		evidence = append(evidence, "meta description present")
	}
	if kw != "" {
		evidence = append(evidence, "keyword targeting declared")
	}
	return attr("audience_relevance_signals", content.DimResonance, "Audience relevance signals",
		7, 0.6, evidence...)
}
