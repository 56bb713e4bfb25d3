package detect

import (
	"strings"

	"truststack/internal/content"
)

func init() {
	register("privacy_policy_link_availability_clarity", detectPrivacyPolicy)
	register("terms_of_service_availability", detectTermsOfService)
	register("sponsored_content_disclosure", detectSponsoredDisclosure)
	register("affiliate_link_disclosure", detectAffiliateDisclosure)
	register("cookie_consent_transparency", detectCookieConsent)
	register("pricing_transparency", detectPricingTransparency)
	register("data_source_citations_for_claims", detectDataCitations)
	register("claim_to_source_traceability", detectClaimTraceability)
	register("editorial_policy_disclosure", detectEditorialPolicy)
}

var privacyPhrases = []string{
	"privacy policy", "privacy notice", "privacy statement", "data protection policy",
	"how we use your data",
}

// detectPrivacyPolicy is positive on any of: the URL itself looking
// like a policy page, a policy link captured at fetch time, or policy
// phrases in the body. The negative only fires for owned content.
func detectPrivacyPolicy(in *Input) *content.DetectedAttribute {
	n := in.Content
	lowerURL := strings.ToLower(n.URL)
	if strings.Contains(lowerURL, "/privacy") || strings.Contains(lowerURL, "privacy-policy") {
		return attr("privacy_policy_link_availability_clarity", content.DimTransparency, "Privacy policy availability",
			10, 0.95, "page itself is a privacy policy")
	}
	if link := metaString(n, "privacy_policy_url"); link != "" {
		return attr("privacy_policy_link_availability_clarity", content.DimTransparency, "Privacy policy availability",
			9, 0.9, "privacy policy linked: "+link)
	}
	if m, ok := containsAny(strings.ToLower(n.Body), privacyPhrases); ok {
		return attr("privacy_policy_link_availability_clarity", content.DimTransparency, "Privacy policy availability",
			8, 0.8, "policy phrase in body: "+m)
	}
	if n.SourceType != content.SourceBrandOwned {
		return nil
	}
	a := attr("privacy_policy_link_availability_clarity", content.DimTransparency, "Privacy policy availability",
		2, 0.8, "owned page without a discoverable privacy policy")
	a.Status = content.StatusAbsent
	return a
}

func detectTermsOfService(in *Input) *content.DetectedAttribute {
	n := in.Content
	if link := metaString(n, "terms_url"); link != "" {
		return attr("terms_of_service_availability", content.DimTransparency, "Terms of service availability",
			9, 0.9, "terms linked: "+link)
	}
	lower := strings.ToLower(n.Body)
	if strings.Contains(lower, "terms of service") || strings.Contains(lower, "terms and conditions") || strings.Contains(lower, "terms of use") {
		return attr("terms_of_service_availability", content.DimTransparency, "Terms of service availability",
			8, 0.8, "terms referenced in body")
	}
	if n.SourceType != content.SourceBrandOwned {
		return nil
	}
	a := attr("terms_of_service_availability", content.DimTransparency, "Terms of service availability",
		3, 0.7, "owned page without terms reference")
	a.Status = content.StatusAbsent
	return a
}

var sponsoredMarkers = []string{
	"sponsored", "paid partnership", "paid promotion", "in partnership with",
	"advertisement", "#ad ", "promoted by",
}

var promotionalTone = []string{"buy now", "limited time offer", "discount code", "use code"}

func detectSponsoredDisclosure(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	if m, ok := containsAny(lower, sponsoredMarkers); ok {
		return attr("sponsored_content_disclosure", content.DimTransparency, "Sponsored content disclosure",
			9, 0.85, "disclosure marker: "+strings.TrimSpace(m))
	}
	// Promotional tone without a disclosure is the actual risk.
	if _, promo := containsAny(lower, promotionalTone); promo && in.Content.SourceType == content.SourceThirdParty {
		a := attr("sponsored_content_disclosure", content.DimTransparency, "Sponsored content disclosure",
			4, 0.5, "promotional language without a sponsorship disclosure")
		a.Status = content.StatusPartial
		return a
	}
	return nil
}

var affiliateMarkers = []string{
	"affiliate link", "affiliate commission", "we may earn a commission",
	"as an amazon associate", "commission if you buy",
}

func detectAffiliateDisclosure(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	hasAffiliateLinks := strings.Contains(lower, "amzn.to") || strings.Contains(lower, "tag=") ||
		strings.Contains(lower, "ref=") || strings.Contains(lower, "affiliate")
	if !hasAffiliateLinks {
		return nil
	}
	if m, ok := containsAny(lower, affiliateMarkers); ok {
		return attr("affiliate_link_disclosure", content.DimTransparency, "Affiliate link disclosure",
			9, 0.85, "affiliate disclosure present: "+m)
	}
	a := attr("affiliate_link_disclosure", content.DimTransparency, "Affiliate link disclosure",
		3, 0.6, "affiliate-style links without disclosure")
	a.Status = content.StatusPartial
	return a
}

func detectCookieConsent(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	if strings.Contains(lower, "cookie") && (strings.Contains(lower, "consent") || strings.Contains(lower, "we use cookies") || strings.Contains(lower, "cookie policy")) {
		return attr("cookie_consent_transparency", content.DimTransparency, "Cookie consent transparency",
			8, 0.7, "cookie usage disclosed")
	}
	return nil
}

// detectPricingTransparency only judges commerce-looking pages.
func detectPricingTransparency(in *Input) *content.DetectedAttribute {
	n := in.Content
	commerce := n.Tier == content.TierMarketplace || n.Tier == content.TierDirectToConsumer
	if !commerce {
		for _, seg := range n.Structured {
			if seg.SemanticRole == content.RoleProductListing {
				commerce = true
				break
			}
		}
	}
	if !commerce {
		return nil
	}
	hasPrices := strings.ContainsAny(n.Body, "$€£")
	if hasPrices {
		return attr("pricing_transparency", content.DimTransparency, "Pricing transparency",
			8, 0.8, "prices visible on product content")
	}
	a := attr("pricing_transparency", content.DimTransparency, "Pricing transparency",
		4, 0.6, "commerce page without visible pricing")
	a.Status = content.StatusPartial
	return a
}

// detectDataCitations only evaluates pages that make quantified claims.
func detectDataCitations(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	if !hasDataClaims(body) {
		return nil
	}
	citations := countCitationMarkers(body)
	switch {
	case citations >= 3:
		return attr("data_source_citations_for_claims", content.DimTransparency, "Data claims cited",
			9, 0.8, "quantified claims with multiple citation markers")
	case citations >= 1:
		return attr("data_source_citations_for_claims", content.DimTransparency, "Data claims cited",
			6, 0.7, "quantified claims with some sourcing")
	default:
		a := attr("data_source_citations_for_claims", content.DimTransparency, "Data claims cited",
			3, 0.7, "quantified claims without citations")
		a.Status = content.StatusPartial
		return a
	}
}

func detectClaimTraceability(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	if !hasDataClaims(body) {
		return nil
	}
	lower := strings.ToLower(body)
	traceable := strings.Contains(lower, "according to") || strings.Contains(lower, "source:") ||
		strings.Contains(lower, "doi.org") || strings.Contains(lower, "study published")
	if traceable {
		return attr("claim_to_source_traceability", content.DimTransparency, "Claim-to-source traceability",
			8, 0.75, "claims attribute their sources inline")
	}
	a := attr("claim_to_source_traceability", content.DimTransparency, "Claim-to-source traceability",
		4, 0.6, "claims lack inline attribution")
	a.Status = content.StatusPartial
	return a
}

func detectEditorialPolicy(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	for _, m := range []string{"editorial policy", "corrections policy", "fact-check", "editorial standards", "editorial guidelines"} {
		if strings.Contains(lower, m) {
			return attr("editorial_policy_disclosure", content.DimTransparency, "Editorial policy disclosure",
				9, 0.8, "editorial governance referenced: "+m)
		}
	}
	return nil
}
