package detect

import (
	"regexp"
	"strings"

	"truststack/internal/classify"
	"truststack/internal/content"
)

func init() {
	register("verified_platform_account", detectVerifiedAccount)
	register("https_secure_connection", detectHTTPS)
	register("structured_data_present", detectStructuredData)
	register("contact_information_available", detectContactInfo)
	register("business_address_present", detectBusinessAddress)
	register("third_party_certification_badges", detectCertificationBadges)
	register("social_profile_cross_links", detectSocialCrossLinks)
	register("identity_consistency_across_metadata", detectIdentityConsistency)
}

// detectVerifiedAccount reads the badge captured at fetch time: 10 for
// a verified social account, 3 for a known social host without a badge,
// nil for ordinary websites.
func detectVerifiedAccount(in *Input) *content.DetectedAttribute {
	n := in.Content
	if n.Badges.Verified {
		return attr("verified_platform_account", content.DimVerification, "Verified platform account",
			10, 0.95, "verified badge on "+n.Badges.Platform+" ("+n.Badges.Method+")")
	}
	if classify.IsSocialHost(registrableHost(n.URL)) {
		a := attr("verified_platform_account", content.DimVerification, "Verified platform account",
			3, 0.8, "social platform account without a verification badge")
		a.Status = content.StatusAbsent
		return a
	}
	return nil
}

func detectHTTPS(in *Input) *content.DetectedAttribute {
	if strings.HasPrefix(strings.ToLower(in.Content.URL), "https://") {
		return attr("https_secure_connection", content.DimVerification, "Secure connection",
			9, 0.95, "served over https")
	}
	a := attr("https_secure_connection", content.DimVerification, "Secure connection",
		2, 0.95, "served over plain http")
	a.Status = content.StatusAbsent
	return a
}

func detectStructuredData(in *Input) *content.DetectedAttribute {
	n := in.Content
	kinds := 0
	var evidence []string
	if len(metaJSONLD(n)) > 0 {
		kinds++
		evidence = append(evidence, "json-ld present")
	}
	if metaBool(n, "has_microdata") {
		kinds++
		evidence = append(evidence, "microdata present")
	}
	if metaBool(n, "has_rdfa") {
		kinds++
		evidence = append(evidence, "rdfa present")
	}
	switch kinds {
	case 0:
		a := attr("structured_data_present", content.DimVerification, "Structured data",
			3, 0.8, "no machine-readable structured data")
		a.Status = content.StatusAbsent
		return a
	case 1:
		return attr("structured_data_present", content.DimVerification, "Structured data", 7, 0.85, evidence...)
	default:
		return attr("structured_data_present", content.DimVerification, "Structured data", 9, 0.9, evidence...)
	}
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?\d{1,3}[\s\-.])?\(?\d{3}\)?[\s\-.]\d{3}[\s\-.]\d{4}`)
)

func detectContactInfo(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	lower := strings.ToLower(body)

	var evidence []string
	if emailRe.MatchString(body) {
		evidence = append(evidence, "email address present")
	}
	if phoneRe.MatchString(body) {
		evidence = append(evidence, "phone number present")
	}
	if strings.Contains(lower, "contact us") || strings.Contains(lower, "customer service") {
		evidence = append(evidence, "contact section referenced")
	}

	switch len(evidence) {
	case 0:
		if in.Content.SourceType != content.SourceBrandOwned {
			return nil
		}
		a := attr("contact_information_available", content.DimVerification, "Contact information",
			3, 0.7, "brand-owned page without contact details")
		a.Status = content.StatusAbsent
		return a
	case 1:
		return attr("contact_information_available", content.DimVerification, "Contact information", 6, 0.8, evidence...)
	default:
		return attr("contact_information_available", content.DimVerification, "Contact information", 9, 0.85, evidence...)
	}
}

func detectBusinessAddress(in *Input) *content.DetectedAttribute {
	for _, obj := range metaJSONLD(in.Content) {
		if _, ok := obj["address"]; ok {
			return attr("business_address_present", content.DimVerification, "Business address",
				9, 0.9, "schema.org address declared")
		}
	}
	lower := strings.ToLower(in.Content.Body)
	for _, marker := range []string{"headquarters", "registered office", "suite ", " ste. "} {
		if strings.Contains(lower, marker) {
			return attr("business_address_present", content.DimVerification, "Business address",
				6, 0.6, "address marker in body: "+strings.TrimSpace(marker))
		}
	}
	return nil
}

var certificationMarkers = []string{
	"trustpilot", "better business bureau", "bbb accredited", "norton secured",
	"mcafee secure", "iso 9001", "iso 27001", "soc 2", "b corp", "certified b corporation",
}

func detectCertificationBadges(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	var found []string
	for _, m := range certificationMarkers {
		if strings.Contains(lower, m) {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		return nil
	}
	score := 7.0
	if len(found) >= 2 {
		score = 9
	}
	return attr("third_party_certification_badges", content.DimVerification, "Third-party certifications",
		score, 0.7, "certification mentions: "+strings.Join(found, ", "))
}

var socialHosts = []string{"instagram.com", "facebook.com", "x.com", "twitter.com", "linkedin.com", "youtube.com", "tiktok.com"}

func detectSocialCrossLinks(in *Input) *content.DetectedAttribute {
	lower := strings.ToLower(in.Content.Body)
	links := 0
	for _, h := range socialHosts {
		if strings.Contains(lower, h) {
			links++
		}
	}
	if links == 0 {
		return nil
	}
	score := 6.0
	if links >= 3 {
		score = 8
	}
	return attr("social_profile_cross_links", content.DimVerification, "Social profile cross-links",
		score, 0.6, "references to social platforms found")
}

// detectIdentityConsistency compares meta author with schema author.
func detectIdentityConsistency(in *Input) *content.DetectedAttribute {
	n := in.Content
	if n.Author == "" {
		return nil
	}
	var schemaName string
	for _, obj := range metaJSONLD(n) {
		if a, ok := obj["author"].(map[string]any); ok {
			schemaName, _ = a["name"].(string)
			if schemaName != "" {
				break
			}
		}
	}
	if schemaName == "" {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(schemaName), strings.TrimSpace(n.Author)) {
		return attr("identity_consistency_across_metadata", content.DimVerification, "Identity consistency",
			9, 0.9, "meta author matches schema author: "+schemaName)
	}
	return attr("identity_consistency_across_metadata", content.DimVerification, "Identity consistency",
		3, 0.8, "meta author "+n.Author+" conflicts with schema author "+schemaName)
}
