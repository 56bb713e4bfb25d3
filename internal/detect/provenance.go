package detect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"truststack/internal/content"
)

func init() {
	register("ai_vs_human_labeling_clarity", detectAILabelingClarity)
	register("author_brand_identity_verified", detectAuthorIdentity)
	register("c2pa_cai_manifest_present", detectProvenanceManifest)
	register("canonical_url_matches_declared_source", detectCanonicalMatch)
	register("domain_age", detectDomainAge)
	register("whois_privacy", detectWhoisPrivacy)
	register("json_ld_organization_present", detectJSONLDOrganization)
	register("publication_date_present", detectPublicationDate)
	register("source_attribution_present", detectSourceAttribution)
	register("og_site_name_matches_host", detectOGSiteNameMatch)
}

var humanDisclosures = []string{
	"written by", "authored by", "reviewed by", "edited by", "human-written",
	"written and reviewed by our editorial team",
}

var aiDisclosures = []string{
	"ai-generated", "generated by ai", "created with ai", "ai-assisted",
	"generated using artificial intelligence", "written with the help of ai",
}

var aiArtifacts = []string{
	"as an ai language model", "as a large language model",
	"i cannot browse the internet", "my training data",
	"i don't have access to real-time",
}

// detectAILabelingClarity rewards explicit human/AI authorship
// disclosure and penalises undisclosed AI artefacts in the main text.
func detectAILabelingClarity(in *Input) *content.DetectedAttribute {
	n := in.Content
	main := strings.ToLower(n.Body)
	var footer strings.Builder
	for _, seg := range n.Structured {
		if seg.SemanticRole == content.RoleFooterText {
			footer.WriteString(strings.ToLower(seg.Text))
			footer.WriteString("\n")
		}
	}
	footerText := footer.String()

	// Structured authorship hints count as disclosure too.
	disclosed := false
	var evidence []string
	for _, obj := range metaJSONLD(n) {
		if t := jsonldAuthorType(obj); t != "" {
			disclosed = true
			evidence = append(evidence, "schema author of type "+t)
			break
		}
	}
	if metaBool(n, "has_provenance_manifest") {
		disclosed = true
		evidence = append(evidence, "provenance manifest declared")
	}
	if n.Author != "" {
		disclosed = true
		evidence = append(evidence, "author metadata: "+n.Author)
	}

	score := 5.0
	if m, ok := containsAny(footerText, humanDisclosures); ok {
		return attr("ai_vs_human_labeling_clarity", content.DimProvenance, "AI vs human labeling clarity",
			9, 0.9, "footer disclosure: "+m)
	}
	if m, ok := containsAny(footerText, aiDisclosures); ok {
		return attr("ai_vs_human_labeling_clarity", content.DimProvenance, "AI vs human labeling clarity",
			8, 0.9, "footer AI disclosure: "+m)
	}
	if m, ok := containsAny(main, humanDisclosures); ok {
		score = 8
		evidence = append(evidence, "body disclosure: "+m)
		disclosed = true
	} else if m, ok := containsAny(main, aiDisclosures); ok {
		score = 7
		evidence = append(evidence, "body AI disclosure: "+m)
		disclosed = true
	}

	if m, ok := containsAny(main, aiArtifacts); ok && !disclosed {
		return attr("ai_vs_human_labeling_clarity", content.DimProvenance, "AI vs human labeling clarity",
			2, 0.8, "undisclosed AI artefact: "+m)
	}

	if disclosed && score == 5.0 {
		score = 7
	}
	a := attr("ai_vs_human_labeling_clarity", content.DimProvenance, "AI vs human labeling clarity",
		score, 0.6, evidence...)
	if !disclosed {
		a.Status = content.StatusUnknown
	}
	return a
}

func jsonldAuthorType(obj map[string]any) string {
	for _, key := range []string{"author", "creator"} {
		switch v := obj[key].(type) {
		case map[string]any:
			if t, ok := v["@type"].(string); ok && (t == "Person" || t == "Organization") {
				return t
			}
		}
	}
	return ""
}

// detectAuthorIdentity ranks evidence: explicit byline > schema author >
// site-level inheritance > weak "About" mention early in the body.
func detectAuthorIdentity(in *Input) *content.DetectedAttribute {
	n := in.Content
	if n.Author != "" {
		return attr("author_brand_identity_verified", content.DimProvenance, "Author or brand identity",
			9, 0.9, "explicit byline: "+n.Author)
	}
	for _, obj := range metaJSONLD(n) {
		if t := jsonldAuthorType(obj); t != "" {
			return attr("author_brand_identity_verified", content.DimProvenance, "Author or brand identity",
				8, 0.85, "schema.org author of type "+t)
		}
	}
	if n.SourceType == content.SourceBrandOwned {
		return attr("author_brand_identity_verified", content.DimProvenance, "Author or brand identity",
			6, 0.6, "brand-owned property implies site-level authorship")
	}
	head := strings.ToLower(firstN(n.Body, 500))
	if strings.Contains(head, "about us") || strings.Contains(head, "about the author") {
		return attr("author_brand_identity_verified", content.DimProvenance, "Author or brand identity",
			4, 0.4, "about-page mention near top of content")
	}
	a := attr("author_brand_identity_verified", content.DimProvenance, "Author or brand identity",
		2, 0.5, "no authorship evidence found")
	a.Status = content.StatusAbsent
	return a
}

// detectProvenanceManifest only applies to content with visuals;
// text-only pages without significant visuals return nil rather than a
// penalty.
func detectProvenanceManifest(in *Input) *content.DetectedAttribute {
	n := in.Content
	if !n.HasSignificantVisuals() {
		return nil
	}
	if metaBool(n, "has_provenance_manifest") {
		return attr("c2pa_cai_manifest_present", content.DimProvenance, "C2PA/CAI provenance manifest",
			10, 0.95, "content credentials manifest declared in page head")
	}
	a := attr("c2pa_cai_manifest_present", content.DimProvenance, "C2PA/CAI provenance manifest",
		3, 0.7, "visual content without a provenance manifest")
	a.Status = content.StatusAbsent
	return a
}

// detectCanonicalMatch scores the canonical link against the fetched
// URL: exact (or www-insensitive with equal paths) = 10, same host
// different path = 5, different host = 1.
func detectCanonicalMatch(in *Input) *content.DetectedAttribute {
	n := in.Content
	canonical := metaString(n, "canonical_url")
	if canonical == "" {
		return nil
	}
	cu, err1 := url.Parse(canonical)
	pu, err2 := url.Parse(n.URL)
	if err1 != nil || err2 != nil {
		return nil
	}

	normHost := func(h string) string { return strings.TrimPrefix(strings.ToLower(h), "www.") }
	normPath := func(p string) string {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			p = "/"
		}
		return p
	}

	switch {
	case normHost(cu.Hostname()) == normHost(pu.Hostname()) && normPath(cu.Path) == normPath(pu.Path):
		return attr("canonical_url_matches_declared_source", content.DimProvenance, "Canonical URL consistency",
			10, 0.95, "canonical matches fetched URL: "+canonical)
	case normHost(cu.Hostname()) == normHost(pu.Hostname()):
		return attr("canonical_url_matches_declared_source", content.DimProvenance, "Canonical URL consistency",
			5, 0.8, "canonical on same host with different path: "+canonical)
	default:
		a := attr("canonical_url_matches_declared_source", content.DimProvenance, "Canonical URL consistency",
			1, 0.8, "canonical points at a different host: "+canonical)
		a.Status = content.StatusAbsent
		return a
	}
}

// domainAgeBands pairs an age threshold with its score.
var domainAgeBands = []struct {
	years float64
	score float64
}{
	{10, 10},
	{5, 8},
	{2, 6},
	{1, 4},
	{0.5, 3},
}

func detectDomainAge(in *Input) *content.DetectedAttribute {
	if in.Whois == nil || in.Whois.Created.IsZero() {
		return nil
	}
	years := in.Whois.Age(in.Now).Hours() / (24 * 365.25)
	score := 2.0
	for _, band := range domainAgeBands {
		if years >= band.years {
			score = band.score
			break
		}
	}
	return attr("domain_age", content.DimProvenance, "Domain age",
		score, 0.9, fmt.Sprintf("domain registered %.1f years ago (%s)", years, in.Whois.Created.Format("2006-01-02")))
}

func detectWhoisPrivacy(in *Input) *content.DetectedAttribute {
	if in.Whois == nil {
		return nil
	}
	if in.Whois.Privacy {
		return attr("whois_privacy", content.DimProvenance, "WHOIS registrant visibility",
			5, 0.8, "registration is privacy-shielded")
	}
	if in.Whois.RegistrantOrg != "" {
		return attr("whois_privacy", content.DimProvenance, "WHOIS registrant visibility",
			9, 0.9, "public registrant organisation: "+in.Whois.RegistrantOrg)
	}
	return nil
}

func detectJSONLDOrganization(in *Input) *content.DetectedAttribute {
	for _, obj := range metaJSONLD(in.Content) {
		if t, _ := obj["@type"].(string); t == "Organization" || t == "Corporation" || t == "LocalBusiness" {
			name, _ := obj["name"].(string)
			return attr("json_ld_organization_present", content.DimProvenance, "Structured organization identity",
				9, 0.9, "schema.org "+t+" declared: "+name)
		}
	}
	a := attr("json_ld_organization_present", content.DimProvenance, "Structured organization identity",
		4, 0.6, "no organization structured data")
	a.Status = content.StatusAbsent
	return a
}

func detectPublicationDate(in *Input) *content.DetectedAttribute {
	n := in.Content
	if n.PublishedAt != nil && !n.PublishedAt.IsZero() {
		return attr("publication_date_present", content.DimProvenance, "Publication date",
			9, 0.9, "published "+n.PublishedAt.Format(time.RFC3339))
	}
	og := metaOpenGraph(n)
	if ts := og["og:article:published_time"]; ts != "" {
		return attr("publication_date_present", content.DimProvenance, "Publication date",
			9, 0.85, "open graph published_time "+ts)
	}
	for _, obj := range metaJSONLD(n) {
		if d, _ := obj["datePublished"].(string); d != "" {
			return attr("publication_date_present", content.DimProvenance, "Publication date",
				9, 0.85, "schema datePublished "+d)
		}
	}
	a := attr("publication_date_present", content.DimProvenance, "Publication date",
		3, 0.6, "no publication date found")
	a.Status = content.StatusAbsent
	return a
}

var attributionRe = regexp.MustCompile(`(?i)\b(via|courtesy of|originally published|reprinted from|photo credit)\b`)

func detectSourceAttribution(in *Input) *content.DetectedAttribute {
	if !attributionRe.MatchString(in.Content.Body) {
		return nil
	}
	m := attributionRe.FindString(in.Content.Body)
	return attr("source_attribution_present", content.DimProvenance, "Source attribution",
		8, 0.7, "attribution marker: "+strings.ToLower(m))
}

func detectOGSiteNameMatch(in *Input) *content.DetectedAttribute {
	siteName := metaOpenGraph(in.Content)["og:site_name"]
	if siteName == "" {
		return nil
	}
	host := registrableHost(in.Content.URL)
	label := host
	if i := strings.Index(host, "."); i > 0 {
		label = host[:i]
	}
	normalised := strings.ToLower(strings.ReplaceAll(siteName, " ", ""))
	if strings.Contains(normalised, label) || strings.Contains(label, normalised) {
		return attr("og_site_name_matches_host", content.DimProvenance, "Declared site name consistency",
			9, 0.8, "og:site_name "+siteName+" matches host "+host)
	}
	return attr("og_site_name_matches_host", content.DimProvenance, "Declared site name consistency",
		3, 0.7, "og:site_name "+siteName+" does not match host "+host)
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
