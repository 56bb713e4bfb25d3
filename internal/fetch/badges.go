package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"truststack/internal/content"
)

// Instagram renders the verified badge as an SVG whose classes are
// build-obfuscated; the brand-blue fill and aria label survive builds.
var instagramBadgeClasses = []string{"x1lliihq", "x1n2onr6", "x1q0g3np"}

// xGoldStops are gradient stop colours of X's gold (organisation) badge.
var xGoldStops = []string{"#f4e72a", "#cd8105", "#cb7b00", "#e2b719"}

// detectBadges inspects rendered HTML for platform verification marks.
// It only trusts DOM structure that the platforms control, not page
// text, so third-party pages cannot fake a badge with copy.
func detectBadges(doc *goquery.Document, host string) content.VerificationBadges {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "instagram.com"):
		return detectInstagramBadge(doc)
	case strings.Contains(host, "linkedin.com"):
		return detectLinkedInBadge(doc)
	case strings.Contains(host, "x.com"), strings.Contains(host, "twitter.com"):
		return detectXBadge(doc)
	}
	return detectGenericBadge(doc)
}

func detectInstagramBadge(doc *goquery.Document) content.VerificationBadges {
	b := content.VerificationBadges{Platform: "instagram"}

	doc.Find("svg").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		aria, _ := s.Attr("aria-label")
		if strings.EqualFold(aria, "Verified") {
			b.Verified = true
			b.Method = "aria-label"
			return false
		}
		if title := strings.TrimSpace(s.Find("title").Text()); strings.EqualFold(title, "Verified") {
			b.Verified = true
			b.Method = "svg-title"
			return false
		}
		fill, _ := s.Attr("fill")
		fill = strings.ToLower(fill)
		if fill == "rgb(0,149,246)" || fill == "rgb(0, 149, 246)" || fill == "#0095f6" {
			b.Verified = true
			b.Method = "fill-color"
			return false
		}
		cls, _ := s.Attr("class")
		matched := 0
		for _, want := range instagramBadgeClasses {
			if strings.Contains(cls, want) {
				matched++
			}
		}
		if matched == len(instagramBadgeClasses) {
			b.Verified = true
			b.Method = "class-set"
			return false
		}
		return true
	})

	return b
}

func detectLinkedInBadge(doc *goquery.Document) content.VerificationBadges {
	b := content.VerificationBadges{Platform: "linkedin"}

	if doc.Find(`use[href="#verified-medium"]`).Length() > 0 {
		b.Verified = true
		b.Method = "svg-use"
		return b
	}
	doc.Find("svg, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		aria, _ := s.Attr("aria-label")
		if strings.Contains(strings.ToLower(aria), "verification badge") || strings.EqualFold(aria, "verified") {
			b.Verified = true
			b.Method = "aria-label"
			return false
		}
		cls, _ := s.Attr("class")
		if strings.Contains(cls, "shield") && strings.Contains(strings.ToLower(cls), "verif") {
			b.Verified = true
			b.Method = "shield-class"
			return false
		}
		return true
	})
	return b
}

func detectXBadge(doc *goquery.Document) content.VerificationBadges {
	b := content.VerificationBadges{Platform: "x"}

	badge := doc.Find(`[data-testid="icon-verified"]`)
	if badge.Length() == 0 {
		doc.Find("svg").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			aria, _ := s.Attr("aria-label")
			if strings.EqualFold(aria, "Verified account") {
				badge = s
				return false
			}
			return true
		})
	}
	if badge == nil || badge.Length() == 0 {
		return b
	}
	b.Verified = true
	b.Method = "icon-verified"

	// A gold gradient marks an organisation badge.
	badge.Find("stop").EachWithBreak(func(_ int, stop *goquery.Selection) bool {
		color, _ := stop.Attr("stop-color")
		color = strings.ToLower(color)
		for _, gold := range xGoldStops {
			if color == gold {
				b.Method = "icon-verified-gold"
				return false
			}
		}
		return true
	})
	return b
}

func detectGenericBadge(doc *goquery.Document) content.VerificationBadges {
	var b content.VerificationBadges
	doc.Find(`[aria-label], [title]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		aria, _ := s.Attr("aria-label")
		title, _ := s.Attr("title")
		probe := strings.ToLower(aria + " " + title)
		if strings.Contains(probe, "verified account") || strings.Contains(probe, "verified badge") {
			b.Verified = true
			b.Method = "aria-label"
			return false
		}
		return true
	})
	return b
}
