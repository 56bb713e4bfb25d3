package fetch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"truststack/internal/content"
)

// contentClassHints mark divs likely to hold the article body.
var contentClassHints = []string{
	"content", "post-content", "article-body", "article", "entry", "post", "story-body",
}

// extractTitle returns <title>, falling back to og:title then
// twitter:title.
func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		return title
	}
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// extractBody applies the strategy ladder: structured pre-step (product
// grids, lists, tables), then article -> main/role=main -> content-class
// div (>=150 chars) -> concatenated <p> -> body.
func extractBody(doc *goquery.Document) string {
	if pre := extractStructuredText(doc); pre != "" {
		return pre
	}

	if t := nodeText(doc.Find("article").First()); t != "" {
		return t
	}
	if t := nodeText(doc.Find("main").First()); t != "" {
		return t
	}
	if t := nodeText(doc.Find(`[role="main"]`).First()); t != "" {
		return t
	}

	var hinted string
	doc.Find("div[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		cls, _ := s.Attr("class")
		cls = strings.ToLower(cls)
		for _, hint := range contentClassHints {
			if strings.Contains(cls, hint) {
				if t := nodeText(s); len(t) >= 150 {
					hinted = t
					return false
				}
			}
		}
		return true
	})
	if hinted != "" {
		return hinted
	}

	var paras []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	if len(paras) > 0 {
		return strings.Join(paras, "\n\n")
	}

	return nodeText(doc.Find("body").First())
}

// extractStructuredText renders structured commerce content (product
// grids, lists, tables) that the paragraph ladder would miss.
func extractStructuredText(doc *goquery.Document) string {
	var parts []string

	if cards := productCards(doc); len(cards) >= 3 {
		parts = append(parts, strings.Join(cards, "\n"))
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th,td").Each(func(_ int, td *goquery.Selection) {
				if t := strings.TrimSpace(td.Text()); t != "" {
					cells = append(cells, t)
				}
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) >= 3 {
			parts = append(parts, strings.Join(rows, "\n"))
		}
	})

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n")
}

// productCards collects grid cards that carry a title plus a price or a
// call-to-action button.
func productCards(doc *goquery.Document) []string {
	var cards []string
	doc.Find(`[class*="product"],[class*="card"]`).Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h2,h3,h4,[class*='title'],[class*='name']").First().Text())
		if title == "" {
			return
		}
		price := strings.TrimSpace(s.Find(`[class*="price"]`).First().Text())
		hasButton := s.Find("button,a[class*='btn'],a[class*='buy']").Length() > 0
		if price == "" && !hasButton {
			return
		}
		card := title
		if price != "" {
			card += " - " + price
		}
		cards = append(cards, card)
	})
	return cards
}

// extractSegments walks the main content area and emits structured
// segments with inferred semantic roles.
func extractSegments(doc *goquery.Document) []content.Segment {
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		return nil
	}

	var segments []content.Segment
	add := func(text, elementType, role string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		segments = append(segments, content.Segment{Text: text, ElementType: elementType, SemanticRole: role})
	}

	root.Find("h1,h2,h3,h4,p,li").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		text := s.Text()
		switch tag {
		case "h1", "h2":
			add(text, tag, content.RoleHeadline)
		case "h3", "h4":
			add(text, tag, content.RoleSubheadline)
		case "li":
			add(text, tag, content.RoleListItem)
		default:
			add(text, tag, roleFromClass(s))
		}
	})

	if cards := productCards(doc); len(cards) >= 3 {
		for _, card := range cards {
			add(card, "div", content.RoleProductListing)
		}
	}

	doc.Find("footer p, footer li").Each(func(_ int, s *goquery.Selection) {
		add(s.Text(), goquery.NodeName(s), content.RoleFooterText)
	})

	return segments
}

// roleFromClass infers a role from class hints on the element or its
// ancestors.
func roleFromClass(s *goquery.Selection) string {
	for node := s; node.Length() > 0; node = node.Parent() {
		cls, _ := node.Attr("class")
		cls = strings.ToLower(cls)
		switch {
		case strings.Contains(cls, "hero"), strings.Contains(cls, "banner"):
			return content.RoleHeroText
		case strings.Contains(cls, "tagline"):
			return content.RoleTagline
		case strings.Contains(cls, "footer"):
			return content.RoleFooterText
		}
		if goquery.NodeName(node) == "body" {
			break
		}
	}
	return content.RoleBodyText
}

// LegalLinks are the first privacy and terms links found on a page.
type LegalLinks struct {
	Privacy string `json:"privacy,omitempty"`
	Terms   string `json:"terms,omitempty"`
}

// extractLegalLinks scans <footer> anchors (falling back to the whole
// page) for privacy/cookie and terms/conditions links, resolved against
// the base URL.
func extractLegalLinks(doc *goquery.Document, baseURL string) LegalLinks {
	base, _ := url.Parse(baseURL)
	var links LegalLinks

	scan := func(scope *goquery.Selection) {
		scope.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			probe := strings.ToLower(href + " " + a.Text())
			if links.Privacy == "" && (strings.Contains(probe, "privacy") || strings.Contains(probe, "cookie")) {
				links.Privacy = resolveURL(base, href)
			}
			if links.Terms == "" && (strings.Contains(probe, "term") || strings.Contains(probe, "conditions")) {
				links.Terms = resolveURL(base, href)
			}
			return links.Privacy == "" || links.Terms == ""
		})
	}

	footer := doc.Find("footer")
	if footer.Length() > 0 {
		scan(footer)
	}
	if links.Privacy == "" && links.Terms == "" {
		scan(doc.Selection)
	}
	return links
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func nodeText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	return normalizeWhitespace(s.Text())
}

// normalizeWhitespace collapses runs of blank space while keeping line
// structure, which the readability detector depends on.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
