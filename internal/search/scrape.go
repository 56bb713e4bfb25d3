package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"truststack/internal/logging"
)

const scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// scrape fetches the public Brave results page and parses it. Markup
// drifts, so parsing tries result containers first and degrades to bare
// external anchors.
func (b *Brave) scrape(ctx context.Context, query string, size int) ([]Result, error) {
	if b.limiter != nil {
		b.limiter.WaitHost(hostOf(b.scrapeURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.scrapeURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read scrape response: %w", err)
	}

	results := parseScrapedResults(string(body), size)
	logging.Search("brave scrape: %d results for %q", len(results), query)
	return results, nil
}

// parseScrapedResults extracts results from a Brave HTML results page.
func parseScrapedResults(htmlContent string, maxResults int) []Result {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	var results []Result
	seen := make(map[string]bool)
	add := func(r Result) {
		if r.URL == "" || r.Title == "" || seen[r.URL] {
			return
		}
		seen[r.URL] = true
		results = append(results, r)
	}

	// Result containers carry a "snippet" class on current markup.
	var findContainers func(*html.Node)
	findContainers = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			cls := getAttrValue(n, "class")
			if strings.Contains(cls, "snippet") || strings.Contains(cls, "result") {
				if r := extractScrapedResult(n); r.URL != "" {
					add(r)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findContainers(c)
		}
	}
	findContainers(doc)
	if len(results) > 0 {
		return results
	}

	// Fallback: any external http(s) anchor with link text.
	var findAnchors func(*html.Node)
	findAnchors = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := getAttrValue(n, "href")
			if strings.HasPrefix(href, "http") && !strings.Contains(href, "brave.com") {
				add(Result{URL: href, Title: getTextContent(n)})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findAnchors(c)
		}
	}
	findAnchors(doc)
	return results
}

// extractScrapedResult pulls URL, title and snippet text out of one
// result container.
func extractScrapedResult(n *html.Node) Result {
	var result Result

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				href := getAttrValue(n, "href")
				if result.URL == "" && strings.HasPrefix(href, "http") && !strings.Contains(href, "brave.com") {
					result.URL = href
					result.Title = getTextContent(n)
				}
			case "p", "span":
				cls := getAttrValue(n, "class")
				if result.Snippet == "" && (strings.Contains(cls, "snippet-description") || strings.Contains(cls, "description")) {
					result.Snippet = getTextContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return result
}

func getAttrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func getTextContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}
