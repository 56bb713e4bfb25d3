// Package extract enriches fetched pages with metadata: modality,
// platform mapping, structured-data presence, canonical URL, Open Graph
// fields and provenance-manifest indicators.
package extract

import (
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"truststack/internal/content"
)

// Meta is everything the extractor learns from one document.
type Meta struct {
	Modality     string
	Channel      string
	PlatformType string

	CanonicalURL string
	Description  string
	Keywords     string
	Author       string
	Robots       string
	OpenGraph    map[string]string

	JSONLD       []map[string]any
	HasMicrodata bool
	HasRDFa      bool

	HasProvenanceManifest bool
	SignificantVisuals    bool
}

// platformEntry maps a host to its channel semantics.
type platformEntry struct {
	channel      string
	platformType string
	modality     string
}

var platformTable = map[string]platformEntry{
	"youtube.com":   {"youtube", "video_platform", content.ModalityVideo},
	"youtu.be":      {"youtube", "video_platform", content.ModalityVideo},
	"reddit.com":    {"reddit", "forum", content.ModalityText},
	"instagram.com": {"instagram", "social_network", content.ModalityImage},
	"tiktok.com":    {"tiktok", "video_platform", content.ModalityVideo},
	"facebook.com":  {"facebook", "social_network", content.ModalityMixed},
	"twitter.com":   {"twitter", "social_network", content.ModalityText},
	"x.com":         {"twitter", "social_network", content.ModalityText},
	"amazon.com":    {"amazon", "marketplace", content.ModalityMixed},
	"etsy.com":      {"etsy", "marketplace", content.ModalityMixed},
	"ebay.com":      {"ebay", "marketplace", content.ModalityMixed},
}

var extensionModality = map[string]string{
	".jpg": content.ModalityImage, ".jpeg": content.ModalityImage, ".png": content.ModalityImage,
	".gif": content.ModalityImage, ".webp": content.ModalityImage,
	".mp4": content.ModalityVideo, ".webm": content.ModalityVideo, ".mov": content.ModalityVideo,
	".mp3": content.ModalityAudio, ".wav": content.ModalityAudio,
	".pdf": content.ModalityText,
}

// Extract parses html and derives the metadata for rawURL.
func Extract(rawURL, html string) Meta {
	meta := Meta{Modality: content.ModalityText, OpenGraph: map[string]string{}}

	host := hostOf(rawURL)
	if entry, ok := lookupPlatform(host); ok {
		meta.Channel = entry.channel
		meta.PlatformType = entry.platformType
		meta.Modality = entry.modality
	} else if host != "" {
		meta.Channel = hostLabel(host)
		meta.PlatformType = "website"
	}

	if m := modalityFromExtension(rawURL); m != "" {
		meta.Modality = m
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return meta
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		contentAttr, _ := s.Attr("content")
		if prop, ok := s.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			meta.OpenGraph[prop] = contentAttr
			return
		}
		name, _ := s.Attr("name")
		switch strings.ToLower(name) {
		case "description":
			meta.Description = contentAttr
		case "keywords":
			meta.Keywords = contentAttr
		case "author":
			meta.Author = contentAttr
		case "robots":
			meta.Robots = contentAttr
		case "c2pa-manifest":
			meta.HasProvenanceManifest = true
		}
	})

	if ogType := meta.OpenGraph["og:type"]; ogType != "" {
		if m := modalityFromOGType(ogType); m != "" {
			meta.Modality = m
		}
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		meta.CanonicalURL = resolveAgainst(rawURL, href)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			meta.JSONLD = append(meta.JSONLD, obj)
			return
		}
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			meta.JSONLD = append(meta.JSONLD, list...)
		}
	})

	meta.HasMicrodata = doc.Find("[itemtype]").Length() > 0
	meta.HasRDFa = doc.Find("[typeof]").Length() > 0

	if !meta.HasProvenanceManifest {
		meta.HasProvenanceManifest = doc.Find(`link[rel="c2pa-manifest"]`).Length() > 0 ||
			doc.Find(`link[rel="cai-manifest"]`).Length() > 0 ||
			doc.Find(`script[type="application/c2pa-manifest+json"]`).Length() > 0
	}

	meta.SignificantVisuals = hasSignificantVisuals(doc)
	return meta
}

// Apply copies the extracted metadata onto a normalised content record.
func (m Meta) Apply(n *content.Normalized) {
	n.Modality = m.Modality
	n.Channel = m.Channel
	n.PlatformType = m.PlatformType
	if n.Author == "" {
		n.Author = m.Author
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	if m.CanonicalURL != "" {
		n.Metadata["canonical_url"] = m.CanonicalURL
	}
	if m.Description != "" {
		n.Metadata["description"] = m.Description
	}
	if m.Keywords != "" {
		n.Metadata["keywords"] = m.Keywords
	}
	if m.Robots != "" {
		n.Metadata["robots"] = m.Robots
	}
	if len(m.OpenGraph) > 0 {
		n.Metadata["open_graph"] = m.OpenGraph
	}
	if len(m.JSONLD) > 0 {
		n.Metadata["json_ld"] = m.JSONLD
	}
	n.Metadata["has_microdata"] = m.HasMicrodata
	n.Metadata["has_rdfa"] = m.HasRDFa
	n.Metadata["has_provenance_manifest"] = m.HasProvenanceManifest
	n.Metadata["has_significant_visuals"] = m.SignificantVisuals
}

var visualHintClasses = []string{"hero", "banner", "featured", "cover", "main-image", "post-image"}
var visualNoiseClasses = []string{"logo", "icon", "avatar", "footer", "nav", "social"}

// hasSignificantVisuals reports whether the page carries imagery worth
// visual analysis: big images, hero-class containers, or any video.
func hasSignificantVisuals(doc *goquery.Document) bool {
	if doc.Find("video").Length() > 0 {
		return true
	}
	embedded := false
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.Contains(src, "youtube.com") || strings.Contains(src, "youtu.be") || strings.Contains(src, "vimeo.com") {
			embedded = true
			return false
		}
		return true
	})
	if embedded {
		return true
	}

	significant := false
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if dimension(s, "width") > 250 || dimension(s, "height") > 250 {
			significant = true
			return false
		}
		cls, _ := s.Attr("class")
		parentCls, _ := s.Parent().Attr("class")
		probe := strings.ToLower(cls + " " + parentCls)
		hinted := false
		for _, h := range visualHintClasses {
			if strings.Contains(probe, h) {
				hinted = true
				break
			}
		}
		if !hinted {
			return true
		}
		for _, n := range visualNoiseClasses {
			if strings.Contains(probe, n) {
				return true
			}
		}
		significant = true
		return false
	})
	return significant
}

func dimension(s *goquery.Selection, attr string) int {
	v, ok := s.Attr(attr)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0
	}
	return n
}

func lookupPlatform(host string) (platformEntry, bool) {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if e, ok := platformTable[host]; ok {
		return e, true
	}
	for suffix, e := range platformTable {
		if strings.HasSuffix(host, "."+suffix) {
			return e, true
		}
	}
	return platformEntry{}, false
}

// hostLabel returns the registrable label of a host ("blog.acme.co.uk"
// is close enough to "acme" for channel naming).
func hostLabel(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}

func modalityFromExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return extensionModality[strings.ToLower(path.Ext(u.Path))]
}

func modalityFromOGType(ogType string) string {
	switch {
	case strings.HasPrefix(ogType, "video"):
		return content.ModalityVideo
	case strings.HasPrefix(ogType, "image"):
		return content.ModalityImage
	case strings.HasPrefix(ogType, "music"), strings.HasPrefix(ogType, "audio"):
		return content.ModalityAudio
	}
	return ""
}

func resolveAgainst(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	r, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(r).String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
