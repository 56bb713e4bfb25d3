package extract

import (
	"testing"

	"truststack/internal/content"
)

func TestPlatformTableMapping(t *testing.T) {
	cases := []struct {
		url      string
		channel  string
		platform string
		modality string
	}{
		{"https://www.youtube.com/watch?v=abc", "youtube", "video_platform", content.ModalityVideo},
		{"https://www.reddit.com/r/running/comments/1", "reddit", "forum", content.ModalityText},
		{"https://www.instagram.com/nike/p/xyz", "instagram", "social_network", content.ModalityImage},
		{"https://www.amazon.com/dp/B01", "amazon", "marketplace", content.ModalityMixed},
		{"https://blog.acme.io/post", "acme", "website", content.ModalityText},
	}
	for _, tc := range cases {
		meta := Extract(tc.url, "<html></html>")
		if meta.Channel != tc.channel || meta.PlatformType != tc.platform || meta.Modality != tc.modality {
			t.Errorf("Extract(%s) = {channel:%s platform:%s modality:%s}, want {%s %s %s}",
				tc.url, meta.Channel, meta.PlatformType, meta.Modality, tc.channel, tc.platform, tc.modality)
		}
	}
}

func TestModalityFromExtensionAndOGType(t *testing.T) {
	meta := Extract("https://cdn.example.com/photo.jpg", "<html></html>")
	if meta.Modality != content.ModalityImage {
		t.Errorf("extension modality = %s", meta.Modality)
	}

	meta = Extract("https://example.com/post", `<html><head>
		<meta property="og:type" content="video.other">
	</head></html>`)
	if meta.Modality != content.ModalityVideo {
		t.Errorf("og:type modality = %s", meta.Modality)
	}
}

func TestCanonicalAndMeta(t *testing.T) {
	html := `<html><head>
		<link rel="canonical" href="/canonical-page">
		<meta name="description" content="A description">
		<meta name="author" content="Jane Roe">
		<meta name="robots" content="noindex">
		<meta property="og:title" content="OG Title">
	</head><body></body></html>`

	meta := Extract("https://example.com/some/page", html)
	if meta.CanonicalURL != "https://example.com/canonical-page" {
		t.Errorf("canonical = %q", meta.CanonicalURL)
	}
	if meta.Description != "A description" || meta.Author != "Jane Roe" || meta.Robots != "noindex" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.OpenGraph["og:title"] != "OG Title" {
		t.Errorf("og:title = %q", meta.OpenGraph["og:title"])
	}
}

func TestJSONLDAndStructuredDataFlags(t *testing.T) {
	html := `<html><body>
		<script type="application/ld+json">{"@type": "Organization", "name": "Acme"}</script>
		<script type="application/ld+json">[{"@type": "Product"}, {"@type": "Offer"}]</script>
		<div itemtype="https://schema.org/Product"></div>
		<span typeof="Person"></span>
	</body></html>`

	meta := Extract("https://example.com", html)
	if len(meta.JSONLD) != 3 {
		t.Errorf("json-ld blocks = %d, want 3", len(meta.JSONLD))
	}
	if meta.JSONLD[0]["@type"] != "Organization" {
		t.Errorf("first json-ld = %v", meta.JSONLD[0])
	}
	if !meta.HasMicrodata || !meta.HasRDFa {
		t.Errorf("microdata=%v rdfa=%v, want both true", meta.HasMicrodata, meta.HasRDFa)
	}
}

func TestProvenanceManifestIndicators(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"link rel", `<link rel="c2pa-manifest" href="/m.c2pa">`, true},
		{"cai link", `<link rel="cai-manifest" href="/m">`, true},
		{"meta", `<meta name="c2pa-manifest" content="/m">`, true},
		{"script", `<script type="application/c2pa-manifest+json">{}</script>`, true},
		{"none", `<link rel="stylesheet" href="/s.css">`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := Extract("https://example.com", "<html><head>"+tc.html+"</head></html>")
			if meta.HasProvenanceManifest != tc.want {
				t.Errorf("manifest = %v, want %v", meta.HasProvenanceManifest, tc.want)
			}
		})
	}
}

func TestSignificantVisuals(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"large image", `<img src="/a.jpg" width="800" height="400">`, true},
		{"small image", `<img src="/a.jpg" width="100" height="100">`, false},
		{"hero class", `<img src="/a.jpg" class="hero-image">`, true},
		{"logo excluded", `<img src="/a.jpg" class="hero-logo">`, false},
		{"footer excluded", `<div class="footer-banner"><img src="/a.jpg"></div>`, false},
		{"video", `<video src="/v.mp4"></video>`, true},
		{"youtube embed", `<iframe src="https://www.youtube.com/embed/abc"></iframe>`, true},
		{"plain iframe", `<iframe src="https://maps.example.com/embed"></iframe>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := Extract("https://example.com", "<html><body>"+tc.html+"</body></html>")
			if meta.SignificantVisuals != tc.want {
				t.Errorf("visuals = %v, want %v", meta.SignificantVisuals, tc.want)
			}
		})
	}
}

func TestApplyOntoNormalized(t *testing.T) {
	html := `<html><head>
		<link rel="canonical" href="https://example.com/page">
		<meta name="author" content="Site Author">
	</head><body><img src="/a.jpg" width="900"></body></html>`

	meta := Extract("https://example.com/page", html)
	n := &content.Normalized{URL: "https://example.com/page"}
	meta.Apply(n)

	if n.Author != "Site Author" {
		t.Errorf("author = %q", n.Author)
	}
	if n.Metadata["canonical_url"] != "https://example.com/page" {
		t.Errorf("canonical metadata = %v", n.Metadata["canonical_url"])
	}
	if !n.HasSignificantVisuals() {
		t.Error("visual flag not applied")
	}

	n2 := &content.Normalized{Author: "Byline Author"}
	meta.Apply(n2)
	if n2.Author != "Byline Author" {
		t.Error("explicit byline must not be overwritten")
	}
}
