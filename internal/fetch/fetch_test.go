package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"truststack/internal/config"
	"truststack/internal/content"
	"truststack/internal/ratelimit"
	"truststack/internal/robots"
)

func testConfig() config.FetchConfig {
	return config.FetchConfig{
		UserAgent:      "truststack-test/1.0",
		TimeoutSeconds: 5,
		MaxRetries:     2,
		BaseBackoff:    0.01,
		MinBodyLength:  200,
	}
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(testConfig(), ratelimit.New(time.Millisecond), nil, nil)
}

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestExtractBodyPrefersArticle(t *testing.T) {
	doc := docFrom(t, `<html><body>
		<nav>menu items</nav>
		<article><p>The real story text.</p></article>
		<footer>copyright</footer>
	</body></html>`)

	if got := extractBody(doc); got != "The real story text." {
		t.Errorf("extractBody = %q", got)
	}
}

func TestExtractBodyContentClassFallback(t *testing.T) {
	filler := strings.Repeat("Long enough content sentence. ", 10)
	doc := docFrom(t, `<html><body>
		<div class="sidebar">short</div>
		<div class="post-content">`+filler+`</div>
	</body></html>`)

	got := extractBody(doc)
	if !strings.Contains(got, "Long enough content sentence.") {
		t.Errorf("extractBody = %q, want post-content div text", got)
	}
}

func TestExtractBodyParagraphFallback(t *testing.T) {
	doc := docFrom(t, `<html><body>
		<div><p>First para.</p></div>
		<div><p>Second para.</p></div>
	</body></html>`)

	if got := extractBody(doc); got != "First para.\n\nSecond para." {
		t.Errorf("extractBody = %q", got)
	}
}

func TestExtractStructuredProductGrid(t *testing.T) {
	doc := docFrom(t, `<html><body>
		<div class="product"><h3>Air Runner</h3><span class="price">$120</span></div>
		<div class="product"><h3>Trail Max</h3><span class="price">$95</span></div>
		<div class="product"><h3>Street Low</h3><span class="price">$80</span></div>
	</body></html>`)

	got := extractBody(doc)
	for _, want := range []string{"Air Runner - $120", "Trail Max - $95", "Street Low - $80"} {
		if !strings.Contains(got, want) {
			t.Errorf("structured body missing %q in %q", want, got)
		}
	}
}

func TestExtractSegmentsRoles(t *testing.T) {
	doc := docFrom(t, `<html><body><article>
		<h1>Big Headline</h1>
		<h3>Sub head</h3>
		<p>Body paragraph.</p>
		<ul><li>Bullet one</li></ul>
		<div class="hero-banner"><p>Just do it</p></div>
	</article></body></html>`)

	segments := extractSegments(doc)
	byText := make(map[string]string)
	for _, s := range segments {
		byText[s.Text] = s.SemanticRole
	}

	want := map[string]string{
		"Big Headline":    content.RoleHeadline,
		"Sub head":        content.RoleSubheadline,
		"Body paragraph.": content.RoleBodyText,
		"Bullet one":      content.RoleListItem,
		"Just do it":      content.RoleHeroText,
	}
	for text, role := range want {
		if byText[text] != role {
			t.Errorf("segment %q role = %q, want %q", text, byText[text], role)
		}
	}
}

func TestLegalLinksResolvedAgainstBase(t *testing.T) {
	doc := docFrom(t, `<html><body><footer>
		<a href="/legal/privacy">Privacy Policy</a>
		<a href="/legal/terms">Terms of Service</a>
	</footer></body></html>`)

	links := extractLegalLinks(doc, "https://example.com/products/shoes")
	if links.Privacy != "https://example.com/legal/privacy" {
		t.Errorf("privacy = %q", links.Privacy)
	}
	if links.Terms != "https://example.com/legal/terms" {
		t.Errorf("terms = %q", links.Terms)
	}
}

func TestInstagramBadgeVariants(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"aria-label", `<svg aria-label="Verified"></svg>`, true},
		{"fill", `<svg fill="rgb(0, 149, 246)"><path/></svg>`, true},
		{"title", `<svg><title>Verified</title></svg>`, true},
		{"obfuscated classes", `<svg class="x1lliihq x1n2onr6 x5n08af x1q0g3np"></svg>`, true},
		{"plain svg", `<svg class="x1lliihq"></svg>`, false},
		{"no svg", `<span>Verified</span>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := docFrom(t, "<html><body>"+tc.html+"</body></html>")
			b := detectBadges(doc, "www.instagram.com")
			if b.Verified != tc.want {
				t.Errorf("verified = %v, want %v (method=%s)", b.Verified, tc.want, b.Method)
			}
			if b.Platform != "instagram" {
				t.Errorf("platform = %q", b.Platform)
			}
		})
	}
}

func TestXBadgeGoldGradient(t *testing.T) {
	doc := docFrom(t, `<html><body>
		<svg data-testid="icon-verified"><linearGradient>
			<stop stop-color="#f4e72a"/><stop stop-color="#cd8105"/>
		</linearGradient></svg>
	</body></html>`)

	b := detectBadges(doc, "x.com")
	if !b.Verified {
		t.Fatal("gold badge not detected")
	}
	if b.Method != "icon-verified-gold" {
		t.Errorf("method = %q, want icon-verified-gold", b.Method)
	}
}

func TestLinkedInBadgeUseHref(t *testing.T) {
	doc := docFrom(t, `<html><body><svg><use href="#verified-medium"></use></svg></body></html>`)
	if b := detectBadges(doc, "www.linkedin.com"); !b.Verified {
		t.Error("linkedin badge not detected")
	}
}

func TestHTTPFetchRetriesTransientErrors(t *testing.T) {
	var calls int32
	body := strings.Repeat("Real page content here. ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "<html><head><title>OK</title></head><body><article><p>%s</p></article></body></html>", body)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Fetch(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "OK" {
		t.Errorf("title = %q", page.Title)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestHTTPFetchGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// MaxRetries=2 means 3 attempts total.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestForbiddenWithoutBrowserReportsDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !page.AccessDenied || page.Status != http.StatusForbidden {
		t.Errorf("page = %+v, want access denied 403", page)
	}
}

func TestRobotsBlockedSurfacesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		fmt.Fprint(w, "<html><body><p>hello</p></body></html>")
	}))
	defer srv.Close()

	limiter := ratelimit.New(time.Millisecond)
	f := New(testConfig(), limiter, robots.NewCache(limiter), nil)

	if _, err := f.Fetch(context.Background(), srv.URL+"/private/page"); !strings.Contains(fmt.Sprint(err), "robots.txt") {
		t.Errorf("err = %v, want robots block", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/public"); err != nil {
		t.Errorf("allowed path failed: %v", err)
	}
}

func TestFetchAllPreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body><p>page body</p></body></html>", r.URL.Path)
	}))
	defer srv.Close()

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/page-%d", srv.URL, i)
	}

	f := newTestFetcher(t)
	results, err := f.FetchAll(context.Background(), urls, 4)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for i, res := range results {
		if res.URL != urls[i] {
			t.Errorf("results[%d].URL = %s, want %s", i, res.URL, urls[i])
		}
		if res.Err != nil {
			t.Errorf("results[%d] err: %v", i, res.Err)
		}
		want := fmt.Sprintf("/page-%d", i)
		if res.Page.Title != want {
			t.Errorf("results[%d].Title = %q, want %q", i, res.Page.Title, want)
		}
	}
}

func TestPageLinksSameHostOnly(t *testing.T) {
	page := &Page{
		FinalURL: "https://example.com/",
		HTML: `<html><body>
			<a href="/about">About</a>
			<a href="https://example.com/products#top">Products</a>
			<a href="https://other.com/away">Away</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a href="/about">Dup</a>
		</body></html>`,
	}

	links := page.Links()
	want := []string{"https://example.com/about", "https://example.com/products"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %s, want %s", i, links[i], want[i])
		}
	}
}

func TestDeniedTitleHeuristic(t *testing.T) {
	cases := map[string]bool{
		"Access Denied":                     true,
		"Attention Required! | Cloudflare":  true,
		"Cloudflare outage postmortem blog": false,
		"Welcome to our store":              false,
	}
	for title, want := range cases {
		if got := deniedTitle(title); got != want {
			t.Errorf("deniedTitle(%q) = %v, want %v", title, got, want)
		}
	}
}
