package classify

import (
	"testing"

	"truststack/internal/config"
	"truststack/internal/content"
)

func testConfig() config.CollectionConfig {
	return config.CollectionConfig{
		BrandOwnedRatio:    0.6,
		ThirdPartyRatio:    0.4,
		BrandDomains:       []string{"nike.com"},
		BrandSubdomains:    []string{"shop.nikestore.net"},
		BrandSocialHandles: []string{"nike"},
	}
}

func TestClassify(t *testing.T) {
	c := New(testConfig())

	cases := []struct {
		url        string
		sourceType string
		tier       string
	}{
		{"https://www.nike.com/running", content.SourceBrandOwned, content.TierPrimaryWebsite},
		{"https://news.nike.com/story", content.SourceBrandOwned, content.TierContentHub},
		{"https://shop.nikestore.net/shoes", content.SourceBrandOwned, content.TierDirectToConsumer},
		{"https://www.instagram.com/nike/", content.SourceBrandOwned, content.TierBrandSocial},
		{"https://x.com/nike/status/123", content.SourceBrandOwned, content.TierBrandSocial},
		{"https://www.linkedin.com/company/nike/", content.SourceBrandOwned, content.TierBrandSocial},
		{"https://www.instagram.com/adidas/", content.SourceThirdParty, content.TierUserGenerated},
		{"https://www.reddit.com/r/running", content.SourceThirdParty, content.TierUserGenerated},
		{"https://www.amazon.com/dp/B01", content.SourceThirdParty, content.TierMarketplace},
		{"https://www.nytimes.com/2024/01/01/business/nike.html", content.SourceThirdParty, content.TierNewsMedia},
		{"https://www.ftc.gov/consumer", content.SourceThirdParty, content.TierExpertProfessional},
		{"https://randomblog.example.org/nike-review", content.SourceThirdParty, content.TierUserGenerated},
	}

	for _, tc := range cases {
		got := c.Classify(tc.url)
		if got.SourceType != tc.sourceType {
			t.Errorf("%s: source_type = %s, want %s (%s)", tc.url, got.SourceType, tc.sourceType, got.Reason)
		}
		if got.Tier != tc.tier {
			t.Errorf("%s: tier = %s, want %s (%s)", tc.url, got.Tier, tc.tier, got.Reason)
		}
	}
}

func TestUnparsableURL(t *testing.T) {
	c := New(testConfig())
	got := c.Classify("://bad")
	if got.SourceType != content.SourceUnknown {
		t.Errorf("expected unknown source type, got %s", got.SourceType)
	}
}

func TestHandleCaseInsensitive(t *testing.T) {
	c := New(testConfig())
	got := c.Classify("https://instagram.com/NIKE")
	if got.SourceType != content.SourceBrandOwned {
		t.Errorf("handle matching should be case-insensitive: %+v", got)
	}
}

func TestBrandControlled(t *testing.T) {
	cfg := testConfig()
	cfg.BrandOwnedRatio = 0.85
	if !cfg.BrandControlled() {
		t.Error("ratio 0.85 should be brand-controlled")
	}
	cfg.BrandOwnedRatio = 0.6
	if cfg.BrandControlled() {
		t.Error("ratio 0.6 should not be brand-controlled")
	}
}
