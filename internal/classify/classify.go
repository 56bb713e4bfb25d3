// Package classify decides whether a URL is brand-owned or third-party
// and assigns a tier used for ratio enforcement and reporting.
package classify

import (
	"net/url"
	"strings"

	"truststack/internal/config"
	"truststack/internal/content"
)

// Result is one classification decision.
type Result struct {
	SourceType string
	Tier       string
	Reason     string
}

// Social hosts whose path segment identifies the account.
var socialHosts = map[string]bool{
	"twitter.com":   true,
	"x.com":         true,
	"instagram.com": true,
	"facebook.com":  true,
	"linkedin.com":  true,
	"tiktok.com":    true,
	"youtube.com":   true,
	"pinterest.com": true,
	"threads.net":   true,
}

var marketplaceHosts = map[string]bool{
	"amazon.com":  true,
	"etsy.com":    true,
	"ebay.com":    true,
	"walmart.com": true,
	"target.com":  true,
}

var userGeneratedHosts = map[string]bool{
	"reddit.com": true,
	"quora.com":  true,
	"medium.com": true,
}

var newsHostSuffixes = []string{
	"nytimes.com", "wsj.com", "reuters.com", "bloomberg.com", "bbc.com",
	"bbc.co.uk", "theguardian.com", "forbes.com", "cnn.com", "cnbc.com",
	"businessinsider.com", "techcrunch.com", "wired.com", "theverge.com",
}

// Classifier applies collection config to URLs.
type Classifier struct {
	cfg config.CollectionConfig
}

// New creates a classifier from collection config.
func New(cfg config.CollectionConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify maps a URL to a source type, tier and reason.
func (c *Classifier) Classify(rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Result{SourceType: content.SourceUnknown, Tier: content.TierUserGenerated, Reason: "unparsable url"}
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	// Direct brand domain match.
	for _, d := range c.cfg.BrandDomains {
		d = strings.ToLower(strings.TrimPrefix(d, "www."))
		if d == "" {
			continue
		}
		if host == d {
			return Result{SourceType: content.SourceBrandOwned, Tier: content.TierPrimaryWebsite,
				Reason: "host matches brand domain " + d}
		}
		if strings.HasSuffix(host, "."+d) {
			return Result{SourceType: content.SourceBrandOwned, Tier: content.TierContentHub,
				Reason: "host is subdomain of brand domain " + d}
		}
	}

	// Explicitly configured subdomains (e.g. shop.example.net on a
	// different registrable domain).
	for _, s := range c.cfg.BrandSubdomains {
		s = strings.ToLower(strings.TrimPrefix(s, "www."))
		if s != "" && host == s {
			return Result{SourceType: content.SourceBrandOwned, Tier: content.TierDirectToConsumer,
				Reason: "host matches configured subdomain " + s}
		}
	}

	// Brand social accounts: a known social host whose first path
	// segment matches a configured handle.
	if socialHosts[host] {
		handle := firstPathSegment(u.Path)
		for _, h := range c.cfg.BrandSocialHandles {
			h = strings.TrimPrefix(strings.ToLower(h), "@")
			if h != "" && strings.EqualFold(handle, h) {
				return Result{SourceType: content.SourceBrandOwned, Tier: content.TierBrandSocial,
					Reason: "brand social handle @" + h + " on " + host}
			}
		}
		if userGeneratedHosts[host] || host == "youtube.com" {
			return Result{SourceType: content.SourceThirdParty, Tier: content.TierUserGenerated,
				Reason: "user-generated platform " + host}
		}
		return Result{SourceType: content.SourceThirdParty, Tier: content.TierUserGenerated,
			Reason: "social platform " + host + " without brand handle"}
	}

	if marketplaceHosts[host] {
		return Result{SourceType: content.SourceThirdParty, Tier: content.TierMarketplace,
			Reason: "marketplace " + host}
	}
	if userGeneratedHosts[host] {
		return Result{SourceType: content.SourceThirdParty, Tier: content.TierUserGenerated,
			Reason: "user-generated platform " + host}
	}
	for _, n := range newsHostSuffixes {
		if host == n || strings.HasSuffix(host, "."+n) {
			return Result{SourceType: content.SourceThirdParty, Tier: content.TierNewsMedia,
				Reason: "news media " + host}
		}
	}
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") {
		return Result{SourceType: content.SourceThirdParty, Tier: content.TierExpertProfessional,
			Reason: "institutional host " + host}
	}

	return Result{SourceType: content.SourceThirdParty, Tier: content.TierUserGenerated,
		Reason: "no brand match for " + host}
}

// IsSocialHost reports whether a host (www-stripped) is a known social
// platform. Used by detectors that treat social platforms as having
// their own trust baseline.
func IsSocialHost(host string) bool {
	return socialHosts[strings.ToLower(strings.TrimPrefix(host, "www."))]
}

func firstPathSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	// LinkedIn nests accounts under /company/ and /in/.
	for _, prefix := range []string{"company/", "in/", "channel/", "user/", "c/", "@"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if i := strings.IndexAny(path, "/?#"); i >= 0 {
		path = path[:i]
	}
	return strings.ToLower(path)
}
