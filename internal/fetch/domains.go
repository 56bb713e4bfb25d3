package fetch

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Profile is the retry/pacing policy applied to one host.
type Profile struct {
	MaxRetries  int
	Timeout     time.Duration
	BaseBackoff time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// profilePatterns maps host substrings to tuned profiles. Social
// platforms and large retailers throttle aggressively, so they get
// longer delays and fewer retries.
var profilePatterns = []struct {
	pattern string
	profile Profile
}{
	{"instagram.com", Profile{MaxRetries: 2, Timeout: 15 * time.Second, BaseBackoff: 3 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}},
	{"linkedin.com", Profile{MaxRetries: 2, Timeout: 15 * time.Second, BaseBackoff: 3 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}},
	{"x.com", Profile{MaxRetries: 2, Timeout: 15 * time.Second, BaseBackoff: 3 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}},
	{"twitter.com", Profile{MaxRetries: 2, Timeout: 15 * time.Second, BaseBackoff: 3 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}},
	{"amazon.com", Profile{MaxRetries: 2, Timeout: 12 * time.Second, BaseBackoff: 2 * time.Second, MinDelay: 1 * time.Second, MaxDelay: 3 * time.Second}},
	{"reddit.com", Profile{MaxRetries: 3, Timeout: 12 * time.Second, BaseBackoff: 2 * time.Second, MinDelay: 1 * time.Second, MaxDelay: 2 * time.Second}},
}

// profileFor derives the retry profile for a host, falling back to the
// fetcher defaults.
func (f *Fetcher) profileFor(host string) Profile {
	host = strings.ToLower(host)
	for _, p := range profilePatterns {
		if strings.Contains(host, p.pattern) {
			return p.profile
		}
	}
	return Profile{
		MaxRetries:  f.cfg.MaxRetries,
		Timeout:     time.Duration(f.cfg.TimeoutSeconds * float64(time.Second)),
		BaseBackoff: time.Duration(f.cfg.BaseBackoff * float64(time.Second)),
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    1500 * time.Millisecond,
	}
}

// randomDelay picks a delay in [min, max] for repeated requests to the
// same host within one retry loop.
func (p Profile) randomDelay() time.Duration {
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(rand.Int63n(int64(p.MaxDelay-p.MinDelay)))
}

// browserMemo remembers hosts that served real content only through the
// browser, so future requests skip the doomed HTTP attempt.
type browserMemo struct {
	mu    sync.Mutex
	hosts map[string]bool
}

func newBrowserMemo() *browserMemo {
	return &browserMemo{hosts: make(map[string]bool)}
}

func (m *browserMemo) requires(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hosts[strings.ToLower(host)]
}

func (m *browserMemo) mark(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[strings.ToLower(host)] = true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isSiteRoot(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path == "" || u.Path == "/"
}
