// Package robots memoises robots.txt decisions per origin. Fetch failures
// memoise a permissive policy and every internal error fails open.
package robots

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"truststack/internal/logging"
	"truststack/internal/ratelimit"
)

const fetchTimeout = 5 * time.Second

// Cache maps scheme://host to a parsed robots policy.
type Cache struct {
	mu       sync.Mutex
	policies map[string]*robotstxt.RobotsData
	limiter  *ratelimit.Limiter
	client   *http.Client
}

// NewCache creates a robots cache. The limiter paces the robots.txt
// fetches themselves.
func NewCache(limiter *ratelimit.Limiter) *Cache {
	return &Cache{
		policies: make(map[string]*robotstxt.RobotsData),
		limiter:  limiter,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// SetClient replaces the HTTP client. Tests only.
func (c *Cache) SetClient(client *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

// IsAllowed reports whether userAgent may fetch rawURL. Unknown origins
// trigger a robots.txt fetch; any failure is treated as allowed.
func (c *Cache) IsAllowed(rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	c.mu.Lock()
	policy, ok := c.policies[origin]
	c.mu.Unlock()

	if !ok {
		policy = c.fetch(origin)
		c.mu.Lock()
		c.policies[origin] = policy
		c.mu.Unlock()
	}

	if policy == nil {
		return true
	}
	group := policy.FindGroup(userAgent)
	if group == nil {
		return true
	}
	allowed := group.Test(u.Path)
	if !allowed {
		logging.Robots("disallowed: %s (ua=%s)", rawURL, userAgent)
	}
	return allowed
}

// fetch retrieves and parses origin/robots.txt. Errors yield a permissive
// empty policy so the miss is memoised rather than retried per URL.
func (c *Cache) fetch(origin string) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s/robots.txt", origin)
	if c.limiter != nil {
		c.limiter.Wait(robotsURL)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	resp, err := client.Get(robotsURL)
	if err != nil {
		logging.RobotsDebug("fetch failed for %s: %v", robotsURL, err)
		return permissive()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		logging.RobotsDebug("read failed for %s: %v", robotsURL, err)
		return permissive()
	}

	policy, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logging.RobotsDebug("parse failed for %s: %v", robotsURL, err)
		return permissive()
	}
	return policy
}

func permissive() *robotstxt.RobotsData {
	policy, err := robotstxt.FromString("")
	if err != nil {
		return nil // nil policy is treated as allowed
	}
	return policy
}

// Reset clears all memoised policies. Tests only.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = make(map[string]*robotstxt.RobotsData)
}
