package fetch

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// sessionPool hands out one cookie-carrying HTTP client per host so
// repeated requests reuse connections and session state. Clients are
// safe for concurrent use; only the map itself needs the lock.
type sessionPool struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newSessionPool() *sessionPool {
	return &sessionPool{clients: make(map[string]*http.Client)}
}

func (p *sessionPool) get(host string, timeout time.Duration) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[host]; ok {
		return c
	}

	jar, _ := cookiejar.New(nil)
	c := &http.Client{
		Timeout: timeout,
		Jar:     jar,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     60 * time.Second,
		},
	}
	p.clients[host] = c
	return c
}
