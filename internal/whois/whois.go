// Package whois implements a minimal port-43 WHOIS client with IANA
// referral following, enough to answer "how old is this domain" and
// "is the registration privacy-shielded".
package whois

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"truststack/internal/logging"
)

const (
	ianaServer  = "whois.iana.org:43"
	dialTimeout = 5 * time.Second
	readLimit   = 64 << 10
)

// Record is a parsed WHOIS response.
type Record struct {
	Domain        string
	Created       time.Time
	RegistrantOrg string
	Privacy       bool
	Raw           string
}

// Age returns how long ago the domain was created, zero when unknown.
func (r *Record) Age(now time.Time) time.Duration {
	if r == nil || r.Created.IsZero() {
		return 0
	}
	return now.Sub(r.Created)
}

// Client queries WHOIS servers. Lookups are memoised per domain for the
// lifetime of the client.
type Client struct {
	mu    sync.Mutex
	cache map[string]*Record

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewClient builds a Client.
func NewClient() *Client {
	d := &net.Dialer{Timeout: dialTimeout}
	return &Client{
		cache: make(map[string]*Record),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Lookup resolves the authoritative WHOIS record for domain, following
// one IANA referral.
func (c *Client) Lookup(ctx context.Context, domain string) (*Record, error) {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))

	c.mu.Lock()
	if rec, ok := c.cache[domain]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	raw, err := c.query(ctx, ianaServer, domain)
	if err != nil {
		return nil, fmt.Errorf("whois iana query for %s: %w", domain, err)
	}

	if refer := parseField(raw, "refer"); refer != "" {
		server := refer
		if !strings.Contains(server, ":") {
			server += ":43"
		}
		if referred, err := c.query(ctx, server, domain); err == nil {
			raw = referred
		} else {
			logging.DetectDebug("whois referral %s for %s: %v", server, domain, err)
		}
	}

	rec := parse(domain, raw)

	c.mu.Lock()
	c.cache[domain] = rec
	c.mu.Unlock()
	return rec, nil
}

func (c *Client) query(ctx context.Context, addr, domain string) (string, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(dialTimeout * 2))
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(conn, readLimit))
	if err != nil && len(raw) == 0 {
		return "", err
	}
	return string(raw), nil
}

var creationKeys = []string{
	"creation date", "created", "registered on", "registration time", "domain registration date",
}

var creationFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

var privacyMarkers = []string{
	"redacted for privacy", "whoisguard", "domains by proxy", "privacy service",
	"identity protect", "data protected", "withheld for privacy", "contact privacy",
}

// parse extracts the fields we care about from a raw WHOIS response.
func parse(domain, raw string) *Record {
	rec := &Record{Domain: domain, Raw: raw}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := splitField(line)
		if !ok {
			continue
		}
		lkey := strings.ToLower(key)

		if rec.Created.IsZero() {
			for _, ck := range creationKeys {
				if lkey == ck {
					rec.Created = parseTime(value)
					break
				}
			}
		}
		if rec.RegistrantOrg == "" && (lkey == "registrant organization" || lkey == "registrant organisation" || lkey == "org") {
			rec.RegistrantOrg = value
		}
	}

	probe := strings.ToLower(raw)
	for _, m := range privacyMarkers {
		if strings.Contains(probe, m) {
			rec.Privacy = true
			break
		}
	}
	if !rec.Privacy && strings.Contains(strings.ToLower(rec.RegistrantOrg), "privacy") {
		rec.Privacy = true
	}
	return rec
}

func parseField(raw, key string) string {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		k, v, ok := splitField(strings.TrimSpace(scanner.Text()))
		if ok && strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func splitField(line string) (key, value string, ok bool) {
	if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	i := strings.Index(line, ":")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func parseTime(v string) time.Time {
	for _, layout := range creationFormats {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
