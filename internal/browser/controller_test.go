package browser

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/goleak"

	"truststack/internal/config"
)

// startStub runs the worker loop with a stubbed fetch function so the
// queue semantics are testable without a real browser.
func startStub(c *Controller, fetch func(*Request) Result) {
	c.mu.Lock()
	c.requests = make(chan *Request, 16)
	c.done = make(chan struct{})
	c.state = StateRunning
	c.fetchFn = func(_ *rod.Browser, req *Request) Result { return fetch(req) }
	c.mu.Unlock()
	go c.worker()
}

func TestRequestsSerialisedInSubmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(config.BrowserConfig{})
	var mu sync.Mutex
	var order []string

	startStub(c, func(req *Request) Result {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		order = append(order, req.URL)
		mu.Unlock()
		return Result{URL: req.URL, Body: "ok"}
	})

	start := time.Now()
	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := 0; i < 5; i++ {
		url := "https://example.com/" + strconv.Itoa(i)
		// Sequential submission fixes the expected processing order.
		req := &Request{URL: url, result: make(chan Result, 1)}
		c.requests <- req
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			results[i] = <-req.result
		}(i, req)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if elapsed < 5*50*time.Millisecond {
		t.Errorf("5 sequential 50ms requests finished in %v; worker is not serialising", elapsed)
	}
	for i, url := range order {
		want := "https://example.com/" + strconv.Itoa(i)
		if url != want {
			t.Errorf("processed[%d] = %s, want %s", i, url, want)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFetchAfterCloseFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(config.BrowserConfig{})
	startStub(c, func(req *Request) Result { return Result{} })

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.FetchPage("https://example.com", "", false, time.Second); err != ErrNotStarted {
		t.Errorf("FetchPage after Close = %v, want ErrNotStarted", err)
	}
}

func TestPerRequestTimeoutLeavesWorkerDraining(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(config.BrowserConfig{})
	release := make(chan struct{})
	startStub(c, func(req *Request) Result {
		<-release
		return Result{URL: req.URL}
	})

	_, err := c.FetchPage("https://slow.example.com", "", false, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("FetchPage = %v, want ErrTimeout", err)
	}

	// The worker must still complete the in-flight request and then the
	// sentinel, proving the timed-out caller did not wedge the queue.
	close(release)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(config.BrowserConfig{})
	startStub(c, func(req *Request) Result { return Result{} })
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAccessDeniedHeuristics(t *testing.T) {
	cases := []struct {
		status int
		title  string
		body   string
		want   bool
	}{
		{200, "Welcome", "normal page content", false},
		{403, "Welcome", "body", true},
		{401, "", "", true},
		{200, "Access Denied", "", true},
		{200, "", "403 Forbidden: request blocked", true},
		{200, "Attention Required! | Cloudflare", "checking the security of your connection", true},
		{200, "Cloudflare named in report", "cloudflare quarterly earnings", false},
	}
	for _, tc := range cases {
		got := deniedByStatus(tc.status) || deniedByContent(tc.title, tc.body)
		if got != tc.want {
			t.Errorf("status=%d title=%q: denied=%v, want %v", tc.status, tc.title, got, tc.want)
		}
	}
}
