package session

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pages above this size are kept truncated. Event pages with embedded
// inventory sit well below it.
const maxCapturedBytes = 2 << 20

// Capture is a RoundTripper middleware that retains the most recent HTML
// document the session fetched. A rejected reserve call needs that page for
// seat analysis, and by then the monitoring loop has already consumed the
// response body.
type Capture struct {
	transport http.RoundTripper
	logger    *zap.Logger

	mu        sync.Mutex
	lastHTML  []byte
	lastURL   string
	fetchedAt time.Time
}

// NewCapture wraps transport. It sits outside the decompression middleware
// so the retained page is already decoded.
func NewCapture(transport http.RoundTripper, logger *zap.Logger) *Capture {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{
		transport: transport,
		logger:    logger,
	}
}

// RoundTrip executes the request and snapshots successful HTML responses.
// Non-HTML traffic, redirects, and errors pass through untouched, so a JSON
// error body never displaces the event page.
func (c *Capture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !strings.Contains(contentType, "text/html") || resp.Body == nil {
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		c.logger.Warn("Failed to read response body for page capture.", zap.Error(readErr))
	}
	// Restore the body for the consumer.
	resp.Body = io.NopCloser(bytes.NewReader(body))

	snapshot := body
	if len(snapshot) > maxCapturedBytes {
		snapshot = snapshot[:maxCapturedBytes]
	}

	c.mu.Lock()
	c.lastHTML = snapshot
	c.lastURL = req.URL.String()
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return resp, nil
}

// LastHTML returns a copy of the retained page, or nil when nothing HTML has
// been fetched yet.
func (c *Capture) LastHTML() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHTML == nil {
		return nil
	}
	return append([]byte(nil), c.lastHTML...)
}

// LastURL returns the URL the retained page came from.
func (c *Capture) LastURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastURL
}

// FetchedAt returns when the retained page was fetched.
func (c *Capture) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}
