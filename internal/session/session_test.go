package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/session"
)

// fakeTab stands in for a DevTools channel. Cookie payloads can be swapped
// between calls to model the shopper's browser state moving on.
type fakeTab struct {
	mu      sync.Mutex
	cookies []*http.Cookie
	err     error
	calls   int
}

func (f *fakeTab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cookies, nil
}

func (f *fakeTab) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return nil
}

func (f *fakeTab) set(cookies []*http.Cookie, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = cookies
	f.err = err
}

var _ schemas.TabHandle = (*fakeTab)(nil)

func testProfile(targetURL string) schemas.ProfileConfig {
	return schemas.ProfileConfig{
		ProfileID:      "profile-1",
		TargetURL:      targetURL,
		EventID:        "900123",
		RequestedSeats: 2,
		Persona: schemas.Persona{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) TestShopper/99.0",
			SecChUA:         `"Chromium";v="120", "Not A Brand";v="99"`,
			SecChUAMobile:   "?0",
			SecChUAPlatform: `"Windows"`,
			AcceptLanguage:  "en-US,en;q=0.9",
		},
	}
}

func newBridgedSession(t *testing.T, tab schemas.TabHandle, targetURL string) *session.Session {
	t.Helper()
	s, err := session.CreateFromBrowser(context.Background(), tab, testProfile(targetURL), config.NetworkConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCreateFromBrowserCookieRoundTrip(t *testing.T) {
	var seen struct {
		mu      sync.Mutex
		cookies map[string]string
		headers http.Header
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.cookies = make(map[string]string)
		for _, c := range r.Cookies() {
			seen.cookies[c.Name] = c.Value
		}
		seen.headers = r.Header.Clone()
		seen.mu.Unlock()
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	tab := &fakeTab{cookies: []*http.Cookie{
		{Name: "session_id", Value: "abc123", Path: "/"},
		{Name: "queue_token", Value: "tok-9", Path: "/"},
	}}

	s := newBridgedSession(t, tab, srv.URL)

	page, err := s.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)

	seen.mu.Lock()
	defer seen.mu.Unlock()
	assert.Equal(t, "abc123", seen.cookies["session_id"], "browser cookie must reach the storefront unchanged")
	assert.Equal(t, "tok-9", seen.cookies["queue_token"])
	assert.Equal(t, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) TestShopper/99.0", seen.headers.Get("User-Agent"))
	assert.Equal(t, `"Chromium";v="120", "Not A Brand";v="99"`, seen.headers.Get("Sec-Ch-Ua"))
	assert.Equal(t, "?0", seen.headers.Get("Sec-Ch-Ua-Mobile"))
	assert.Equal(t, "en-US,en;q=0.9", seen.headers.Get("Accept-Language"))
	assert.Equal(t, "gzip, deflate, br", seen.headers.Get("Accept-Encoding"))
}

func TestRefreshCookiesMergesWithoutRebuilding(t *testing.T) {
	var seen struct {
		mu      sync.Mutex
		cookies map[string]string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.cookies = make(map[string]string)
		for _, c := range r.Cookies() {
			seen.cookies[c.Name] = c.Value
		}
		seen.mu.Unlock()
		// The storefront sets its own cookie on first contact.
		http.SetCookie(w, &http.Cookie{Name: "server_side", Value: "kept", Path: "/"})
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	tab := &fakeTab{cookies: []*http.Cookie{
		{Name: "session_id", Value: "v1", Path: "/"},
	}}

	s := newBridgedSession(t, tab, srv.URL)

	_, err := s.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)

	// The browser rotates the session cookie and gains a new one.
	tab.set([]*http.Cookie{
		{Name: "session_id", Value: "v2", Path: "/"},
		{Name: "fresh", Value: "new", Path: "/"},
	}, nil)
	require.NoError(t, s.RefreshCookies(context.Background()))

	_, err = s.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)

	seen.mu.Lock()
	defer seen.mu.Unlock()
	assert.Equal(t, "v2", seen.cookies["session_id"], "refresh must overwrite rotated cookies")
	assert.Equal(t, "new", seen.cookies["fresh"], "refresh must add cookies the browser gained")
	assert.Equal(t, "kept", seen.cookies["server_side"], "refresh must not discard cookies the client earned itself")
}

func TestRefreshFailureLeavesSessionUsable(t *testing.T) {
	var mu sync.Mutex
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session_id"); err == nil {
			mu.Lock()
			gotCookie = c.Value
			mu.Unlock()
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	tab := &fakeTab{cookies: []*http.Cookie{{Name: "session_id", Value: "v1", Path: "/"}}}
	s := newBridgedSession(t, tab, srv.URL)

	tab.set(nil, errors.New("websocket: close 1006 (abnormal closure)"))
	err := s.RefreshCookies(context.Background())
	require.Error(t, err)

	_, err = s.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, "v1", gotCookie, "a failed refresh must keep the previous jar")
	mu.Unlock()
}

func TestGetSurfacesRedirects(t *testing.T) {
	var mu sync.Mutex
	var queueReferer string
	mux := http.NewServeMux()
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/queue", http.StatusFound)
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queueReferer = r.Header.Get("Referer")
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>waiting room</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tab := &fakeTab{}
	s := newBridgedSession(t, tab, srv.URL+"/event")

	page, err := s.Get(context.Background(), srv.URL+"/event", "")
	require.NoError(t, err)
	require.True(t, page.IsRedirect(), "redirects must surface instead of being followed")
	assert.Equal(t, http.StatusFound, page.StatusCode)
	assert.Equal(t, srv.URL+"/queue", page.Location())

	hop, err := s.Get(context.Background(), page.Location(), srv.URL+"/event")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, hop.StatusCode)
	mu.Lock()
	assert.Equal(t, srv.URL+"/event", queueReferer)
	mu.Unlock()
}

func TestPostJSONContract(t *testing.T) {
	type reservePayload struct {
		EventID     string   `json:"eventId"`
		PriceLevels []string `json:"priceLevels"`
		SeatsToSet  int      `json:"seatsToSet"`
		Areas       []string `json:"areas"`
	}

	var mu sync.Mutex
	var got reservePayload
	var decodeErr error
	var contentType, accept, origin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		contentType = r.Header.Get("Content-Type")
		accept = r.Header.Get("Accept")
		origin = r.Header.Get("Origin")
		decodeErr = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tab := &fakeTab{}
	s := newBridgedSession(t, tab, srv.URL+"/event/900123")

	payload := reservePayload{
		EventID:     "900123",
		PriceLevels: []string{"1", "2"},
		SeatsToSet:  2,
		Areas:       []string{"A1"},
	}
	page, err := s.PostJSON(context.Background(), srv.URL+"/reserve", payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, decodeErr)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "application/json, text/plain, */*", accept)
	assert.Equal(t, srv.URL, origin)
	assert.Equal(t, payload, got)
}

func TestLastPageRetainsHTMLOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><script>var eventPricing = {"A1": 45.0};</script></body></html>`)
	})
	mux.HandleFunc("/reserve", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"tickets no longer available"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tab := &fakeTab{}
	s := newBridgedSession(t, tab, srv.URL+"/event")

	require.Nil(t, s.LastPage(), "no page captured before the first fetch")

	_, err := s.Get(context.Background(), srv.URL+"/event", "")
	require.NoError(t, err)
	require.Contains(t, string(s.LastPage()), "eventPricing")
	assert.Equal(t, srv.URL+"/event", s.LastPageURL())

	// A failed JSON call must not displace the captured event page.
	_, err = s.PostJSON(context.Background(), srv.URL+"/reserve", map[string]string{"eventId": "1"})
	require.NoError(t, err)
	assert.Contains(t, string(s.LastPage()), "eventPricing")
	assert.Equal(t, srv.URL+"/event", s.LastPageURL())
}

func TestCreateFromBrowserTabFailure(t *testing.T) {
	tab := &fakeTab{err: errors.New("target closed")}
	_, err := session.CreateFromBrowser(context.Background(), tab, testProfile("https://shop.example.com/event/1"), config.NetworkConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draining cookies")
}
