// Package session bridges a signed-in browser tab onto a plain HTTP client.
// Cookies flow one way, browser to jar; the jar, the profile's proxy, and the
// mirrored fingerprint headers then let the engine poll the storefront at
// HTTP speed while presenting exactly like the tab it was cloned from.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/network"
)

// Page is one storefront response as the monitoring loop sees it. Redirects
// are surfaced, not followed, so StatusCode can be a 3xx with the Location
// header intact.
type Page struct {
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsRedirect reports whether the page is an HTTP redirect.
func (p *Page) IsRedirect() bool {
	return p.StatusCode >= 300 && p.StatusCode < 400
}

// Location resolves the redirect target against the page's own URL. Returns
// an empty string when there is no Location header or it cannot be resolved.
func (p *Page) Location() string {
	loc := p.Header.Get("Location")
	if loc == "" {
		return ""
	}
	if p.URL != nil {
		if u, err := p.URL.Parse(loc); err == nil {
			return u.String()
		}
	}
	return loc
}

// Session is a browser-derived HTTP identity for one profile: the tab's
// cookies in a jar, the profile's proxy, and its fingerprint headers applied
// to every request.
type Session struct {
	profileID string
	logger    *zap.Logger

	tab       schemas.TabHandle
	persona   schemas.Persona
	targetURL *url.URL

	client  *network.Client
	capture *Capture

	// opMu serializes cookie refreshes against in-flight storefront calls
	// so a request never runs against a half-merged jar.
	opMu sync.Mutex

	// mu protects currentURL, which feeds the default Referer.
	mu         sync.RWMutex
	currentURL *url.URL
}

// CreateFromBrowser drains the tab's cookies into a fresh jar and builds the
// HTTP client around it. The tab stays attached; later refreshes read from it
// again without rebuilding the client.
func CreateFromBrowser(
	ctx context.Context,
	tab schemas.TabHandle,
	profile schemas.ProfileConfig,
	netCfg config.NetworkConfig,
	logger *zap.Logger,
) (*Session, error) {
	targetURL, err := url.Parse(profile.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", profile.TargetURL, err)
	}

	cookies, err := tab.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("draining cookies from browser for profile %s: %w", profile.ProfileID, err)
	}

	proxyURL, err := profile.Proxy.URL()
	if err != nil {
		return nil, fmt.Errorf("resolving proxy for profile %s: %w", profile.ProfileID, err)
	}

	log := logger.Named("session").With(zap.String("profile_id", profile.ProfileID))

	clientCfg := network.NewDefaultClientConfig()
	clientCfg.Logger = log.Named("httpclient")
	clientCfg.IgnoreTLSErrors = netCfg.IgnoreTLSErrors
	clientCfg.ProxyURL = proxyURL
	// QUIC cannot ride an upstream HTTP proxy, so HTTP/3 is only offered to
	// proxyless profiles.
	clientCfg.EnableHTTP3 = netCfg.EnableHTTP3 && proxyURL == nil
	if netCfg.DialTimeout > 0 {
		clientCfg.DialTimeout = netCfg.DialTimeout
	}
	if netCfg.RequestTimeout > 0 {
		clientCfg.RequestTimeout = netCfg.RequestTimeout
	}
	if netCfg.MaxIdleConnections > 0 {
		clientCfg.MaxIdleConns = netCfg.MaxIdleConnections
	}

	client := network.NewClient(clientCfg)

	jar, _ := cookiejar.New(nil)
	seedJar(jar, targetURL, cookies)
	client.Jar = jar

	capture := NewCapture(client.Transport, log.Named("capture"))
	client.Transport = capture

	s := &Session{
		profileID:  profile.ProfileID,
		logger:     log,
		tab:        tab,
		persona:    profile.Persona,
		targetURL:  targetURL,
		client:     client,
		capture:    capture,
		currentURL: targetURL,
	}

	log.Info("Session bridged from browser",
		zap.Int("cookies", len(cookies)),
		zap.Bool("proxied", proxyURL != nil),
	)
	return s, nil
}

// ProfileID reports which profile this session serves.
func (s *Session) ProfileID() string { return s.profileID }

// Get fetches rawURL with the profile's fingerprint headers. A non-empty
// referer overrides the default, which is the last page the session saw.
func (s *Session) Get(ctx context.Context, rawURL, referer string) (*Page, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %q: %w", rawURL, err)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return s.do(req)
}

// PostJSON sends payload to rawURL the way the storefront's own XHR layer
// would, with JSON content negotiation and the page origin attached.
func (s *Session) PostJSON(ctx context.Context, rawURL string, payload interface{}) (*Page, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %q: %w", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", s.origin())
	return s.do(req)
}

// RefreshCookies drains the browser tab again and merges the result into the
// jar. The client, proxy, and fingerprint headers are left untouched, so a
// refresh can never downgrade the session into an anonymous client. On error
// the jar keeps its previous contents and the caller decides whether to
// rebuild the whole session.
func (s *Session) RefreshCookies(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cookies, err := s.tab.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("refreshing cookies for profile %s: %w", s.profileID, err)
	}
	seedJar(s.client.Jar, s.targetURL, cookies)

	s.logger.Debug("Merged fresh browser cookies into session jar", zap.Int("count", len(cookies)))
	return nil
}

// LastPage returns the most recent HTML document the session fetched, or nil
// when none has been seen yet.
func (s *Session) LastPage() []byte {
	return s.capture.LastHTML()
}

// LastPageURL returns the URL the captured page was fetched from.
func (s *Session) LastPageURL() string {
	return s.capture.LastURL()
}

// CurrentURL reports the last page the session successfully landed on.
func (s *Session) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentURL == nil {
		return ""
	}
	return s.currentURL.String()
}

// Close releases pooled connections. The browser tab is owned by the caller
// and stays attached.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func (s *Session) do(req *http.Request) (*Page, error) {
	s.applyPersonaHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request for %q failed: %w", req.URL.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %q: %w", req.URL.String(), err)
	}

	page := &Page{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.setCurrentURL(resp.Request.URL)
	}
	return page, nil
}

// applyPersonaHeaders mirrors the browser's fingerprint onto the request.
// Accept-Encoding is pinned to the browser's own value; the transport has
// its automatic negotiation disabled and the decompression middleware
// decodes whatever the server picks.
func (s *Session) applyPersonaHeaders(req *http.Request) {
	if s.persona.UserAgent != "" {
		req.Header.Set("User-Agent", s.persona.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if s.persona.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.persona.AcceptLanguage)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if s.persona.SecChUA != "" {
		req.Header.Set("Sec-Ch-Ua", s.persona.SecChUA)
		req.Header.Set("Sec-Ch-Ua-Mobile", s.persona.SecChUAMobile)
		req.Header.Set("Sec-Ch-Ua-Platform", s.persona.SecChUAPlatform)
	}
	if req.Header.Get("Referer") == "" {
		s.mu.RLock()
		current := s.currentURL
		s.mu.RUnlock()
		if current != nil {
			req.Header.Set("Referer", current.String())
		}
	}
}

func (s *Session) setCurrentURL(u *url.URL) {
	if u == nil {
		return
	}
	s.mu.Lock()
	s.currentURL = u
	s.mu.Unlock()
}

func (s *Session) origin() string {
	if s.targetURL == nil {
		return ""
	}
	return s.targetURL.Scheme + "://" + s.targetURL.Host
}

// seedJar plants browser cookies into the jar grouped by the domain each
// cookie belongs to, so storefront and queue cookies coexist under the jar's
// normal matching rules. Cookies without a domain fall back to the target
// host.
func seedJar(jar http.CookieJar, fallback *url.URL, cookies []*http.Cookie) {
	groups := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" && fallback != nil {
			host = fallback.Hostname()
		}
		if host == "" {
			continue
		}
		groups[host] = append(groups[host], c)
	}
	for host, group := range groups {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host}, group)
	}
}
