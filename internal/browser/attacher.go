// Package browser attaches the engine to Chrome instances that the profile
// provisioner has already launched and signed in. The engine never starts,
// navigates, or kills a browser on its own; it only opens DevTools channels
// to read session state out of the tabs it is handed.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
)

// Attacher opens and tracks DevTools channels, one per profile. Each channel
// binds to the existing storefront tab rather than spawning a new one, so the
// cookies and JavaScript state the shopper established stay visible.
type Attacher struct {
	logger *zap.Logger

	mu   sync.Mutex
	tabs map[string]*Tab
}

// NewAttacher creates the attachment tracker.
func NewAttacher(logger *zap.Logger) *Attacher {
	return &Attacher{
		logger: logger.Named("browser_attacher"),
		tabs:   make(map[string]*Tab),
	}
}

// Attach connects to the remote debugging endpoint named in the profile and
// binds to the page target holding the storefront session. The returned tab
// stays usable until ctx ends, Close is called, or the browser goes away.
func (a *Attacher) Attach(ctx context.Context, profile schemas.ProfileConfig) (*Tab, error) {
	if profile.DebuggerURL == "" {
		return nil, fmt.Errorf("profile %s has no debugger URL", profile.ProfileID)
	}
	if _, err := url.Parse(profile.DebuggerURL); err != nil {
		return nil, fmt.Errorf("invalid debugger URL %q: %w", profile.DebuggerURL, err)
	}

	// 1. Dial the browser. The remote allocator resolves http:// endpoints
	// through the DevTools discovery document, so both ws:// and http://
	// forms of the debugger URL work here.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, profile.DebuggerURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(a.logger.Sugar().Debugf),
		chromedp.WithErrorf(a.logger.Sugar().Errorf),
	)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	// 2. Find the tab the provisioner parked on the storefront. Creating a
	// fresh target here would hand back a blank tab with none of the
	// shopper's cookies, which defeats the whole attachment.
	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("listing browser targets for profile %s: %w", profile.ProfileID, err)
	}
	info, err := pickTarget(infos, profile.TargetURL)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("profile %s: %w", profile.ProfileID, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))

	// 3. Prove the channel works before handing it out. readyState is a
	// read that never disturbs the page.
	var readyState string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate("document.readyState", &readyState)); err != nil {
		tabCancel()
		cleanup()
		return nil, fmt.Errorf("attaching to tab for profile %s: %w", profile.ProfileID, err)
	}

	tab := &Tab{
		profileID: profile.ProfileID,
		logger:    a.logger.Named("tab").With(zap.String("profile_id", profile.ProfileID)),
		ctx:       tabCtx,
		cancel: func() {
			tabCancel()
			cleanup()
		},
		onClose: func() { a.detach(profile.ProfileID) },
	}

	a.mu.Lock()
	if _, exists := a.tabs[profile.ProfileID]; exists {
		a.mu.Unlock()
		tab.cancel()
		return nil, fmt.Errorf("profile %s is already attached", profile.ProfileID)
	}
	a.tabs[profile.ProfileID] = tab
	a.mu.Unlock()

	a.logger.Info("Attached to browser tab",
		zap.String("profile_id", profile.ProfileID),
		zap.String("target_url", info.URL),
		zap.String("ready_state", readyState),
	)
	return tab, nil
}

// detach removes the tab from the tracking map. Called by Tab.Close.
func (a *Attacher) detach(profileID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tabs, profileID)
}

// Shutdown drops every open channel. The browsers themselves keep running;
// the provisioner owns those processes.
func (a *Attacher) Shutdown(ctx context.Context) error {
	a.logger.Info("Closing browser attachments...")

	a.mu.Lock()
	open := make([]*Tab, 0, len(a.tabs))
	for _, tab := range a.tabs {
		open = append(open, tab)
	}
	a.tabs = make(map[string]*Tab)
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, tab := range open {
		wg.Add(1)
		go func(t *Tab) {
			defer wg.Done()
			t.Close()
		}(tab)
	}
	wg.Wait()

	a.logger.Info("Browser attachments closed", zap.Int("count", len(open)))
	return nil
}

// pickTarget selects the page target that holds the storefront session.
// Preference order: a page whose URL sits under targetURL's host, then the
// only page if the browser has exactly one. DevTools and extension surfaces
// are never candidates.
func pickTarget(infos []*target.Info, targetURL string) (*target.Info, error) {
	wantHost := ""
	if u, err := url.Parse(targetURL); err == nil {
		wantHost = u.Host
	}

	var pages []*target.Info
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if strings.HasPrefix(info.URL, "devtools://") || strings.HasPrefix(info.URL, "chrome-extension://") {
			continue
		}
		pages = append(pages, info)
	}

	if wantHost != "" {
		for _, info := range pages {
			if u, err := url.Parse(info.URL); err == nil && u.Host == wantHost {
				return info, nil
			}
		}
	}
	if len(pages) == 1 {
		return pages[0], nil
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("browser has no page targets to attach to")
	}
	return nil, fmt.Errorf("browser has %d page targets and none match host %q", len(pages), wantHost)
}
