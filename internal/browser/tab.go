package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
)

// Tab is a live DevTools channel to the storefront tab of one profile's
// browser. It implements schemas.TabHandle for the session layer, which
// treats the tab as the source of truth for cookies.
type Tab struct {
	profileID string
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

var _ schemas.TabHandle = (*Tab)(nil)

// ProfileID reports which profile this channel belongs to.
func (t *Tab) ProfileID() string {
	return t.profileID
}

// Cookies returns every cookie visible to the page currently loaded in the
// tab, converted so they can seed a net/http cookie jar.
func (t *Tab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	runCtx, cancel := combineContext(t.ctx, ctx)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies from tab for profile %s: %w", t.profileID, err)
	}

	t.logger.Debug("Collected cookies from browser tab", zap.Int("count", len(raw)))
	return convertCookies(raw), nil
}

// Evaluate runs a JavaScript expression in the page and unmarshals its result
// into out. A nil out discards the result.
func (t *Tab) Evaluate(ctx context.Context, expression string, out interface{}) error {
	runCtx, cancel := combineContext(t.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluating expression in tab for profile %s: %w", t.profileID, err)
	}
	return nil
}

// Close drops the DevTools channel. The browser and its tab stay up; only
// the engine's view of them goes away. Safe to call more than once.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.onClose != nil {
			t.onClose()
		}
		t.logger.Debug("Browser tab channel closed")
	})
}

// convertCookies maps DevTools cookie records onto net/http cookies. DevTools
// reports Expires as seconds since the epoch with -1 for session cookies;
// those come through with a zero Expires, which the jar treats as session
// scoped.
func convertCookies(raw []*network.Cookie) []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		var expires time.Time
		if c.Expires > 0 {
			expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			SameSite: convertSameSite(c.SameSite),
		})
	}
	return cookies
}

func convertSameSite(s network.CookieSameSite) http.SameSite {
	switch s {
	case network.CookieSameSiteStrict:
		return http.SameSiteStrictMode
	case network.CookieSameSiteLax:
		return http.SameSiteLaxMode
	case network.CookieSameSiteNone:
		return http.SameSiteNoneMode
	default:
		return 0
	}
}
