package monitor

import (
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/iahmadwaqar/ticket-scout-sub002/internal/session"
)

// decodeBudget bounds one redirect-script evaluation.
const decodeBudget = 250 * time.Millisecond

// Redirector recognizes the storefront's queue and waiting-room hand-offs:
// an HTTP 3xx, a meta refresh, or an inline script that rewrites location.
// It only names the target; following it is the loop's call.
type Redirector struct {
	logger *zap.Logger
}

func NewRedirector(logger *zap.Logger) *Redirector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redirector{logger: logger.Named("redirect")}
}

// Detect returns the absolute redirect target the page is steering toward,
// or an empty string for an ordinary storefront document.
func (r *Redirector) Detect(page *session.Page) string {
	if page == nil {
		return ""
	}
	if page.IsRedirect() {
		return page.Location()
	}
	if len(page.Body) == 0 {
		return ""
	}

	doc, err := htmlquery.Parse(strings.NewReader(string(page.Body)))
	if err != nil {
		r.logger.Debug("Page does not parse as HTML, no redirect", zap.Error(err))
		return ""
	}

	if target := metaRefreshTarget(doc); target != "" {
		return r.resolve(page, target)
	}

	for _, node := range htmlquery.Find(doc, "//script") {
		text := htmlquery.InnerText(node)
		if !strings.Contains(text, "location") {
			continue
		}
		if target := r.decodeScript(text); target != "" {
			return r.resolve(page, target)
		}
	}
	return ""
}

// metaRefreshTarget pulls the url= clause out of a meta refresh tag.
func metaRefreshTarget(doc *html.Node) string {
	for _, node := range htmlquery.Find(doc, "//meta[@http-equiv and @content]") {
		if !strings.EqualFold(htmlquery.SelectAttr(node, "http-equiv"), "refresh") {
			continue
		}
		content := htmlquery.SelectAttr(node, "content")
		idx := strings.Index(strings.ToLower(content), "url=")
		if idx < 0 {
			continue
		}
		target := strings.TrimSpace(content[idx+len("url="):])
		target = strings.Trim(target, `'"`)
		if target != "" {
			return target
		}
	}
	return ""
}

// decodeScript runs the snippet in a stubbed VM whose location object records
// whatever the script assigns. The VM gets no other host bindings and a hard
// interrupt, so an opaque queue script can at worst burn the decode budget.
func (r *Redirector) decodeScript(script string) string {
	vm := goja.New()

	var target string
	record := func(v string) {
		if target == "" && v != "" {
			target = v
		}
	}

	loc := vm.NewObject()
	_ = loc.Set("replace", record)
	_ = loc.Set("assign", record)
	_ = loc.DefineAccessorProperty("href",
		vm.ToValue(func() string { return target }),
		vm.ToValue(record),
		goja.FLAG_FALSE, goja.FLAG_TRUE)

	win := vm.NewObject()
	_ = win.Set("location", loc)
	doc := vm.NewObject()
	_ = doc.Set("location", loc)

	_ = vm.Set("location", loc)
	_ = vm.Set("window", win)
	_ = vm.Set("self", win)
	_ = vm.Set("top", win)
	_ = vm.Set("document", doc)

	// Queue pages love delayed redirects; collapsing the delay recovers the
	// target without waiting it out.
	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			_, _ = fn(goja.Undefined())
		}
		return vm.ToValue(0)
	})

	timer := time.AfterFunc(decodeBudget, func() {
		vm.Interrupt("redirect decode budget exceeded")
	})
	defer timer.Stop()

	if _, err := vm.RunString(script); err != nil {
		// The assignment may have landed before the script died; keep it.
		r.logger.Debug("Redirect script did not run cleanly", zap.Error(err))
	}
	return target
}

func (r *Redirector) resolve(page *session.Page, target string) string {
	if page.URL == nil {
		return target
	}
	u, err := page.URL.Parse(target)
	if err != nil {
		r.logger.Debug("Unresolvable redirect target", zap.String("target", target), zap.Error(err))
		return ""
	}
	resolved := u.String()
	if resolved == page.URL.String() {
		// A page refreshing to itself is a hold pattern, not a hand-off.
		return ""
	}
	return resolved
}
