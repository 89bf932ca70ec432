package monitor_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/internal/monitor"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/session"
)

func redirectPage(t *testing.T, rawURL string, status int, header http.Header, body string) *session.Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	if header == nil {
		header = http.Header{}
	}
	return &session.Page{
		URL:        u,
		StatusCode: status,
		Header:     header,
		Body:       []byte(body),
	}
}

func TestDetectHTTPRedirect(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	header := http.Header{}
	header.Set("Location", "/queue/hold")
	page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusFound, header, "")
	assert.Equal(t, "https://tickets.example.com/queue/hold", r.Detect(page))

	header = http.Header{}
	header.Set("Location", "https://queue.example.net/room/7")
	page = redirectPage(t, "https://tickets.example.com/event/900123", http.StatusMovedPermanently, header, "")
	assert.Equal(t, "https://queue.example.net/room/7", r.Detect(page))

	// A 3xx without a Location header names no target.
	page = redirectPage(t, "https://tickets.example.com/event/900123", http.StatusFound, nil, "")
	assert.Empty(t, r.Detect(page))
}

func TestDetectMetaRefresh(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	cases := []struct {
		name string
		tag  string
		want string
	}{
		{
			name: "relative",
			tag:  `<meta http-equiv="refresh" content="0; url=/waiting-room">`,
			want: "https://tickets.example.com/waiting-room",
		},
		{
			name: "absolute_quoted",
			tag:  `<meta http-equiv="refresh" content="5;URL='https://queue.example.net/w'">`,
			want: "https://queue.example.net/w",
		},
		{
			name: "uppercase_equiv",
			tag:  `<meta HTTP-EQUIV="REFRESH" content="3; url=/gate">`,
			want: "https://tickets.example.com/gate",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := fmt.Sprintf(`<html><head>%s</head><body>hold tight</body></html>`, tc.tag)
			page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)
			assert.Equal(t, tc.want, r.Detect(page))
		})
	}
}

func TestDetectScriptRedirects(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	cases := []struct {
		name   string
		script string
	}{
		{"replace", `location.replace("/queue/42");`},
		{"assign", `location.assign("/queue/42");`},
		{"href", `location.href = "/queue/42";`},
		{"window_href", `window.location.href = "/queue/42";`},
		{"top_href", `top.location.href = "/queue/42";`},
		{"delayed", `setTimeout(function() { location.replace("/queue/42"); }, 3000);`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := fmt.Sprintf(`<html><body><script>%s</script></body></html>`, tc.script)
			page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)
			assert.Equal(t, "https://tickets.example.com/queue/42", r.Detect(page))
		})
	}
}

func TestDetectKeepsFirstAssignment(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	body := `<html><script>location.href = "/first"; location.replace("/second");</script></html>`
	page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)
	assert.Equal(t, "https://tickets.example.com/first", r.Detect(page))
}

func TestDetectKeepsAssignmentFromCrashingScript(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	body := `<html><script>location.href = "/queue/9"; throw new Error("boom");</script></html>`
	page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)
	assert.Equal(t, "https://tickets.example.com/queue/9", r.Detect(page))
}

func TestDetectIgnoresSelfRefresh(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	body := `<html><head><meta http-equiv="refresh" content="10; url=https://tickets.example.com/event/900123"></head></html>`
	page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)
	assert.Empty(t, r.Detect(page), "a page refreshing to itself is a countdown, not a hand-off")
}

func TestDetectIgnoresOrdinaryPages(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	cases := []struct {
		name string
		body string
	}{
		{"no_scripts", `<html><body><h1>Grand Arena</h1></body></html>`},
		{"script_without_location", `<html><script>var inventory = {};</script></html>`},
		{"script_only_reads_location", `<html><script>var here = location.href;</script></html>`},
		{"empty_body", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, tc.body)
			assert.Empty(t, r.Detect(page))
		})
	}
}

func TestDetectBoundsHostileScripts(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())

	body := `<html><script>var x = location; while (true) {}</script></html>`
	page := redirectPage(t, "https://tickets.example.com/event/900123", http.StatusOK, nil, body)

	start := time.Now()
	target := r.Detect(page)
	elapsed := time.Since(start)

	assert.Empty(t, target)
	assert.Less(t, elapsed, 5*time.Second, "the interrupt must cut the script off")
}

func TestDetectNilPage(t *testing.T) {
	r := monitor.NewRedirector(zap.NewNop())
	assert.Empty(t, r.Detect(nil))
}
