package devserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/macaly/almostnode-sub000/internal/hmr"
	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

func newTestFramework(t *testing.T, fs *vfs.FS) *FrameworkServer {
	t.Helper()
	s, err := NewFramework(FrameworkOptions{
		Port:           3001,
		FS:             fs,
		Log:            zerolog.Nop(),
		HandlerTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func get(t *testing.T, s *FrameworkServer, url string, headers map[string]string) *httpmodel.ResponseRecord {
	t.Helper()
	rec, err := s.HandleRequest(context.Background(), "GET", url, headers, nil)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return rec
}

func TestStaticHomePage(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return <h1>hi</h1>; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if ct := rec.Headers["content-type"]; ct != "text/html; charset=utf-8" {
		t.Errorf("content-type = %q", ct)
	}
	body := string(rec.Body)
	if !strings.Contains(body, `<div id="__next">`) {
		t.Error("missing root element")
	}
	if !strings.Contains(body, "./pages/index.jsx") {
		t.Error("module script does not reference ./pages/index.jsx")
	}
	// Refresh preamble must precede the page module script.
	if strings.Index(body, "$RefreshRuntime$") > strings.Index(body, "./pages/index.jsx") {
		t.Error("refresh preamble does not precede the page module script")
	}
}

func TestDynamicRouteAndRouteInfo(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/users/[id].jsx": `export default function User({ params }) { return <p>{params.id}</p>; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/users/7", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if !strings.Contains(string(rec.Body), "./pages/users/[id].jsx") {
		t.Error("HTML does not reference the dynamic page module")
	}

	rec = get(t, s, "/_next/route-info?pathname=/users/7", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("route-info status = %d", rec.StatusCode)
	}
	var info struct {
		Found  bool              `json:"found"`
		Params map[string]string `json:"params"`
	}
	if err := json.Unmarshal(rec.Body, &info); err != nil {
		t.Fatal(err)
	}
	if !info.Found || info.Params["id"] != "7" {
		t.Errorf("route-info = %+v", info)
	}
}

func TestAPIHandler(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/api/hello.js": `export default function handler(req, res) { res.status(200).json({ok: true}); }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/api/hello", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d, body = %s", rec.StatusCode, rec.Body)
	}
	if ct := rec.Headers["content-type"]; ct != "application/json; charset=utf-8" {
		t.Errorf("content-type = %q", ct)
	}
	if string(rec.Body) != `{"ok":true}` {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAPIHandlerReadsRequest(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/api/echo.js": `export default function handler(req, res) {
  res.json({method: req.method, url: req.url, id: req.query.id});
}`,
		"/pages/api/[id]/echo2.js": `export default (req, res) => res.json({id: req.query.id});`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/api/echo", nil)
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body, &out); err != nil {
		t.Fatalf("body = %s: %v", rec.Body, err)
	}
	if out["method"] != "GET" || out["url"] != "/api/echo" {
		t.Errorf("echo = %v", out)
	}

	rec = get(t, s, "/api/55/echo2", nil)
	out = nil
	if err := json.Unmarshal(rec.Body, &out); err != nil {
		t.Fatalf("body = %s: %v", rec.Body, err)
	}
	if out["id"] != "55" {
		t.Errorf("dynamic api params = %v", out)
	}
}

func TestAPIHandlerPostBody(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/api/submit.js": `export default function handler(req, res) {
  const parsed = JSON.parse(req.body);
  res.status(201).json({got: parsed.name, via: req.headers["content-type"]});
}`,
	})
	s := newTestFramework(t, fs)

	rec, err := s.HandleRequest(context.Background(), "POST", "/api/submit",
		map[string]string{"Content-Type": "application/json"}, []byte(`{"name":"ada"}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec.StatusCode != 201 {
		t.Fatalf("status = %d, body = %s", rec.StatusCode, rec.Body)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body, &out); err != nil {
		t.Fatalf("body = %s: %v", rec.Body, err)
	}
	if out["got"] != "ada" {
		t.Errorf("body not tunneled: %v", out)
	}
	if out["via"] != "application/json" {
		t.Errorf("headers not lower-cased for the handler: %v", out)
	}
}

func TestAPIHandlerErrorIs500(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/api/boom.js": `export default function handler(req, res) { throw new Error("kaboom"); }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/api/boom", nil)
	if rec.StatusCode != 500 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if !strings.Contains(string(rec.Body), "error") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAppRouteHandler(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/app/layout.tsx":        `export default function Root({ children }) { return children; }`,
		"/app/page.tsx":          `export default function Home() { return <h1>app home</h1>; }`,
		"/app/api/ping/route.ts": `export async function GET() { return new Response("pong", {status: 200}); }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/api/ping", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d, body = %s", rec.StatusCode, rec.Body)
	}
	if string(rec.Body) != "pong" {
		t.Errorf("body = %q", rec.Body)
	}
}

func TestAppRouteHandlerParamsAndVerbs(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/app/page.tsx": `export default function Home() { return null; }`,
		"/app/items/[id]/route.ts": `export async function GET(req, ctx) {
  const params = await ctx.params;
  return Response.json({id: params.id});
}`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/items/9", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d, body = %s", rec.StatusCode, rec.Body)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body, &out); err != nil {
		t.Fatalf("body = %s: %v", rec.Body, err)
	}
	if out["id"] != "9" {
		t.Errorf("params = %v", out)
	}

	// Missing verb → 405.
	rec2, err := s.HandleRequest(context.Background(), "DELETE", "/items/9", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec2.StatusCode != 405 {
		t.Errorf("DELETE status = %d, want 405", rec2.StatusCode)
	}
}

func TestAppRouterLayoutComposition(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/app/layout.tsx":     `export default function Root({ children }) { return children; }`,
		"/app/a/layout.tsx":   `export default function A({ children }) { return children; }`,
		"/app/a/b/page.tsx":   `export default function B() { return null; }`,
		"/app/a/b/layout.tsx": `export default function BL({ children }) { return children; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/a/b", nil)
	body := string(rec.Body)
	i0 := strings.Index(body, "./app/layout.tsx")
	i1 := strings.Index(body, "./app/a/layout.tsx")
	i2 := strings.Index(body, "./app/a/b/layout.tsx")
	ip := strings.Index(body, "./app/a/b/page.tsx")
	if i0 < 0 || i1 < 0 || i2 < 0 || ip < 0 {
		t.Fatalf("layouts or page missing from shell:\n%s", body)
	}
	if !(i0 < i1 && i1 < i2 && i2 < ip) {
		t.Error("layout imports not in outermost-first order")
	}
	// Nesting: Layout0 wraps Layout1 wraps Layout2 wraps Page.
	if !strings.Contains(body, "React.createElement(Layout0, { params }, React.createElement(Layout1, { params }, React.createElement(Layout2, { params }, React.createElement(Page, { params }))))") {
		t.Errorf("nesting expression wrong:\n%s", body)
	}
}

func TestTransformServeAndCacheMarker(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return <h1>hi</h1>; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/pages/index.jsx", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if rec.Headers["content-type"] != "application/javascript" {
		t.Errorf("content-type = %q", rec.Headers["content-type"])
	}
	if _, hit := rec.Headers["x-transform-cache"]; hit {
		t.Error("first serve claimed a cache hit")
	}
	rec = get(t, s, "/pages/index.jsx", nil)
	if rec.Headers["x-transform-cache"] != "hit" {
		t.Error("second serve missed the cache")
	}
}

func TestTransformErrorServedAsConsoleError(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
		"/broken.ts":       `const = ;`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/broken.ts", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d, transform errors must serve 200", rec.StatusCode)
	}
	if rec.Headers["x-transform-error"] != "1" {
		t.Error("missing error marker header")
	}
	if !strings.HasPrefix(string(rec.Body), "console.error(") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestCSSModuleVsStylesheet(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
		"/styles/app.css":  "body { margin: 0 }",
	})
	s := newTestFramework(t, fs)

	raw := get(t, s, "/styles/app.css", map[string]string{"sec-fetch-dest": "style"})
	if raw.Headers["content-type"] != "text/css; charset=utf-8" {
		t.Errorf("stylesheet content-type = %q", raw.Headers["content-type"])
	}
	if string(raw.Body) != "body { margin: 0 }" {
		t.Errorf("stylesheet body = %q", raw.Body)
	}

	mod := get(t, s, "/styles/app.css", map[string]string{"sec-fetch-dest": "script"})
	if mod.Headers["content-type"] != "application/javascript" {
		t.Errorf("module content-type = %q", mod.Headers["content-type"])
	}
	if !strings.Contains(string(mod.Body), "export default css") {
		t.Errorf("module body = %s", mod.Body)
	}
}

func TestShimEndpointAndImportMap(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/_next/shims/link.js", nil)
	if rec.StatusCode != 200 || rec.Headers["content-type"] != "application/javascript" {
		t.Fatalf("shim serve: %d %q", rec.StatusCode, rec.Headers["content-type"])
	}
	if !strings.Contains(string(rec.Body), "export default function Link") {
		t.Errorf("link shim body = %s", rec.Body)
	}

	rec = get(t, s, "/_next/shims/font/google.js", nil)
	if rec.StatusCode != 200 {
		t.Errorf("nested shim status = %d", rec.StatusCode)
	}

	home := get(t, s, "/", nil)
	if !strings.Contains(string(home.Body), `"next/link":"/__virtual__/3001/_next/shims/link.js"`) {
		t.Error("import map missing next/link alias")
	}
}

func TestPublicFileServedVerbatim(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx":  `export default function Home() { return null; }`,
		"/public/robots.txt": "User-agent: *",
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/robots.txt", nil)
	if rec.StatusCode != 200 || string(rec.Body) != "User-agent: *" {
		t.Errorf("public serve: %d %q", rec.StatusCode, rec.Body)
	}
}

func TestNotFoundFallbackAndCustom404(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/missing", nil)
	if rec.StatusCode != 404 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if !strings.Contains(string(rec.Body), "404") {
		t.Error("fallback body missing 404")
	}

	// With a custom 404 page the same pipeline renders it, still 404.
	fs2 := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
		"/pages/404.jsx":   `export default function NotFound() { return <h1>lost</h1>; }`,
	})
	s2 := newTestFramework(t, fs2)
	rec = get(t, s2, "/missing", nil)
	if rec.StatusCode != 404 {
		t.Fatalf("custom status = %d", rec.StatusCode)
	}
	if !strings.Contains(string(rec.Body), "./pages/404.jsx") {
		t.Error("custom 404 not rendered through the page pipeline")
	}
}

func TestBasePathAndAssetPrefixStripping(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/next.config.js":  `module.exports = { basePath: "/docs" }`,
		"/pages/index.jsx": `export default function Home() { return null; }`,
	})
	s := newTestFramework(t, fs)

	rec := get(t, s, "/docs/", nil)
	if rec.StatusCode != 200 {
		t.Fatalf("status = %d", rec.StatusCode)
	}
	if !strings.Contains(string(rec.Body), "./pages/index.jsx") {
		t.Error("basePath-prefixed request did not resolve the home page")
	}
}

func TestHMRUpdateDelivery(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return <h1>hi</h1>; }`,
	})
	s := newTestFramework(t, fs)

	got := make(chan hmr.HMRUpdate, 4)
	s.SetIframeTarget(func(u hmr.HMRUpdate) { got <- u })

	if err := fs.Write("/pages/index.jsx", []byte(`export default function Home() { return <h1>edited</h1>; }`)); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-got:
		if u.Kind != hmr.KindUpdate {
			t.Errorf("kind = %q, want update", u.Kind)
		}
		if u.Path != "/pages/index.jsx" {
			t.Errorf("path = %q", u.Path)
		}
		if u.ChannelTag != "next-hmr" {
			t.Errorf("channel = %q", u.ChannelTag)
		}
		if u.TimestampMS == 0 {
			t.Error("timestamp missing")
		}
	case <-time.After(time.Second):
		t.Fatal("no HMR update within one second of the write")
	}

	// Re-fetching the module returns the new transformed source.
	rec := get(t, s, "/pages/index.jsx?t=123", nil)
	if !strings.Contains(string(rec.Body), "edited") {
		t.Error("re-fetch served stale code after edit")
	}
}

func TestHMRFullReloadForOtherExtensions(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
	})
	s := newTestFramework(t, fs)

	got := make(chan hmr.HMRUpdate, 4)
	s.SetIframeTarget(func(u hmr.HMRUpdate) { got <- u })

	if err := fs.Write("/data.yaml", []byte("a: 1")); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-got:
		if u.Kind != hmr.KindFullReload {
			t.Errorf("kind = %q, want full-reload", u.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no HMR message for non-source write")
	}
}

func TestRegistryRegistrationOnConstruct(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx": `export default function Home() { return null; }`,
	})
	var events []string
	reg := httpmodel.NewRegistry(func(event string, port int) {
		events = append(events, event)
	})
	s, err := NewFramework(FrameworkOptions{Port: 3005, FS: fs, Registry: reg, Log: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if len(events) != 1 || events[0] != "register" {
		t.Fatalf("events = %v", events)
	}
	rec, err := reg.Dispatch(context.Background(), 3005, "GET", "/__virtual__/3005/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.StatusCode != 200 {
		t.Errorf("dispatch through registry status = %d", rec.StatusCode)
	}
}
