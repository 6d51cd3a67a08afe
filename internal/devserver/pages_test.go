package devserver

import (
	"testing"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

func seedFS(t *testing.T, files map[string]string) *vfs.FS {
	t.Helper()
	fs := vfs.New()
	for p, content := range files {
		dir := p[:lastSlash(p)]
		if dir != "" {
			if err := fs.Mkdir(dir, true); err != nil {
				t.Fatalf("mkdir %s: %v", dir, err)
			}
		}
		if err := fs.Write(p, []byte(content)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return fs
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return 0
}

func TestResolvePagesRoute(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/index.jsx":           "home",
		"/pages/about.tsx":           "about",
		"/pages/blog/index.jsx":      "blog",
		"/pages/users/[id].jsx":      "user",
		"/pages/users/index.jsx":     "users",
		"/pages/docs/[...slug].tsx":  "docs",
		"/pages/shop/[cat]/item.jsx": "item",
	})

	tests := []struct {
		pathname string
		wantFile string
		params   map[string]string
		found    bool
	}{
		{"/", "/pages/index.jsx", map[string]string{}, true},
		{"/about", "/pages/about.tsx", map[string]string{}, true},
		{"/blog", "/pages/blog/index.jsx", map[string]string{}, true},
		{"/users", "/pages/users/index.jsx", map[string]string{}, true},
		{"/users/42", "/pages/users/[id].jsx", map[string]string{"id": "42"}, true},
		{"/users/42/extra", "", nil, false},
		{"/docs/a/b/c", "/pages/docs/[...slug].tsx", map[string]string{"slug": "a/b/c"}, true},
		{"/shop/tools/item", "/pages/shop/[cat]/item.jsx", map[string]string{"cat": "tools"}, true},
		{"/missing", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.pathname, func(t *testing.T) {
			res := resolvePagesRoute(fs, "/pages", tt.pathname)
			if (res.Kind == RoutePage) != tt.found {
				t.Fatalf("found = %v, want %v", res.Kind == RoutePage, tt.found)
			}
			if !tt.found {
				return
			}
			if res.File != tt.wantFile {
				t.Errorf("file = %q, want %q", res.File, tt.wantFile)
			}
			if len(res.Params) != len(tt.params) {
				t.Fatalf("params = %v, want %v", res.Params, tt.params)
			}
			for k, v := range tt.params {
				if res.Params[k] != v {
					t.Errorf("params[%s] = %q, want %q", k, res.Params[k], v)
				}
			}
		})
	}
}

func TestStaticBeatsDynamic(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/users/me.jsx":   "static",
		"/pages/users/[id].jsx": "dynamic",
	})
	res := resolvePagesRoute(fs, "/pages", "/users/me")
	if res.File != "/pages/users/me.jsx" {
		t.Errorf("file = %q, static segment should win over [id]", res.File)
	}
	res = resolvePagesRoute(fs, "/pages", "/users/you")
	if res.File != "/pages/users/[id].jsx" {
		t.Errorf("file = %q, dynamic should match non-static segment", res.File)
	}
}

func TestDynamicBeatsCatchAll(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/pages/a/[id].jsx":      "dynamic",
		"/pages/a/[...rest].jsx": "catchall",
	})
	res := resolvePagesRoute(fs, "/pages", "/a/one")
	if res.File != "/pages/a/[id].jsx" {
		t.Errorf("file = %q, single dynamic should beat catch-all", res.File)
	}
	res = resolvePagesRoute(fs, "/pages", "/a/one/two")
	if res.File != "/pages/a/[...rest].jsx" {
		t.Errorf("file = %q, multi-segment tail needs the catch-all", res.File)
	}
	if res.Params["rest"] != "one/two" {
		t.Errorf("rest = %q, want one/two", res.Params["rest"])
	}
}

func TestResolveAppRoute(t *testing.T) {
	fs := seedFS(t, map[string]string{
		"/app/layout.tsx":          "root layout",
		"/app/page.tsx":            "home",
		"/app/a/layout.tsx":        "a layout",
		"/app/a/b/page.tsx":        "ab page",
		"/app/api/ping/route.ts":   "ping",
		"/app/users/[id]/page.tsx": "user",
	})

	res := resolveAppRoute(fs, "/app", "/")
	if res.Kind != RoutePage || res.File != "/app/page.tsx" {
		t.Fatalf("root: %+v", res)
	}
	if len(res.LayoutChain) != 1 || res.LayoutChain[0] != "/app/layout.tsx" {
		t.Errorf("root layout chain = %v", res.LayoutChain)
	}

	res = resolveAppRoute(fs, "/app", "/a/b")
	if res.Kind != RoutePage || res.File != "/app/a/b/page.tsx" {
		t.Fatalf("/a/b: %+v", res)
	}
	wantChain := []string{"/app/layout.tsx", "/app/a/layout.tsx"}
	if len(res.LayoutChain) != len(wantChain) {
		t.Fatalf("chain = %v, want %v", res.LayoutChain, wantChain)
	}
	for i := range wantChain {
		if res.LayoutChain[i] != wantChain[i] {
			t.Errorf("chain[%d] = %q, want %q (outermost first)", i, res.LayoutChain[i], wantChain[i])
		}
	}

	res = resolveAppRoute(fs, "/app", "/api/ping")
	if res.Kind != RouteRouteHandler || res.File != "/app/api/ping/route.ts" {
		t.Fatalf("/api/ping: %+v", res)
	}

	res = resolveAppRoute(fs, "/app", "/users/7")
	if res.Kind != RoutePage || res.Params["id"] != "7" {
		t.Fatalf("/users/7: %+v", res)
	}

	res = resolveAppRoute(fs, "/app", "/nope")
	if res.Kind != RouteNotFound {
		t.Fatalf("/nope resolved: %+v", res)
	}
}

func TestStripPrefixes(t *testing.T) {
	tests := []struct {
		p, prefix, want string
	}{
		{"/__virtual__/3001/users/4", "", "/users/4"},
		{"/__virtual__/3001", "", "/"},
		{"/cdn/about", "/cdn", "/about"},
		{"/cdn//about", "/cdn", "/about"},
		{"/cdnX/about", "/cdn", "/cdnX/about"},
		{"/about", "/cdn", "/about"},
		{"/cdn", "/cdn", "/"},
	}
	for _, tt := range tests {
		got := stripVirtualPrefix(tt.p)
		got = stripConfiguredPrefix(got, tt.prefix)
		if got != tt.want {
			t.Errorf("strip(%q, %q) = %q, want %q", tt.p, tt.prefix, got, tt.want)
		}
	}
}
