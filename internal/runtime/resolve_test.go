package runtime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

func newTestResolver(t *testing.T) (*resolver, *vfs.FS) {
	t.Helper()
	fs := vfs.New()
	return newResolver(fs, newFakeShims(goja.New())), fs
}

func seed(t *testing.T, fs *vfs.FS, files map[string]string) {
	t.Helper()
	for p, content := range files {
		dir := p
		for i := len(p) - 1; i >= 0; i-- {
			if p[i] == '/' {
				dir = p[:i]
				break
			}
		}
		if dir != "" {
			if err := fs.Mkdir(dir, true); err != nil {
				t.Fatalf("mkdir %s: %v", dir, err)
			}
		}
		if err := fs.Write(p, []byte(content)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestResolveSubpathWithoutExportsUsesFile(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/pkg/package.json": `{"name":"pkg","main":"index.js"}`,
		"/node_modules/pkg/index.js":     "",
		"/node_modules/pkg/sub.js":       "",
	})
	got, err := r.resolve("pkg/sub", "/app")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/node_modules/pkg/sub.js" {
		t.Fatalf("resolved %q", got)
	}
}

func TestResolveExportsOverridesFileLayout(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/pkg/package.json": `{"name":"pkg","exports":{"./sub":{"require":"./dist/sub.js"}}}`,
		"/node_modules/pkg/sub.js":       "",
		"/node_modules/pkg/dist/sub.js":  "",
	})
	got, err := r.resolve("pkg/sub", "/app")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/node_modules/pkg/dist/sub.js" {
		t.Fatalf("resolved %q, want the exports-mapped path", got)
	}
}

func TestResolveUnknownSubpathWithExportsFails(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/pkg/package.json": `{"name":"pkg","exports":{".":{"require":"./main.js"}}}`,
		"/node_modules/pkg/main.js":      "",
		"/node_modules/pkg/hidden.js":    "",
	})
	if _, err := r.resolve("pkg/hidden", "/app"); err == nil {
		t.Fatal("subpath not named by exports resolved anyway")
	}
}

func TestResolveNegativeResultIsCached(t *testing.T) {
	r, fs := newTestResolver(t)
	if _, err := r.resolve("ghost", "/app"); err == nil {
		t.Fatal("expected not-found")
	}
	// The package appearing later doesn't help a cached negative: the
	// resolver keeps the not-found result for its whole lifetime.
	seed(t, fs, map[string]string{
		"/node_modules/ghost/package.json": `{"name":"ghost","main":"index.js"}`,
		"/node_modules/ghost/index.js":     "",
	})
	if _, err := r.resolve("ghost", "/app"); err == nil {
		t.Fatal("negative result was not cached")
	}
	if got := r.cache[resolveKey{fromDir: "/app", spec: "ghost"}]; got != notFoundSentinel {
		t.Fatalf("cache entry = %q, want the not-found sentinel", got)
	}
}

func TestResolveMainDefaultsToIndexJS(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/bare/package.json": `{"name":"bare"}`,
		"/node_modules/bare/index.js":     "",
	})
	got, err := r.resolve("bare", "/deep/nested/dir")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/node_modules/bare/index.js" {
		t.Fatalf("resolved %q", got)
	}
}

func TestResolveScopedPackageSubpath(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/@scope/pkg/package.json": `{"name":"@scope/pkg","main":"index.js"}`,
		"/node_modules/@scope/pkg/index.js":     "",
		"/node_modules/@scope/pkg/lib/util.js":  "",
	})
	got, err := r.resolve("@scope/pkg/lib/util", "/app")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/node_modules/@scope/pkg/lib/util.js" {
		t.Fatalf("resolved %q", got)
	}
}

func TestResolveDenylistByResolvedPath(t *testing.T) {
	r, fs := newTestResolver(t)
	// An installed copy of an always-redirected package must still be
	// intercepted; installation never wins over the deny-list.
	seed(t, fs, map[string]string{
		"/node_modules/prettier/package.json": `{"name":"prettier","main":"index.js"}`,
		"/node_modules/prettier/index.js":     "",
	})
	got, err := r.resolve("prettier", "/app")
	if err != nil {
		t.Fatal(err)
	}
	if got != "shim:formatter" {
		t.Fatalf("resolved %q, want shim:formatter", got)
	}
}

func TestResolveNodePrefixStripped(t *testing.T) {
	r, fs := newTestResolver(t)
	seed(t, fs, map[string]string{
		"/node_modules/leftpad/package.json": `{"name":"leftpad","main":"index.js"}`,
		"/node_modules/leftpad/index.js":     "",
	})
	got, err := r.resolve("node:leftpad", "/app")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/node_modules/leftpad/index.js" {
		t.Fatalf("resolved %q", got)
	}
}
