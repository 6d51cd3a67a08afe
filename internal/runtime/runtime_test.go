package runtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// fakeShims is a minimal ShimTable for runtime tests: it only knows
// "shim:process" and "shim:console", both cheap stand-ins, and otherwise
// reports every specifier as "not a host primitive" so tests exercise the
// VFS/node_modules resolution path instead.
type fakeShims struct {
	vm *goja.Runtime
}

func newFakeShims(vm *goja.Runtime) *fakeShims {
	return &fakeShims{vm: vm}
}

func (s *fakeShims) Lookup(specifier string) (string, bool) {
	return "", false
}

func (s *fakeShims) Get(shimID string) (goja.Value, bool) {
	switch shimID {
	case "shim:process":
		obj := s.vm.NewObject()
		_ = obj.Set("env", s.vm.NewObject())
		_ = obj.Set("platform", "browser")
		return obj, true
	case "shim:console":
		obj := s.vm.NewObject()
		return obj, true
	}
	return nil, false
}

func newTestRuntime(t *testing.T) (*Runtime, *vfs.FS) {
	t.Helper()
	fs := vfs.New()
	// vfs.Write does not create parent directories, so the directories
	// these tests write into are created up front.
	for _, dir := range []string{"/app/src/deep/nested", "/app/node_modules/pkg", "/app/node_modules/dep", "/lib"} {
		if err := fs.Mkdir(dir, true); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	vm := goja.New()
	shims := newFakeShims(vm)
	rt := &Runtime{
		vm:    vm,
		fs:    fs,
		shims: shims,
		cache: newModuleCache(0),
		ops:   make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	rt.resolver = newResolver(fs, shims)
	go rt.loop()
	t.Cleanup(rt.Close)
	return rt, fs
}

func TestExecuteSimpleModule(t *testing.T) {
	rt, _ := newTestRuntime(t)
	exports, err := rt.Execute(`module.exports = { value: 42 };`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if got := obj.Get("value").ToInteger(); got != 42 {
		t.Fatalf("value = %d, want 42", got)
	}
}

func TestRequireRelativeModule(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/lib.js", []byte(`module.exports = { greet: function(){ return "hi"; } };`)); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	exports, err := rt.Execute(`
		const lib = require("./lib");
		module.exports = lib.greet();
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := exports.String(); got != "hi" {
		t.Fatalf("exports = %q, want %q", got, "hi")
	}
}

func TestRequireMissingModuleReportsModuleNotFoundError(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.Execute(`require("./nope");`, "/app/index.js")
	if err == nil {
		t.Fatal("expected an error for a missing module")
	}
	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error %v is not a *ModuleNotFoundError", err)
	}
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("error %v does not unwrap to ErrModuleNotFound", err)
	}
}

func TestRequireCyclicModulesSeePartialExports(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/a.js", []byte(`
		exports.name = "a";
		const b = require("./b");
		exports.bName = b.name;
	`)); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("/app/b.js", []byte(`
		exports.name = "b";
		const a = require("./a");
		exports.aNameAtLoad = a.name;
	`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`module.exports = require("./a");`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if got := obj.Get("name").String(); got != "a" {
		t.Fatalf("a.name = %q, want %q", got, "a")
	}
	if got := obj.Get("bName").String(); got != "b" {
		t.Fatalf("a.bName = %q, want %q", got, "b")
	}
}

func TestRequireSameModuleTwiceReturnsSameExportsObject(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/counter.js", []byte(`
		let n = 0;
		module.exports = { inc: function(){ n += 1; return n; } };
	`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`
		const a = require("./counter");
		const b = require("./counter");
		module.exports = { same: a === b, first: a.inc(), second: b.inc() };
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if !obj.Get("same").ToBoolean() {
		t.Fatal("expected require(...) to return the identical cached exports object")
	}
	if got := obj.Get("second").ToInteger(); got != 2 {
		t.Fatalf("second = %d, want 2 (state preserved across requires)", got)
	}
}

func TestESMDefaultAndNamedExportsInterop(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/esm.js", []byte(`
export const value = 7;
export default function greet() { return "hi"; }
`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`
		const mod = require("./esm");
		module.exports = { value: mod.value, greet: mod.default() };
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if got := obj.Get("value").ToInteger(); got != 7 {
		t.Fatalf("value = %d, want 7", got)
	}
	if got := obj.Get("greet").String(); got != "hi" {
		t.Fatalf("greet = %q, want %q", got, "hi")
	}
}

func TestESMDefaultOnlyExportUnwraps(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/only.js", []byte(`
export default function greet() { return "hi"; }
`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`
		const m = require("./only");
		module.exports = { isFn: typeof m === "function", selfDefault: m.default === m, value: m() };
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if !obj.Get("isFn").ToBoolean() {
		t.Fatal("default-only module did not unwrap to the default value")
	}
	if !obj.Get("selfDefault").ToBoolean() {
		t.Fatal("exports.default !== exports for default-only module")
	}
	if got := obj.Get("value").String(); got != "hi" {
		t.Fatalf("value = %q, want %q", got, "hi")
	}
}

func TestPackageJSONExportsFieldResolution(t *testing.T) {
	rt, fs := newTestRuntime(t)
	manifest := `{"name":"pkg","exports":{".":{"require":"./main.js"},"./feature":{"require":"./feature.js"}}}`
	if err := fs.Write("/app/node_modules/pkg/package.json", []byte(manifest)); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("/app/node_modules/pkg/main.js", []byte(`module.exports = "main";`)); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("/app/node_modules/pkg/feature.js", []byte(`module.exports = "feature";`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`
		module.exports = { a: require("pkg"), b: require("pkg/feature") };
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if got := obj.Get("a").String(); got != "main" {
		t.Fatalf("a = %q, want %q", got, "main")
	}
	if got := obj.Get("b").String(); got != "feature" {
		t.Fatalf("b = %q, want %q", got, "feature")
	}
}

func TestNodeModulesWalkUpThroughAncestors(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/node_modules/dep/package.json", []byte(`{"name":"dep","main":"index.js"}`)); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("/app/node_modules/dep/index.js", []byte(`module.exports = "dep";`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`module.exports = require("dep");`, "/app/src/deep/nested/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := exports.String(); got != "dep" {
		t.Fatalf("exports = %q, want %q", got, "dep")
	}
}

func TestClearCacheForcesReexecution(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/once.js", []byte(`module.exports = Math.random !== undefined;`)); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.RunFile("/app/once.js"); err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if _, ok := rt.cache.get("/app/once.js"); !ok {
		t.Fatal("expected module to be cached after first run")
	}
	rt.ClearCache()
	if _, ok := rt.cache.get("/app/once.js"); ok {
		t.Fatal("expected ClearCache to evict the cached module")
	}
}

func TestModuleChildrenRecordedInRequireOrder(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/first.js", []byte(`module.exports = 1;`)); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("/app/second.js", []byte(`module.exports = 2;`)); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Execute(`
		require("./second");
		require("./first");
	`, "/app/main.js"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	mod, ok := rt.cache.get("/app/main.js")
	if !ok {
		t.Fatal("main module not cached")
	}
	if len(mod.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(mod.Children))
	}
	if mod.Children[0].Path != "/app/second.js" || mod.Children[1].Path != "/app/first.js" {
		t.Fatalf("children order = [%s, %s]", mod.Children[0].Path, mod.Children[1].Path)
	}
}

func TestClearCacheReloadIsDeepEqualNotIdentical(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/data.js", []byte(`module.exports = { n: 1, tag: "stable" };`)); err != nil {
		t.Fatal(err)
	}
	first, err := rt.RunFile("/app/data.js")
	if err != nil {
		t.Fatal(err)
	}
	rt.ClearCache()
	second, err := rt.RunFile("/app/data.js")
	if err != nil {
		t.Fatal(err)
	}
	f := first.ToObject(nil)
	s := second.ToObject(nil)
	if f == s {
		t.Fatal("re-require after ClearCache returned the identical object")
	}
	if f.Get("n").ToInteger() != s.Get("n").ToInteger() || f.Get("tag").String() != s.Get("tag").String() {
		t.Fatal("re-require of unchanged content is not deep-equal")
	}
}

func TestDynamicImportWrapsCJSNamespace(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/app/cjs.js", []byte(`module.exports = { named: 5 };`)); err != nil {
		t.Fatal(err)
	}
	// The dynamic-import promise settles synchronously in this runtime, so
	// the captured namespace is observable right after Execute returns.
	exports, err := rt.Execute(`
		let ns = null;
		import("./cjs").then((m) => { ns = m; });
		module.exports = { get: function(){ return ns; } };
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	getFn, ok := goja.AssertFunction(obj.Get("get"))
	if !ok {
		t.Fatal("missing accessor")
	}
	nsVal, err := getFn(goja.Undefined())
	if err != nil {
		t.Fatal(err)
	}
	ns := nsVal.ToObject(nil)
	if ns == nil {
		t.Fatal("namespace not captured; dynamic import did not settle")
	}
	if ns.Get("named").ToInteger() != 5 {
		t.Error("named member missing from namespace")
	}
	def := ns.Get("default")
	if def == nil || goja.IsUndefined(def) {
		t.Error("default member missing from CJS-wrapped namespace")
	}
}

func TestModuleBuiltinCreateRequireSharesCache(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/lib/state.js", []byte(`
		let n = 0;
		module.exports = { inc: function(){ n += 1; return n; } };
	`)); err != nil {
		t.Fatal(err)
	}
	exports, err := rt.Execute(`
		const { createRequire, isBuiltin } = require("module");
		const req = createRequire("file:///lib/main.js");
		const viaCreated = req("./state");
		viaCreated.inc();
		const viaNormal = require("/lib/state.js");
		module.exports = {
			shared: viaCreated === viaNormal,
			count: viaNormal.inc(),
			builtin: isBuiltin("node:path"),
		};
	`, "/app/index.js")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	obj := exports.ToObject(nil)
	if !obj.Get("shared").ToBoolean() {
		t.Fatal("createRequire does not share the module cache")
	}
	if got := obj.Get("count").ToInteger(); got != 2 {
		t.Fatalf("count = %d, want 2 (state shared across require paths)", got)
	}
	if !obj.Get("builtin").ToBoolean() {
		t.Fatal("isBuiltin(node:path) = false")
	}
}

func TestCreateRequireBindsDirectory(t *testing.T) {
	rt, fs := newTestRuntime(t)
	if err := fs.Write("/lib/helper.js", []byte(`module.exports = "from lib";`)); err != nil {
		t.Fatal(err)
	}
	req := rt.CreateRequire("file:///lib/main.js")
	var got goja.Value
	err := rt.run(func() error {
		got = req(goja.FunctionCall{Arguments: []goja.Value{rt.vm.ToValue("./helper")}})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "from lib" {
		t.Fatalf("createRequire result = %q", got)
	}
}

func TestResolveDenylistRedirectsToShim(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.Execute(`require("esbuild");`, "/app/index.js")
	// The fakeShims test double doesn't implement "shim:bundler", so this
	// should fail with ModuleNotFoundError rather than falling through to
	// VFS resolution (which would also fail, but for the wrong reason) —
	// asserting the denylist redirect actually fired.
	if err == nil {
		t.Fatal("expected an error since fakeShims has no shim:bundler")
	}
	if !strings.Contains(err.Error(), "esbuild") {
		t.Fatalf("error %v does not reference the original specifier", err)
	}
}
