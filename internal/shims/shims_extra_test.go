package shims

import (
	"testing"

	"github.com/dop251/goja"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

func TestURLParseAndSearchParams(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:url")
	_ = vm.Set("url", v)

	got, err := vm.RunString(`
		const u = new url.URL("https://example.com:8080/a/b?x=1&y=2#frag");
		u.protocol + " " + u.hostname + " " + u.port + " " + u.pathname + " " + u.searchParams.get("y") + " " + u.hash;
	`)
	if err != nil {
		t.Fatal(err)
	}
	want := "https: example.com 8080 /a/b 2 #frag"
	if got.String() != want {
		t.Fatalf("URL fields = %q, want %q", got, want)
	}
}

func TestURLRelativeBase(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:url")
	_ = vm.Set("url", v)

	got, err := vm.RunString(`new url.URL("../x", "https://h/a/b/c").pathname`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "/a/x" {
		t.Fatalf("resolved pathname = %q, want /a/x", got)
	}
}

func TestUtilFormat(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:util")
	_ = vm.Set("util", v)

	got, err := vm.RunString(`util.format("%s has %d items", "cart", 3, "extra")`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "cart has 3 items extra" {
		t.Fatalf("format = %q", got)
	}
}

func TestUtilPromisify(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:util")
	_ = vm.Set("util", v)

	// The then-callback runs as a microtask after the first script's stack
	// unwinds, so the result is read in a second evaluation.
	if _, err := vm.RunString(`
		globalThis.result = null;
		const fn = util.promisify((a, cb) => cb(null, a * 2));
		fn(21).then((v) => { globalThis.result = v; });
	`); err != nil {
		t.Fatal(err)
	}
	got, err := vm.RunString(`globalThis.result`)
	if err != nil {
		t.Fatal(err)
	}
	if got.ToInteger() != 42 {
		t.Fatalf("promisified result = %v, want 42", got)
	}
}

func TestQuerystringRoundTrip(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:querystring")
	_ = vm.Set("qs", v)

	got, err := vm.RunString(`qs.parse("a=1&b=two").b`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "two" {
		t.Fatalf("parse = %q", got)
	}

	got, err = vm.RunString(`qs.stringify({k: "v w"})`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "k=v+w" {
		t.Fatalf("stringify = %q", got)
	}
}

func TestOSFixedValues(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	v, _ := table.Get("shim:os")
	_ = vm.Set("os", v)

	got, err := vm.RunString(`os.platform() + " " + os.tmpdir()`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "browser /tmp" {
		t.Fatalf("os = %q", got)
	}
}

func TestFSShimReadWriteStat(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	fs := vfs.New()
	table.InstallFS(fs)
	v, _ := table.Get("shim:fs")
	_ = vm.Set("fs", v)

	if err := fs.Mkdir("/data", true); err != nil {
		t.Fatal(err)
	}
	got, err := vm.RunString(`
		fs.writeFileSync("/data/a.txt", "hello");
		fs.readFileSync("/data/a.txt", "utf8") + " " + fs.existsSync("/data/a.txt") + " " + fs.statSync("/data/a.txt").isFile();
	`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "hello true true" {
		t.Fatalf("fs round trip = %q", got)
	}

	if _, err := vm.RunString(`fs.readFileSync("/missing")`); err == nil {
		t.Fatal("reading a missing file did not throw")
	}
}

func TestFSShimReaddirAndUnlink(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	fs := vfs.New()
	table.InstallFS(fs)
	v, _ := table.Get("shim:fs")
	_ = vm.Set("fs", v)

	_ = fs.Mkdir("/d", true)
	_ = fs.Write("/d/one", []byte("1"))
	_ = fs.Write("/d/two", []byte("2"))

	got, err := vm.RunString(`fs.readdirSync("/d").join(",")`)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "one,two" {
		t.Fatalf("readdir = %q", got)
	}

	if _, err := vm.RunString(`fs.unlinkSync("/d/one")`); err != nil {
		t.Fatal(err)
	}
	if fs.Exists("/d/one") {
		t.Fatal("unlinkSync left the file behind")
	}
}

func TestLookupNewBuiltins(t *testing.T) {
	vm := goja.New()
	table := New(vm)
	for _, spec := range []string{"url", "util", "os", "querystring", "timers", "node:url", "node:util"} {
		if _, ok := table.Lookup(spec); !ok {
			t.Errorf("Lookup(%q) = not found", spec)
		}
	}
}
