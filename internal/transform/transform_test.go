package transform

import (
	"strings"
	"testing"
)

func TestTransformSourceJSX(t *testing.T) {
	tr := New(Options{
		VirtualPrefix:     "/__virtual__/3001",
		ImportMapPackages: []string{"react", "react-dom"},
	})
	src := []byte(`export default function Home() { return <h1>hi</h1>; }`)
	res, err := tr.TransformSource("/pages/index.jsx", src)
	if err != nil {
		t.Fatal(err)
	}
	code := string(res.Code)
	if !strings.Contains(code, "jsx") {
		t.Errorf("automatic JSX runtime not applied:\n%s", code)
	}
	if len(res.Components) != 1 || res.Components[0] != "Home" {
		t.Errorf("Components = %v", res.Components)
	}
	if !strings.Contains(code, "$RefreshReg$") {
		t.Error("refresh registration missing for component file")
	}
	if res.Cached {
		t.Error("first transform reported cached")
	}

	// Second call with identical content must hit the cache.
	res2, err := tr.TransformSource("/pages/index.jsx", src)
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Cached {
		t.Error("second transform missed the cache")
	}
	if string(res2.Code) != code {
		t.Error("cached code differs")
	}

	// Changed content must miss.
	res3, err := tr.TransformSource("/pages/index.jsx", []byte(`export default function Home() { return <h1>bye</h1>; }`))
	if err != nil {
		t.Fatal(err)
	}
	if res3.Cached {
		t.Error("changed content hit the cache")
	}
}

func TestTransformSourceTSStripsTypes(t *testing.T) {
	tr := New(Options{})
	src := []byte(`export function add(a: number, b: number): number { return a + b; }`)
	res, err := tr.TransformSource("/lib/add.ts", src)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(res.Code), ": number") {
		t.Errorf("type annotations survived:\n%s", res.Code)
	}
}

func TestTransformSourceCSSAndCDN(t *testing.T) {
	tr := New(Options{ImportMapPackages: []string{"react"}})
	src := []byte(`import "./app.css";
import dayjs from "dayjs";
import React from "react";
export const Tag = () => React.createElement("i");
`)
	res, err := tr.TransformSource("/src/tag.js", src)
	if err != nil {
		t.Fatal(err)
	}
	code := string(res.Code)
	if strings.Contains(code, "app.css") {
		t.Error("css import not stripped")
	}
	if len(res.CSSImports) != 1 || res.CSSImports[0] != "./app.css" {
		t.Errorf("CSSImports = %v", res.CSSImports)
	}
	if !strings.Contains(code, `"https://esm.sh/dayjs"`) {
		t.Errorf("bare import not redirected:\n%s", code)
	}
	if strings.Contains(code, `"https://esm.sh/react"`) {
		t.Error("import-map package redirected to CDN")
	}
}

func TestTransformError(t *testing.T) {
	tr := New(Options{})
	_, err := tr.TransformSource("/bad.ts", []byte("const = ;"))
	if err == nil {
		t.Fatal("expected transform error")
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	body := string(te.ConsoleErrorBody())
	if !strings.HasPrefix(body, "console.error(") {
		t.Errorf("error body = %s", body)
	}
}

func TestTransformCJS(t *testing.T) {
	tr := New(Options{})
	code, err := tr.TransformCJS("/pages/api/hello.ts", []byte(`export default function handler(req: any, res: any) { res.json({ok: true}); }`))
	if err != nil {
		t.Fatal(err)
	}
	out := string(code)
	if strings.Contains(out, "export default") {
		t.Errorf("ESM syntax in CJS output:\n%s", out)
	}
	if !strings.Contains(out, "module.exports") && !strings.Contains(out, "exports") {
		t.Errorf("no CJS export in output:\n%s", out)
	}
}

func TestCacheEviction(t *testing.T) {
	c := newTransformCache(2)
	c.put("/a", []byte("1"), cacheValue{code: []byte("a")})
	c.put("/b", []byte("2"), cacheValue{code: []byte("b")})
	c.put("/c", []byte("3"), cacheValue{code: []byte("c")})
	if _, ok := c.get("/a", []byte("1")); ok {
		t.Error("oldest entry not evicted")
	}
	if _, ok := c.get("/c", []byte("3")); !ok {
		t.Error("newest entry missing")
	}
}

func TestDetectCJSExports(t *testing.T) {
	src := `exports.alpha = 1; exports.beta = function() {}; module.exports.gamma = "x";`
	names, err := DetectCJSExports(src)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDetectCJSExportsThrowingBundle(t *testing.T) {
	if _, err := DetectCJSExports(`throw new Error("needs a browser")`); err == nil {
		t.Error("expected error from throwing bundle")
	}
}
