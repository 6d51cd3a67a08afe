package runtime

import (
	"strings"
	"testing"
)

func TestLooksLikeCompiledCJS(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`"use strict"; var a = 1;`, true},
		{`var __defProp = Object.defineProperty;`, true},
		{`import x from "y";`, false},
		{`console.log("plain");`, false},
	}
	for _, tt := range tests {
		if got := looksLikeCompiledCJS(tt.src); got != tt.want {
			t.Errorf("looksLikeCompiledCJS(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestLooksLikeESM(t *testing.T) {
	if !looksLikeESM(`export default 1;`, "/a.js") {
		t.Error("export default not detected")
	}
	if !looksLikeESM(`console.log(1)`, "/pkg/esm/index.js") {
		t.Error("/esm/ path not detected")
	}
	if !looksLikeESM(`console.log(1)`, "/a.mjs") {
		t.Error(".mjs not detected")
	}
	if looksLikeESM(`module.exports = 1;`, "/a.js") {
		t.Error("plain CJS misdetected as ESM")
	}
}

func TestRewriteImports(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			"named",
			`import { a, b } from "pkg";`,
			[]string{`const { a, b } = require("pkg");`},
		},
		{
			"default",
			`import x from "pkg";`,
			[]string{`const x = __interopDefault(require("pkg"));`},
		},
		{
			"namespace",
			`import * as ns from "pkg";`,
			[]string{`const ns = require("pkg");`},
		},
		{
			"side-effect",
			`import "polyfill";`,
			[]string{`require("polyfill");`},
		},
		{
			"mixed",
			`import def, { named } from "pkg";`,
			[]string{`const def = __interopDefault(require("pkg"));`, `const { named } = require("pkg");`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rewriteESMToCJS(tt.src)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("rewrite(%q) = %q, missing %q", tt.src, out, want)
				}
			}
			if strings.Contains(out, "import ") {
				t.Errorf("rewrite left an import behind: %q", out)
			}
		})
	}
}

func TestRewriteExports(t *testing.T) {
	out := rewriteESMToCJS(`export const value = 7;
export function helper() { return 1; }
export default function main() {}
`)
	for _, want := range []string{
		"module.exports.__esModule = true;",
		"module.exports.value = value;",
		"module.exports.helper = helper;",
		"module.exports.default = function main() {}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rewrite missing %q:\n%s", want, out)
		}
	}
	// Declarations themselves survive unexported in place.
	if !strings.Contains(out, "const value = 7;") {
		t.Errorf("declaration mangled:\n%s", out)
	}
	if strings.Contains(out, "export ") {
		t.Errorf("rewrite left an export behind:\n%s", out)
	}
}

func TestRewriteExportList(t *testing.T) {
	out := rewriteESMToCJS(`const a = 1;
const b = 2;
export { a, b as renamed };
`)
	if !strings.Contains(out, "module.exports.a = a;") {
		t.Errorf("plain list entry missing:\n%s", out)
	}
	if !strings.Contains(out, "module.exports.renamed = b;") {
		t.Errorf("aliased list entry missing:\n%s", out)
	}
}

func TestRewriteDynamicImport(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`const m = await import("x");`, `const m = await __dynamicImport("x");`},
		{`import(name)`, `__dynamicImport(name)`},
		{`myImport(x)`, `myImport(x)`},
		{`$import(x)`, `$import(x)`},
	}
	for _, tt := range tests {
		if got := rewriteDynamicImport(tt.src); got != tt.want {
			t.Errorf("rewriteDynamicImport(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRewriteImportMeta(t *testing.T) {
	out := rewriteImportMeta(`const u = import.meta.url; const d = import.meta.dirname; const f = import.meta.filename;`, "/app/src/mod.js")
	for _, want := range []string{`"file:///app/src/mod.js"`, `"/app/src"`, `"/app/src/mod.js"`} {
		if !strings.Contains(out, want) {
			t.Errorf("import.meta rewrite missing %q: %q", want, out)
		}
	}
}
