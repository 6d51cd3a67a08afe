package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

// Source-to-source rewrites applied before a module body is wrapped and
// compiled: a lightweight ESM-to-CJS rewrite, a dynamic-import-to-
// __dynamicImport rewrite, and an import.meta rewrite. All three are
// regex-based, not parsed.

var (
	cjsPrefixRe = regexp.MustCompile(`^\s*(?:"use strict";?\s*)?(?:var|let|const)\s+\w+\s*=`)

	importNamedRe     = regexp.MustCompile(`(?m)^\s*import\s*\{([^}]*)\}\s*from\s*["']([^"']+)["'];?`)
	importDefaultRe   = regexp.MustCompile(`(?m)^\s*import\s+(\w+)\s*from\s*["']([^"']+)["'];?`)
	importNamespaceRe = regexp.MustCompile(`(?m)^\s*import\s*\*\s*as\s+(\w+)\s*from\s*["']([^"']+)["'];?`)
	importSideEffectRe = regexp.MustCompile(`(?m)^\s*import\s*["']([^"']+)["'];?`)
	importMixedRe     = regexp.MustCompile(`(?m)^\s*import\s+(\w+)\s*,\s*\{([^}]*)\}\s*from\s*["']([^"']+)["'];?`)

	exportDefaultRe = regexp.MustCompile(`(?m)^\s*export\s+default\s+`)
	exportNamedDeclRe = regexp.MustCompile(`(?m)^\s*export\s+(const|let|var|function|class)\s+(\w+)`)
	exportNamedListRe = regexp.MustCompile(`(?m)^\s*export\s*\{([^}]*)\}\s*;?`)

	// dynamicImportRe rewrites import(<expr>) to __dynamicImport(<expr>),
	// avoiding false matches preceded by a word character or "$" (so that
	// e.g. "myImport(x)" or "$import(x)" are left alone). This is a regex,
	// not a parser, and will misfire on import( inside strings or
	// comments; that trade-off is deliberate.
	dynamicImportRe = regexp.MustCompile(`([^\w$]|^)\bimport\s*\(`)

	importMetaURLRe      = regexp.MustCompile(`import\.meta\.url`)
	importMetaDirnameRe  = regexp.MustCompile(`import\.meta\.dirname`)
	importMetaFilenameRe = regexp.MustCompile(`import\.meta\.filename`)
)

// looksLikeCompiledCJS detects already-compiled bundles by their
// "use strict" + leading-variable-declaration prefix; those must not go
// through the ESM rewrite again.
func looksLikeCompiledCJS(src string) bool {
	return cjsPrefixRe.MatchString(src)
}

// looksLikeESM is a coarse heuristic: does the source contain import/export
// syntax, or live at a path conventionally understood as ESM.
func looksLikeESM(src, filename string) bool {
	if strings.Contains(filename, "/esm/") || strings.HasSuffix(filename, ".mjs") {
		return true
	}
	return importNamedRe.MatchString(src) || importDefaultRe.MatchString(src) ||
		importNamespaceRe.MatchString(src) || importSideEffectRe.MatchString(src) ||
		importMixedRe.MatchString(src) || exportDefaultRe.MatchString(src) ||
		exportNamedDeclRe.MatchString(src) || exportNamedListRe.MatchString(src)
}

// rewriteESMToCJS lowers ESM surface syntax onto the CJS module object:
// imports become require expressions with default interop, export default
// becomes a module.exports.default assignment (unwrapped when it is the
// module's only surface), named exports become module.exports.<name>
// assignments, and an __esModule marker is installed when any exports
// exist.
func rewriteESMToCJS(src string) string {
	hadExports := false
	out := src

	out = importMixedRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := importMixedRe.FindStringSubmatch(m)
		def, names, spec := sub[1], sub[2], sub[3]
		return fmt.Sprintf("const %s = __interopDefault(require(%q)); const {%s} = require(%q);", def, spec, names, spec)
	})
	out = importNamedRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := importNamedRe.FindStringSubmatch(m)
		names, spec := sub[1], sub[2]
		return fmt.Sprintf("const {%s} = require(%q);", names, spec)
	})
	out = importNamespaceRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := importNamespaceRe.FindStringSubmatch(m)
		name, spec := sub[1], sub[2]
		return fmt.Sprintf("const %s = require(%q);", name, spec)
	})
	out = importDefaultRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := importDefaultRe.FindStringSubmatch(m)
		name, spec := sub[1], sub[2]
		return fmt.Sprintf("const %s = __interopDefault(require(%q));", name, spec)
	})
	out = importSideEffectRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := importSideEffectRe.FindStringSubmatch(m)
		return fmt.Sprintf("require(%q);", sub[1])
	})

	hadDefault := exportDefaultRe.MatchString(out)
	if hadDefault {
		hadExports = true
		out = exportDefaultRe.ReplaceAllString(out, "module.exports.default = ")
	}

	// Named declarations keep their declaration in place; the export
	// assignment is deferred to a footer, since the declared expression's
	// extent is unknowable to a regex.
	var declared []string
	out = exportNamedDeclRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := exportNamedDeclRe.FindStringSubmatch(m)
		kind, name := sub[1], sub[2]
		hadExports = true
		declared = append(declared, name)
		return fmt.Sprintf("%s %s", kind, name)
	})
	out = exportNamedListRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := exportNamedListRe.FindStringSubmatch(m)
		hadExports = true
		var b strings.Builder
		for _, part := range strings.Split(sub[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name := part
			if idx := strings.Index(part, " as "); idx >= 0 {
				local := strings.TrimSpace(part[:idx])
				exported := strings.TrimSpace(part[idx+4:])
				fmt.Fprintf(&b, "module.exports.%s = %s;\n", exported, local)
				continue
			}
			fmt.Fprintf(&b, "module.exports.%s = %s;\n", name, name)
		}
		return b.String()
	})

	var footer strings.Builder
	for _, name := range declared {
		fmt.Fprintf(&footer, "\nmodule.exports.%s = %s;", name, name)
	}
	if hadDefault {
		// A module whose only surface is a default export unwraps so that
		// require(...) yields the default value itself, with a
		// self-referential .default for namespace-shaped consumers.
		footer.WriteString(defaultOnlyFinalize)
	}
	out += footer.String()

	if hadExports {
		out = "module.exports.__esModule = true;\n" + out
	}
	if strings.Contains(out, "__interopDefault(") {
		out = interopDefaultDecl + out
	}
	return out
}

// interopDefaultDecl backs the default-import interop the import rewrites
// emit: an __esModule-marked object yields its .default, anything else is
// taken whole.
const interopDefaultDecl = `var __interopDefault = function(m) { return (m && m.__esModule && m.default !== undefined) ? m.default : m; };
`

// defaultOnlyFinalize runs at the end of a rewritten module body: when the
// default export is the module's only surface, the exports object unwraps
// to the default value itself.
const defaultOnlyFinalize = `
if (Object.keys(module.exports).every(function(k){ return k === "default" || k === "__esModule"; })) {
  var __dflt = module.exports.default;
  if (__dflt && (typeof __dflt === "object" || typeof __dflt === "function")) {
    __dflt.default = __dflt;
    __dflt.__esModule = true;
    module.exports = __dflt;
  }
}`

// rewriteDynamicImport converts dynamic-import syntax into calls to the
// injected __dynamicImport binding.
func rewriteDynamicImport(src string) string {
	return dynamicImportRe.ReplaceAllString(src, "${1}__dynamicImport(")
}

// rewriteImportMeta substitutes import.meta.{url,dirname,filename} with
// string literals derived from filename.
func rewriteImportMeta(src, filename string) string {
	dir := filename
	if idx := strings.LastIndex(filename, "/"); idx >= 0 {
		dir = filename[:idx]
	}
	out := importMetaURLRe.ReplaceAllString(src, fmt.Sprintf("%q", "file://"+filename))
	out = importMetaDirnameRe.ReplaceAllString(out, fmt.Sprintf("%q", dir))
	out = importMetaFilenameRe.ReplaceAllString(out, fmt.Sprintf("%q", filename))
	return out
}
