package transform

import (
	"fmt"
	"regexp"
	"strings"
)

// cssImportRe matches whole-line CSS imports, both side-effect form
// (`import "./a.css"`) and binding form (`import styles from "./a.css"`).
var cssImportRe = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w$]+\s+from\s+)?["']([^"']+\.css)["'];?[^\S\n]*$`)

// stripCSSImports removes CSS imports from source and returns the removed
// specifiers. CSS becomes side-effect-only: the dev server surfaces it via
// <link> tags or style injection, never through the module graph.
func stripCSSImports(src string) (string, []string) {
	var removed []string
	out := cssImportRe.ReplaceAllStringFunc(src, func(match string) string {
		m := cssImportRe.FindStringSubmatch(match)
		if m != nil {
			removed = append(removed, m[1])
		}
		return ""
	})
	return out, removed
}

// Specifier-position regexes. These are textual, not a parser: a specifier
// inside a string literal or comment can misfire, the same documented
// caveat the dynamic-import rewrite in internal/runtime carries.
var (
	fromSpecRe    = regexp.MustCompile(`((?:import|export)\s[^"'\n]*?from\s*["'])([^"']+)(["'])`)
	sideEffectRe  = regexp.MustCompile(`(?m)(^\s*import\s*["'])([^"']+)(["'])`)
	dynamicSpecRe = regexp.MustCompile(`(import\(\s*["'])([^"']+)(["'])`)
)

// rewriteSpecifiers applies fn to every import/export specifier position.
func rewriteSpecifiers(src string, fn func(spec string) string) string {
	apply := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			m := re.FindStringSubmatch(match)
			if m == nil {
				return match
			}
			return m[1] + fn(m[2]) + m[3]
		})
	}
	src = apply(fromSpecRe, src)
	src = apply(sideEffectRe, src)
	src = apply(dynamicSpecRe, src)
	return src
}

// resolveAliases rewrites configured path aliases to their virtual-prefix
// absolute form: with alias "@/" → "/src/" and prefix "/__virtual__/3001",
// "@/lib/x" becomes "/__virtual__/3001/src/lib/x". Longest alias wins.
func resolveAliases(src string, aliases map[string]string, virtualPrefix string) string {
	if len(aliases) == 0 {
		return src
	}
	return rewriteSpecifiers(src, func(spec string) string {
		best := ""
		for alias := range aliases {
			exact := !strings.HasSuffix(alias, "/")
			if exact && spec == alias && len(alias) > len(best) {
				best = alias
			}
			if !exact && strings.HasPrefix(spec, alias) && len(alias) > len(best) {
				best = alias
			}
		}
		if best == "" {
			return spec
		}
		target := aliases[best]
		if strings.HasSuffix(best, "/") {
			return virtualPrefix + target + strings.TrimPrefix(spec, best)
		}
		return virtualPrefix + target
	})
}

// isBareSpecifier reports whether spec names an npm package rather than a
// relative/absolute path or a full URL.
func isBareSpecifier(spec string) bool {
	if spec == "" {
		return false
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		return false
	}
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") || strings.HasPrefix(spec, "data:") {
		return false
	}
	return true
}

// packageName extracts the package name from a specifier, handling scoped
// packages whose names contain a slash.
func packageName(spec string) string {
	if strings.HasPrefix(spec, "@") {
		parts := strings.SplitN(spec, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return spec
	}
	if idx := strings.Index(spec, "/"); idx >= 0 {
		return spec[:idx]
	}
	return spec
}

// redirectBareImports prefixes bare npm specifiers with the CDN base so the
// browser fetches them directly. Packages the HTML import map already
// aliases are left untouched for the import map to resolve.
func redirectBareImports(src, cdnBase string, importMapPkgs map[string]bool) string {
	return rewriteSpecifiers(src, func(spec string) string {
		if !isBareSpecifier(spec) {
			return spec
		}
		if importMapPkgs[packageName(spec)] {
			return spec
		}
		return cdnBase + spec
	})
}

// Component detection regexes for React Refresh.
var (
	// function App(   or   export default function App(   or   export function App(
	funcComponentRe = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?function\s+([A-Z][a-zA-Z0-9_]*)\s*\(`)
	// const App =   or   export const App =   followed by arrow/function
	constComponentRe = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+([A-Z][a-zA-Z0-9_]*)\s*=`)
)

// DetectComponents returns the names of likely React components in
// transformed JS.
func DetectComponents(code string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range funcComponentRe.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	for _, m := range constComponentRe.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}

// InjectRefreshRegistration wraps transformed JS with React Refresh
// registration for the given component names plus a self-accepting hot
// hook. The $RefreshReg$/$RefreshSig$ globals are installed by the HTML
// shell's refresh preamble before any module script runs.
func InjectRefreshRegistration(code []byte, urlPath string, components []string) []byte {
	var buf strings.Builder

	buf.WriteString("import.meta.hot = globalThis.__hmr__?.createContext(")
	buf.WriteString(fmt.Sprintf("%q", urlPath))
	buf.WriteString(");\n")
	buf.WriteString("var __prevReg = globalThis.$RefreshReg$;\n")
	buf.WriteString("var __prevSig = globalThis.$RefreshSig$;\n")
	buf.WriteString("globalThis.$RefreshReg$ = (type, id) => globalThis.$RefreshRuntime$?.register(type, ")
	buf.WriteString(fmt.Sprintf("%q", urlPath+" "))
	buf.WriteString(" + id);\n")
	buf.WriteString("globalThis.$RefreshSig$ = globalThis.$RefreshRuntime$?.createSignatureFunctionForTransform || (() => (t) => t);\n")

	buf.Write(code)
	buf.WriteString("\n")

	for _, name := range components {
		buf.WriteString(fmt.Sprintf("globalThis.$RefreshReg$(%s, %q);\n", name, name))
	}
	buf.WriteString("globalThis.$RefreshReg$ = __prevReg;\n")
	buf.WriteString("globalThis.$RefreshSig$ = __prevSig;\n")
	buf.WriteString("import.meta.hot?.accept();\n")

	return []byte(buf.String())
}
