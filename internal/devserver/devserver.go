// Package devserver implements the two in-page dev-server flavors: the
// framework-style server (file-routed pages/layouts/api handlers, HTML
// shell assembly, React Refresh) and the simpler Vite-style static server.
// Both register into the httpmodel port registry and are reached through
// the service-worker bridge's virtual prefix.
package devserver

import (
	"fmt"
	"regexp"
	"strings"
)

// RouteKind classifies what a URL path resolved to.
type RouteKind int

const (
	RouteNotFound RouteKind = iota
	RoutePage
	RouteAPIHandler
	RouteRouteHandler
)

// RouteResolution is the outcome of resolving a URL pathname against the
// filesystem: the matched file, its dynamic-segment params, and (for
// App-Router pages) the layout chain from the app root down to the page.
type RouteResolution struct {
	Kind        RouteKind
	File        string
	Params      map[string]string
	LayoutChain []string
}

// sourceExts is the extension preference order for page/handler files.
var sourceExts = []string{".tsx", ".ts", ".jsx", ".js"}

// isSourceExt reports whether ext names a transformable source file.
func isSourceExt(ext string) bool {
	switch ext {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs":
		return true
	}
	return false
}

var virtualPrefixRe = regexp.MustCompile(`^/__virtual__/(\d+)(/.*)?$`)

// stripVirtualPrefix removes a leading /__virtual__/<port> from p, if
// present, returning the remaining path (at least "/").
func stripVirtualPrefix(p string) string {
	m := virtualPrefixRe.FindStringSubmatch(p)
	if m == nil {
		return p
	}
	rest := m[2]
	if rest == "" {
		return "/"
	}
	return rest
}

// stripConfiguredPrefix removes prefix from p, tolerating the mis-joined
// double-slash form ("/cdn//about" for prefix "/cdn"). The output always
// carries a single leading slash.
func stripConfiguredPrefix(p, prefix string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	if !strings.HasPrefix(p, prefix) {
		return p
	}
	rest := strings.TrimPrefix(p, prefix)
	for strings.HasPrefix(rest, "//") {
		rest = rest[1:]
	}
	if rest == "" {
		return "/"
	}
	if !strings.HasPrefix(rest, "/") {
		// prefix matched mid-segment ("/cdnX" for "/cdn"); not a real match
		return p
	}
	return rest
}

// splitURL separates a request URL into pathname and raw query.
func splitURL(url string) (pathname, query string) {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		return url[:idx], url[idx+1:]
	}
	return url, ""
}

// parseQuery is a minimal query-string parser; values are not unescaped
// beyond '+' and %XX for the small set of params the servers read.
func parseQuery(q string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := kv[0]
		val := ""
		if len(kv) == 2 {
			val = unescapeQuery(kv[1])
		}
		out[key] = val
	}
	return out
}

func unescapeQuery(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if hi, ok1 := unhex(s[i+1]); ok1 {
				if lo, ok2 := unhex(s[i+2]); ok2 {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// accessLog prints the colored per-request line to stdout.
func accessLog(tag, method, urlPath string, status int, ms int64) {
	color := "2"
	if status >= 500 {
		color = "1;31"
	} else if status >= 400 {
		color = "33"
	}
	fmt.Printf("  \033[%sm[%s] %s %s → %d (%dms)\033[0m\n", color, tag, method, urlPath, status, ms)
}
