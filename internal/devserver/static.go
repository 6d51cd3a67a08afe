package devserver

import "path"

// isAssetExt reports whether ext names a binary asset that, when imported
// as an ES module, should resolve to its own URL instead of raw bytes.
func isAssetExt(ext string) bool {
	switch ext {
	case ".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".ico",
		".woff", ".woff2", ".ttf", ".eot":
		return true
	}
	return false
}

// contentTypeFor maps a file extension to the served content type. The
// set is the one a dev server actually encounters; unknown extensions
// fall back to octet-stream.
func contentTypeFor(p string) string {
	switch path.Ext(p) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".js", ".mjs", ".jsx", ".ts", ".tsx":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".ico":
		return "image/x-icon"
	case ".webp":
		return "image/webp"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	case ".ttf":
		return "font/ttf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".map":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
