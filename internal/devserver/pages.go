package devserver

import (
	"path"
	"sort"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// resolvePagesRoute resolves a URL pathname against a Pages-Router
// directory: literal file, directory index, then dynamic-segment matches,
// with static segments beating dynamic ones and dynamic beating catch-all.
func resolvePagesRoute(fs *vfs.FS, pagesDir, pathname string) RouteResolution {
	pathname = path.Clean("/" + strings.TrimPrefix(pathname, "/"))

	// "/" → <pagesDir>/index.*
	if pathname == "/" {
		if file, ok := tryPageFile(fs, path.Join(pagesDir, "index")); ok {
			return RouteResolution{Kind: RoutePage, File: file, Params: map[string]string{}}
		}
		return RouteResolution{Kind: RouteNotFound}
	}

	// <pagesDir><path>.*
	if file, ok := tryPageFile(fs, pagesDir+pathname); ok {
		return RouteResolution{Kind: RoutePage, File: file, Params: map[string]string{}}
	}
	// <pagesDir><path>/index.*
	if file, ok := tryPageFile(fs, path.Join(pagesDir+pathname, "index")); ok {
		return RouteResolution{Kind: RoutePage, File: file, Params: map[string]string{}}
	}

	// Dynamic-segment matching.
	segs := strings.Split(strings.TrimPrefix(pathname, "/"), "/")
	if file, params, ok := matchDynamic(fs, pagesDir, segs, map[string]string{}); ok {
		return RouteResolution{Kind: RoutePage, File: file, Params: params}
	}
	return RouteResolution{Kind: RouteNotFound}
}

// tryPageFile tries base with each source extension, returning the first
// existing file.
func tryPageFile(fs *vfs.FS, base string) (string, bool) {
	for _, ext := range sourceExts {
		candidate := base + ext
		if st, err := fs.Stat(candidate); err == nil && st.Kind == vfs.KindFile {
			return candidate, true
		}
	}
	return "", false
}

// matchDynamic walks dir segment by segment. At each level the candidate
// order is: exact child, [name] dynamic child, [...rest] catch-all.
// Specificity ties are impossible within a level because the order is
// fixed; across levels the walk is depth-first with the most specific
// candidate first.
func matchDynamic(fs *vfs.FS, dir string, segs []string, params map[string]string) (string, map[string]string, bool) {
	if len(segs) == 0 {
		return "", nil, false
	}
	seg := segs[0]
	rest := segs[1:]
	last := len(rest) == 0

	entries, err := fs.Readdir(dir)
	if err != nil {
		return "", nil, false
	}
	sort.Strings(entries)

	// Exact file match on the final segment.
	if last {
		if file, ok := tryPageFile(fs, path.Join(dir, seg)); ok {
			return file, copyParams(params), true
		}
	}
	// Exact directory match.
	if sub := path.Join(dir, seg); dirExists(fs, sub) {
		if last {
			if file, ok := tryPageFile(fs, path.Join(sub, "index")); ok {
				return file, copyParams(params), true
			}
		} else if file, p, ok := matchDynamic(fs, sub, rest, params); ok {
			return file, p, ok
		}
	}

	// Dynamic [name] file on the final segment.
	if last {
		for _, name := range entries {
			if !isSourceExt(path.Ext(name)) {
				continue
			}
			pname, isDyn, isCatch := dynamicSegmentName(trimSourceExt(name))
			if !isDyn || isCatch {
				continue
			}
			p := copyParams(params)
			p[pname] = seg
			return path.Join(dir, name), p, true
		}
	}
	// Dynamic [name] directory.
	for _, name := range entries {
		pname, isDyn, isCatch := dynamicSegmentName(name)
		if !isDyn || isCatch {
			continue
		}
		sub := path.Join(dir, name)
		st, err := fs.Stat(sub)
		if err != nil || st.Kind != vfs.KindDir {
			continue
		}
		p := copyParams(params)
		p[pname] = seg
		if last {
			if file, ok := tryPageFile(fs, path.Join(sub, "index")); ok {
				return file, p, true
			}
			continue
		}
		if file, pp, ok := matchDynamic(fs, sub, rest, p); ok {
			return file, pp, ok
		}
	}

	// Catch-all [...rest] file matches the whole remaining tail.
	for _, name := range entries {
		if !isSourceExt(path.Ext(name)) {
			continue
		}
		pname, isDyn, isCatch := dynamicSegmentName(trimSourceExt(name))
		if !isDyn || !isCatch {
			continue
		}
		p := copyParams(params)
		p[pname] = strings.Join(segs, "/")
		return path.Join(dir, name), p, true
	}

	return "", nil, false
}

// dynamicSegmentName parses "[id]" → ("id", true, false) and "[...rest]"
// → ("rest", true, true). Non-bracketed names return isDyn=false.
func dynamicSegmentName(name string) (param string, isDyn, isCatchAll bool) {
	if !strings.HasPrefix(name, "[") || !strings.HasSuffix(name, "]") {
		return "", false, false
	}
	inner := name[1 : len(name)-1]
	if strings.HasPrefix(inner, "...") {
		return inner[3:], true, true
	}
	return inner, true, false
}

func trimSourceExt(name string) string {
	ext := path.Ext(name)
	if isSourceExt(ext) {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func dirExists(fs *vfs.FS, p string) bool {
	st, err := fs.Stat(p)
	return err == nil && st.Kind == vfs.KindDir
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// resolveAPIRoute resolves "/api/..." under the Pages Router, reusing the
// page-resolution walk rooted at the pages directory.
func resolveAPIRoute(fs *vfs.FS, pagesDir, pathname string) RouteResolution {
	res := resolvePagesRoute(fs, pagesDir, pathname)
	if res.Kind == RoutePage {
		res.Kind = RouteAPIHandler
	}
	return res
}
