package devserver

import (
	"path"
	"sort"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// resolveAppRoute walks from appDir down the URL path, accumulating the
// layout chain (every layout.* encountered, outermost first) and finally
// matching a page.* (for pages) or route.* (for handlers). Dynamic
// segments resolve as in the Pages Router: static beats dynamic beats
// catch-all at each level.
func resolveAppRoute(fs *vfs.FS, appDir, pathname string) RouteResolution {
	pathname = path.Clean("/" + strings.TrimPrefix(pathname, "/"))
	var segs []string
	if pathname != "/" {
		segs = strings.Split(strings.TrimPrefix(pathname, "/"), "/")
	}

	var chain []string
	if layout, ok := tryPageFile(fs, path.Join(appDir, "layout")); ok {
		chain = append(chain, layout)
	}
	return walkApp(fs, appDir, segs, map[string]string{}, chain)
}

func walkApp(fs *vfs.FS, dir string, segs []string, params map[string]string, chain []string) RouteResolution {
	if len(segs) == 0 {
		if route, ok := tryPageFile(fs, path.Join(dir, "route")); ok {
			return RouteResolution{Kind: RouteRouteHandler, File: route, Params: copyParams(params)}
		}
		if page, ok := tryPageFile(fs, path.Join(dir, "page")); ok {
			return RouteResolution{
				Kind:        RoutePage,
				File:        page,
				Params:      copyParams(params),
				LayoutChain: append([]string(nil), chain...),
			}
		}
		return RouteResolution{Kind: RouteNotFound}
	}

	seg := segs[0]
	rest := segs[1:]

	descend := func(sub string, p map[string]string) RouteResolution {
		childChain := chain
		if layout, ok := tryPageFile(fs, path.Join(sub, "layout")); ok {
			childChain = append(append([]string(nil), chain...), layout)
		}
		return walkApp(fs, sub, rest, p, childChain)
	}

	// Static segment.
	if sub := path.Join(dir, seg); dirExists(fs, sub) {
		if res := descend(sub, params); res.Kind != RouteNotFound {
			return res
		}
	}

	entries, err := fs.Readdir(dir)
	if err != nil {
		return RouteResolution{Kind: RouteNotFound}
	}
	sort.Strings(entries)

	// Dynamic [name] directory.
	for _, name := range entries {
		pname, isDyn, isCatch := dynamicSegmentName(name)
		if !isDyn || isCatch {
			continue
		}
		sub := path.Join(dir, name)
		if !dirExists(fs, sub) {
			continue
		}
		p := copyParams(params)
		p[pname] = seg
		if res := descend(sub, p); res.Kind != RouteNotFound {
			return res
		}
	}

	// Catch-all [...rest] directory absorbs the whole remaining tail.
	for _, name := range entries {
		pname, isDyn, isCatch := dynamicSegmentName(name)
		if !isDyn || !isCatch {
			continue
		}
		sub := path.Join(dir, name)
		if !dirExists(fs, sub) {
			continue
		}
		p := copyParams(params)
		p[pname] = strings.Join(segs, "/")
		childChain := chain
		if layout, ok := tryPageFile(fs, path.Join(sub, "layout")); ok {
			childChain = append(append([]string(nil), chain...), layout)
		}
		if res := walkApp(fs, sub, nil, p, childChain); res.Kind != RouteNotFound {
			return res
		}
	}

	return RouteResolution{Kind: RouteNotFound}
}
