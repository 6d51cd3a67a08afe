package devserver

import (
	"path"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/hmr"
)

// classifyChange maps a changed path to its HMR update kind: .js, .jsx,
// .ts, .tsx and .css get a targeted update; every other change forces a
// full reload.
func classifyChange(p string) hmr.UpdateKind {
	switch path.Ext(p) {
	case ".js", ".jsx", ".ts", ".tsx", ".css":
		return hmr.KindUpdate
	}
	return hmr.KindFullReload
}

// ignoredPath filters mutation noise that must never reach the HMR
// channel: installed packages and internal scratch space.
func ignoredPath(p string) bool {
	return strings.HasPrefix(p, "/node_modules/") ||
		strings.HasPrefix(p, "/.almostnode/") ||
		strings.HasPrefix(p, "/_next/")
}

// startWatching subscribes the server to the whole VFS, classifies each
// source mutation, and feeds it to the HMR channel; writes under the
// routed directories additionally drop the route-resolution cache.
func (s *FrameworkServer) startWatching() error {
	w, err := s.fs.Watch("/", true)
	if err != nil {
		return err
	}
	s.hmrWatch = w

	s.channel = hmr.New(s.hmrTag, func(p string) (hmr.UpdateKind, bool) {
		return classifyChange(p), true
	})

	go func() {
		for ev := range w.C() {
			if ignoredPath(ev.Path) {
				continue
			}
			if strings.HasPrefix(ev.Path, s.cfg.PagesDir+"/") ||
				strings.HasPrefix(ev.Path, s.cfg.AppDir+"/") ||
				ev.Path == s.cfg.PagesDir || ev.Path == s.cfg.AppDir {
				s.routeMu.Lock()
				s.routeCache = make(map[string]RouteResolution)
				s.routeMu.Unlock()
			}
			s.log.Debug().Str("path", ev.Path).Msg("source change")
			s.channel.Notify(ev.Path)
		}
	}()
	return nil
}
