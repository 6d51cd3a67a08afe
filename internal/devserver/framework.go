package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macaly/almostnode-sub000/internal/config"
	"github.com/macaly/almostnode-sub000/internal/hmr"
	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/transform"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// FrameworkOptions configures a FrameworkServer.
type FrameworkOptions struct {
	Port     int
	FS       *vfs.FS
	Config   *config.Options
	Registry *httpmodel.Registry
	// Transformer may be nil; one is built from the config and tsconfig
	// aliases. Injected, not owned — its one-shot initialization is shared
	// with whatever else transforms on this host.
	Transformer *transform.Transformer
	Log         zerolog.Logger
	// HandlerTimeout bounds API/route-handler execution. Zero means 30s.
	HandlerTimeout time.Duration
}

// FrameworkServer is the framework-style dev server: file-routed pages,
// layouts, and handlers served over the virtual prefix.
type FrameworkServer struct {
	port           int
	fs             *vfs.FS
	cfg            *config.Options
	tr             *transform.Transformer
	log            zerolog.Logger
	hmrTag         string
	virtualPrefix  string
	appRouter      bool
	handlerTimeout time.Duration

	channel    *hmr.Channel
	hmrWatch   *vfs.Watch
	routeMu    sync.Mutex
	routeCache map[string]RouteResolution
}

// NewFramework builds a framework-style server, registers it at
// opts.Port, and starts watching the source tree for HMR.
func NewFramework(opts FrameworkOptions) (*FrameworkServer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Options{}
	}
	cfg.Normalize()
	cfg.DetectFromConfigFile(opts.FS)

	s := &FrameworkServer{
		port:           opts.Port,
		fs:             opts.FS,
		cfg:            cfg,
		log:            opts.Log,
		hmrTag:         "next-hmr",
		virtualPrefix:  fmt.Sprintf("/__virtual__/%d", opts.Port),
		appRouter:      cfg.UseAppRouter(opts.FS),
		handlerTimeout: opts.HandlerTimeout,
		routeCache:     make(map[string]RouteResolution),
	}
	if s.handlerTimeout == 0 {
		s.handlerTimeout = 30 * time.Second
	}

	s.tr = opts.Transformer
	if s.tr == nil {
		aliases := config.ParseTsconfigPaths(opts.FS, "/tsconfig.json")
		s.tr = transform.New(transform.Options{
			VirtualPrefix:     s.virtualPrefix,
			Aliases:           aliases,
			ImportMapPackages: ImportMapPackages,
			CacheSize:         cfg.TransformCacheSize,
		})
	}

	if err := s.startWatching(); err != nil {
		return nil, fmt.Errorf("starting watchers: %w", err)
	}

	if opts.Registry != nil {
		if err := opts.Registry.Register(opts.Port, s.HandleRequest); err != nil {
			return nil, fmt.Errorf("registering port %d: %w", opts.Port, err)
		}
	}
	return s, nil
}

// SetIframeTarget installs the delivery function HMR updates are posted
// to — the stand-in for posting to an embedded iframe window.
func (s *FrameworkServer) SetIframeTarget(fn func(hmr.HMRUpdate)) {
	s.channel.SetTarget(fn)
}

// Close unsubscribes the server's watchers.
func (s *FrameworkServer) Close() {
	if s.hmrWatch != nil {
		s.hmrWatch.Close()
	}
}

// HandleRequest is the httpmodel.Handler entry point: classify the URL and
// dispatch down the route table.
func (s *FrameworkServer) HandleRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*httpmodel.ResponseRecord, error) {
	start := time.Now()
	pathname, rawQuery := splitURL(url)

	// 1. Strip the virtual prefix, then assetPrefix, then basePath.
	pathname = stripVirtualPrefix(pathname)
	pathname = stripConfiguredPrefix(pathname, s.cfg.AssetPrefix)
	pathname = stripConfiguredPrefix(pathname, s.cfg.BasePath)
	query := parseQuery(rawQuery)

	rec, tag := s.dispatch(ctx, method, pathname, query, headers, body)
	rec.Finalize()
	accessLog(tag, method, pathname, rec.StatusCode, time.Since(start).Milliseconds())
	return rec, nil
}

func (s *FrameworkServer) dispatch(ctx context.Context, method, pathname string, query map[string]string, headers map[string]string, body []byte) (*httpmodel.ResponseRecord, string) {
	// 2. Internal shim endpoints.
	if name, ok := strings.CutPrefix(pathname, "/_next/shims/"); ok {
		return s.handleShimJS(strings.TrimSuffix(name, ".js")), "shim"
	}

	// 3. Route-info endpoint: resolved params for a URL, used by the
	// client for navigation.
	if pathname == "/_next/route-info" {
		return s.handleRouteInfo(query["pathname"]), "route-info"
	}

	// 4. Page/app component endpoints: client-side re-import of a page
	// module by pathname.
	if pathname == "/_next/page" || pathname == "/_next/app" {
		return s.handlePageModule(query["pathname"]), "page-module"
	}

	// 5. Static asset pass-throughs.
	if strings.HasPrefix(pathname, "/_next/static/") {
		return s.handleFile(pathname), "static"
	}

	// 6. App-Router route handlers.
	if s.appRouter {
		if res := s.resolveCached(pathname); res.Kind == RouteRouteHandler {
			return s.execRouteHandler(ctx, method, pathname, res, headers, body), "route"
		}
	}

	// 7. Pages-Router API handlers.
	if strings.HasPrefix(pathname, "/api/") {
		if res := resolveAPIRoute(s.fs, s.cfg.PagesDir, pathname); res.Kind == RouteAPIHandler {
			return s.execAPIHandler(ctx, method, pathname, res, headers, body), "api"
		}
	}

	// 8. Public files, served verbatim.
	if rec := s.tryFile(path.Join(s.cfg.PublicDir, pathname)); rec != nil {
		return rec, "public"
	}

	// 9. The path itself names a transformable source file.
	ext := path.Ext(pathname)
	if ext == ".css" {
		return s.handleCSS(pathname, headers, query), "css"
	}
	if isSourceExt(ext) || ext == ".json" {
		if s.fs.Exists(pathname) {
			return s.handleSource(pathname), "transform"
		}
	}

	// 10. Extensionless path that resolves to a source file.
	if ext == "" {
		if file, ok := tryPageFile(s.fs, pathname); ok {
			return s.handleSource(file), "transform"
		}
	}

	// 11. Otherwise treat as a page route.
	return s.handlePage(pathname), "page"
}

// resolveCached resolves pathname through the active router flavor with a
// per-pathname cache, invalidated by any write under the routed dirs.
func (s *FrameworkServer) resolveCached(pathname string) RouteResolution {
	s.routeMu.Lock()
	if res, ok := s.routeCache[pathname]; ok {
		s.routeMu.Unlock()
		return res
	}
	s.routeMu.Unlock()

	var res RouteResolution
	if s.appRouter {
		res = resolveAppRoute(s.fs, s.cfg.AppDir, pathname)
		if res.Kind == RouteNotFound {
			res = resolvePagesRoute(s.fs, s.cfg.PagesDir, pathname)
		}
	} else {
		res = resolvePagesRoute(s.fs, s.cfg.PagesDir, pathname)
	}

	s.routeMu.Lock()
	s.routeCache[pathname] = res
	s.routeMu.Unlock()
	return res
}

func (s *FrameworkServer) handleShimJS(name string) *httpmodel.ResponseRecord {
	src, ok := shimModules[name]
	if !ok {
		return jsonError(404, "unknown shim module: "+name)
	}
	return &httpmodel.ResponseRecord{
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/javascript"},
		Body:       []byte(src),
	}
}

func (s *FrameworkServer) handleRouteInfo(pathname string) *httpmodel.ResponseRecord {
	if pathname == "" {
		return jsonError(400, "missing pathname")
	}
	res := s.resolveCached(pathname)
	payload := map[string]interface{}{
		"found":  res.Kind != RouteNotFound,
		"params": res.Params,
	}
	if res.Params == nil {
		payload["params"] = map[string]string{}
	}
	data, _ := json.Marshal(payload)
	return &httpmodel.ResponseRecord{
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/json; charset=utf-8"},
		Body:       data,
	}
}

func (s *FrameworkServer) handlePageModule(pathname string) *httpmodel.ResponseRecord {
	if pathname == "" {
		return jsonError(400, "missing pathname")
	}
	res := s.resolveCached(pathname)
	if res.Kind != RoutePage {
		return jsonError(404, "no page for "+pathname)
	}
	return s.handleSource(res.File)
}

// handleSource transforms a source file and serves it. Transform errors
// are served as 200 with a console.error body so the message surfaces in
// the iframe console, marked by a response header.
func (s *FrameworkServer) handleSource(file string) *httpmodel.ResponseRecord {
	src, err := s.fs.Read(file)
	if err != nil {
		return jsonError(404, "no such file: "+file)
	}
	res, err := s.tr.TransformSource(file, src)
	if err != nil {
		if te, ok := err.(*transform.Error); ok {
			s.log.Warn().Str("file", file).Str("error", te.Message).Msg("transform error")
			return &httpmodel.ResponseRecord{
				StatusCode: 200,
				Headers: map[string]string{
					"content-type":      "application/javascript",
					"x-transform-error": "1",
				},
				Body: te.ConsoleErrorBody(),
			}
		}
		return jsonError(500, err.Error())
	}
	headers := map[string]string{
		"content-type":  "application/javascript",
		"cache-control": "no-cache",
	}
	if res.Cached {
		headers["x-transform-cache"] = "hit"
	}
	return &httpmodel.ResponseRecord{StatusCode: 200, Headers: headers, Body: res.Code}
}

// handleCSS serves a stylesheet either raw (when the browser asked for a
// stylesheet resource) or wrapped as a style-injecting JS module (when
// imported from a module graph). The browser's sec-fetch-dest header is
// the heuristic; a ?module query flag is the non-browser fallback.
func (s *FrameworkServer) handleCSS(pathname string, headers map[string]string, query map[string]string) *httpmodel.ResponseRecord {
	data, err := s.fs.Read(pathname)
	if err != nil {
		return jsonError(404, "no such file: "+pathname)
	}
	fetchDest := headers["sec-fetch-dest"]
	_, wantModule := query["module"]
	if fetchDest == "style" && !wantModule {
		return &httpmodel.ResponseRecord{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "text/css; charset=utf-8"},
			Body:       data,
		}
	}
	return cssModuleResponse(pathname, data)
}

// cssModuleResponse wraps CSS as a JS module that injects a <style>
// element keyed by the file path and exports the text.
func cssModuleResponse(pathname string, data []byte) *httpmodel.ResponseRecord {
	cssJSON, _ := json.Marshal(string(data))
	idJSON, _ := json.Marshal(pathname)
	js := fmt.Sprintf(`const css = %s;
const id = %s;
let style = document.querySelector('style[data-id="' + id + '"]');
if (!style) {
  style = document.createElement("style");
  style.dataset.id = id;
  document.head.appendChild(style);
}
style.textContent = css;
export default css;
`, cssJSON, idJSON)
	return &httpmodel.ResponseRecord{
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/javascript"},
		Body:       []byte(js),
	}
}

// handlePage resolves a page route and renders the HTML shell, falling
// back to the custom 404 page (rendered through the same pipeline with
// status 404) or the minimal fallback.
func (s *FrameworkServer) handlePage(pathname string) *httpmodel.ResponseRecord {
	res := s.resolveCached(pathname)
	if res.Kind == RoutePage {
		return htmlResponse(200, s.renderPageHTML(res))
	}

	// Custom not-found page, rendered with status 404.
	if s.appRouter {
		if file, ok := tryPageFile(s.fs, path.Join(s.cfg.AppDir, "not-found")); ok {
			nf := RouteResolution{Kind: RoutePage, File: file, Params: map[string]string{}}
			if layout, lok := tryPageFile(s.fs, path.Join(s.cfg.AppDir, "layout")); lok {
				nf.LayoutChain = []string{layout}
			}
			return htmlResponse(404, s.renderPageHTML(nf))
		}
	}
	if file, ok := tryPageFile(s.fs, path.Join(s.cfg.PagesDir, "404")); ok {
		return htmlResponse(404, s.renderPageHTML(RouteResolution{Kind: RoutePage, File: file, Params: map[string]string{}}))
	}
	return htmlResponse(404, notFoundFallbackHTML)
}

// tryFile serves a VFS file verbatim, or nil if it doesn't exist.
func (s *FrameworkServer) tryFile(p string) *httpmodel.ResponseRecord {
	st, err := s.fs.Stat(p)
	if err != nil || st.Kind != vfs.KindFile {
		return nil
	}
	data, err := s.fs.Read(p)
	if err != nil {
		return nil
	}
	return &httpmodel.ResponseRecord{
		StatusCode: 200,
		Headers:    map[string]string{"content-type": contentTypeFor(p)},
		Body:       data,
	}
}

// handleFile is tryFile with a 404 instead of nil.
func (s *FrameworkServer) handleFile(p string) *httpmodel.ResponseRecord {
	if rec := s.tryFile(p); rec != nil {
		return rec
	}
	return jsonError(404, "no such file: "+p)
}

func htmlResponse(status int, body string) *httpmodel.ResponseRecord {
	return &httpmodel.ResponseRecord{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "text/html; charset=utf-8"},
		Body:       []byte(body),
	}
}

func jsonError(status int, msg string) *httpmodel.ResponseRecord {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return &httpmodel.ResponseRecord{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json; charset=utf-8"},
		Body:       data,
	}
}
