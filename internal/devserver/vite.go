package devserver

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/macaly/almostnode-sub000/internal/hmr"
	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/transform"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// ViteOptions configures a ViteServer.
type ViteOptions struct {
	Port     int
	FS       *vfs.FS
	Root     string // VFS directory served as the site root; default "/"
	Registry *httpmodel.Registry
	// Transformer may be nil; one is built with defaults.
	Transformer *transform.Transformer
	Log         zerolog.Logger
}

// ViteServer is the simpler dev-server flavor: resolve the URL to a file
// under the root, transform JSX/TS on demand, and serve HTML with the
// refresh preamble and HMR client injected into <head>. No file routing,
// no handler execution.
type ViteServer struct {
	port          int
	fs            *vfs.FS
	root          string
	tr            *transform.Transformer
	log           zerolog.Logger
	hmrTag        string
	virtualPrefix string

	channel *hmr.Channel
	watch   *vfs.Watch
}

// NewVite builds a Vite-style server, registers it at opts.Port, and
// starts watching the root for HMR.
func NewVite(opts ViteOptions) (*ViteServer, error) {
	root := opts.Root
	if root == "" {
		root = "/"
	}
	s := &ViteServer{
		port:          opts.Port,
		fs:            opts.FS,
		root:          strings.TrimSuffix(root, "/"),
		log:           opts.Log,
		hmrTag:        "vite-hmr",
		virtualPrefix: fmt.Sprintf("/__virtual__/%d", opts.Port),
	}
	s.tr = opts.Transformer
	if s.tr == nil {
		s.tr = transform.New(transform.Options{
			VirtualPrefix:     s.virtualPrefix,
			ImportMapPackages: ImportMapPackages,
		})
	}

	w, err := opts.FS.Watch(root, true)
	if err != nil {
		return nil, fmt.Errorf("starting watcher: %w", err)
	}
	s.watch = w
	s.channel = hmr.New(s.hmrTag, func(p string) (hmr.UpdateKind, bool) {
		return classifyChange(p), true
	})
	go func() {
		for ev := range w.C() {
			if ignoredPath(ev.Path) {
				continue
			}
			s.channel.Notify(ev.Path)
		}
	}()

	if opts.Registry != nil {
		if err := opts.Registry.Register(opts.Port, s.HandleRequest); err != nil {
			return nil, fmt.Errorf("registering port %d: %w", opts.Port, err)
		}
	}
	return s, nil
}

// SetIframeTarget installs the HMR delivery function.
func (s *ViteServer) SetIframeTarget(fn func(hmr.HMRUpdate)) {
	s.channel.SetTarget(fn)
}

// Close unsubscribes the server's watcher.
func (s *ViteServer) Close() {
	if s.watch != nil {
		s.watch.Close()
	}
}

// HandleRequest classifies the URL and serves: HTML (root or .html),
// transformed source, CSS (module or stylesheet form by sec-fetch-dest),
// or the file verbatim.
func (s *ViteServer) HandleRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*httpmodel.ResponseRecord, error) {
	start := time.Now()
	pathname, rawQuery := splitURL(url)
	pathname = stripVirtualPrefix(pathname)
	query := parseQuery(rawQuery)

	rec, tag := s.dispatch(pathname, headers, query)
	rec.Finalize()
	accessLog(tag, method, pathname, rec.StatusCode, time.Since(start).Milliseconds())
	return rec, nil
}

func (s *ViteServer) dispatch(pathname string, headers map[string]string, query map[string]string) (*httpmodel.ResponseRecord, string) {
	if pathname == "/" || strings.HasSuffix(pathname, ".html") {
		return s.handleHTML(pathname), "html"
	}

	full := s.root + pathname
	ext := path.Ext(pathname)

	if ext == ".css" {
		return s.handleCSS(full, headers, query), "css"
	}
	if isSourceExt(ext) {
		if s.fs.Exists(full) {
			return s.handleSource(full), "transform"
		}
		// <script src="/main.js"> where the file on disk is main.tsx.
		if file, ok := tryPageFile(s.fs, strings.TrimSuffix(full, ext)); ok {
			return s.handleSource(file), "transform"
		}
	}
	if ext == "" {
		if file, ok := tryPageFile(s.fs, full); ok {
			return s.handleSource(file), "transform"
		}
	}

	// Asset files imported as ES modules resolve to their own URL.
	if isAssetExt(ext) {
		_, wantModule := query["module"]
		if headers["sec-fetch-dest"] == "script" || wantModule {
			js := fmt.Sprintf("export default %q;\n", pathname)
			return &httpmodel.ResponseRecord{
				StatusCode: 200,
				Headers:    map[string]string{"content-type": "application/javascript"},
				Body:       []byte(js),
			}, "asset-module"
		}
	}

	if st, err := s.fs.Stat(full); err == nil && st.Kind == vfs.KindFile {
		data, err := s.fs.Read(full)
		if err == nil {
			return &httpmodel.ResponseRecord{
				StatusCode: 200,
				Headers:    map[string]string{"content-type": contentTypeFor(full)},
				Body:       data,
			}, "static"
		}
	}

	// SPA fallback.
	return s.handleHTML("/index.html"), "html"
}

// handleHTML serves the project's index.html with the refresh preamble and
// HMR client injected before </head>. A missing index gets a minimal
// generated shell pointing at /main with extension resolution.
func (s *ViteServer) handleHTML(pathname string) *httpmodel.ResponseRecord {
	htmlPath := pathname
	if htmlPath == "/" || !strings.HasSuffix(htmlPath, ".html") {
		htmlPath = "/index.html"
	}
	html, err := s.fs.ReadString(s.root + htmlPath)
	if err != nil {
		html = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div id="root"></div>
<script type="module" src="/main.jsx"></script>
</body>
</html>`
	}

	injection := fmt.Sprintf("<script type=\"importmap\">%s</script>\n%s\n%s\n",
		importMapJSON(s.virtualPrefix), refreshPreamble, hmrClientScript(s.hmrTag))
	if idx := strings.Index(html, "</head>"); idx >= 0 {
		html = html[:idx] + injection + html[idx:]
	} else if idx := strings.Index(html, "<body"); idx >= 0 {
		html = html[:idx] + injection + html[idx:]
	} else {
		html = injection + html
	}

	return htmlResponse(200, html)
}

func (s *ViteServer) handleSource(file string) *httpmodel.ResponseRecord {
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

// handleCSS mirrors the framework server's module-vs-stylesheet split.
func (s *ViteServer) handleCSS(full string, headers map[string]string, query map[string]string) *httpmodel.ResponseRecord {
	data, err := s.fs.Read(full)
	if err != nil {
		return jsonError(404, "no such file: "+full)
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
	rec := cssModuleResponse(full, data)
	return rec
}
