// Package transform implements the on-demand source transform layer: JSX/TS
// compilation through esbuild, CSS-import stripping, path-alias resolution,
// CDN redirection of bare npm imports, and React-Refresh registration
// injection, fronted by a content-addressed cache.
package transform

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// DefaultCDNBase is where bare npm imports are redirected when the import
// map doesn't already cover them.
const DefaultCDNBase = "https://esm.sh/"

// Options configures a Transformer.
type Options struct {
	// VirtualPrefix is the absolute URL prefix alias targets are rewritten
	// under, e.g. "/__virtual__/3001".
	VirtualPrefix string
	// Aliases maps tsconfig-style path aliases ("@/" or "~utils") to
	// VFS-absolute targets ("/src/" or "/src/utils/index.ts").
	Aliases map[string]string
	// CDNBase prefixes bare npm specifiers. Defaults to DefaultCDNBase.
	CDNBase string
	// ImportMapPackages lists package names the HTML import map already
	// aliases; those specifiers are left bare for the browser to resolve.
	ImportMapPackages []string
	// Define is passed straight through to esbuild.
	Define map[string]string
	// CacheSize bounds the transform cache; zero means the default.
	CacheSize int
}

// Result is a single transform outcome.
type Result struct {
	Code []byte
	// Cached reports whether the code came from the content-addressed
	// cache; the dev server surfaces this as a response header marker.
	Cached bool
	// Components are the React component names detected in the output;
	// non-empty means refresh registration was injected.
	Components []string
	// CSSImports are the specifiers of CSS imports stripped from the
	// source, for the caller to surface as <link> tags.
	CSSImports []string
}

// Transformer applies the full source pipeline. It is safe for
// concurrent use; results race only on the cache, which is keyed by
// content hash so the losing writer stores an identical value.
type Transformer struct {
	opts     Options
	cache    *transformCache
	initOnce sync.Once
	imPkgs   map[string]bool
}

// New builds a Transformer. The esbuild service itself is started lazily
// on first use; concurrent first callers coalesce on the same one-shot
// initialization.
func New(opts Options) *Transformer {
	if opts.CDNBase == "" {
		opts.CDNBase = DefaultCDNBase
	}
	im := make(map[string]bool, len(opts.ImportMapPackages))
	for _, p := range opts.ImportMapPackages {
		im[p] = true
	}
	return &Transformer{
		opts:   opts,
		cache:  newTransformCache(opts.CacheSize),
		imPkgs: im,
	}
}

// ensureInit warms the transformer exactly once per Transformer. esbuild
// spawns its worker goroutines on the first Transform call; doing a
// throwaway transform here keeps that cost off the first real request and
// gives concurrent callers a single initialization to coalesce on.
func (t *Transformer) ensureInit() {
	t.initOnce.Do(func() {
		api.Transform("0", api.TransformOptions{Loader: api.LoaderJS})
	})
}

// loaderFor maps a file extension to an esbuild loader.
func loaderFor(file string) api.Loader {
	switch path.Ext(file) {
	case ".jsx":
		return api.LoaderJSX
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

// TransformSource runs the full browser-facing pipeline on one file: strip
// CSS imports, resolve path aliases, compile JSX/TS with the automatic JSX
// runtime, redirect bare npm imports to the CDN, and (for component files)
// append refresh registration and a self-accepting hot hook.
func (t *Transformer) TransformSource(file string, src []byte) (Result, error) {
	if res, ok := t.cache.get(file, src); ok {
		return Result{Code: res.code, Cached: true, Components: res.components, CSSImports: res.cssImports}, nil
	}
	t.ensureInit()

	stripped, cssImports := stripCSSImports(string(src))
	stripped = resolveAliases(stripped, t.opts.Aliases, t.opts.VirtualPrefix)

	result := api.Transform(stripped, api.TransformOptions{
		Loader:     loaderFor(file),
		Format:     api.FormatESModule,
		Target:     api.ESNext,
		JSX:        api.JSXAutomatic,
		Sourcefile: file,
		Define:     t.opts.Define,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return Result{}, &Error{File: file, Message: result.Errors[0].Text}
	}

	code := redirectBareImports(string(result.Code), t.opts.CDNBase, t.imPkgs)

	components := DetectComponents(code)
	if len(components) > 0 {
		code = string(InjectRefreshRegistration([]byte(code), file, components))
	}

	out := []byte(code)
	t.cache.put(file, src, cacheValue{code: out, components: components, cssImports: cssImports})
	return Result{Code: out, Components: components, CSSImports: cssImports}, nil
}

// TransformCJS compiles a source file to CommonJS for in-page execution
// (API and route handlers). No CDN redirect and no refresh injection —
// the output runs inside the emulated runtime, not a browser.
func (t *Transformer) TransformCJS(file string, src []byte) ([]byte, error) {
	t.ensureInit()
	stripped, _ := stripCSSImports(string(src))
	result := api.Transform(stripped, api.TransformOptions{
		Loader:     loaderFor(file),
		Format:     api.FormatCommonJS,
		Target:     api.ESNext,
		JSX:        api.JSXAutomatic,
		Sourcefile: file,
		Define:     t.opts.Define,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, &Error{File: file, Message: result.Errors[0].Text}
	}
	return result.Code, nil
}

// Error is a transform failure. These are never fatal at the HTTP layer;
// the dev server converts them to a console.error body.
type Error struct {
	File    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s: %s", e.File, e.Message)
}

// ConsoleErrorBody renders a transform error as the 200-status JS body the
// dev server serves so the message surfaces in the iframe's console.
func (e *Error) ConsoleErrorBody() []byte {
	msg := strings.ReplaceAll(e.Message, `\`, `\\`)
	msg = strings.ReplaceAll(msg, `"`, `\"`)
	msg = strings.ReplaceAll(msg, "\n", `\n`)
	return []byte(fmt.Sprintf(`console.error("Transform error in %s: %s");`, e.File, msg))
}
