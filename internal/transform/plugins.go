package transform

import (
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// shimmedBuiltins are the node builtins the emulated runtime's shim table
// covers. Prebundled packages keep these as require() calls so the module
// loader resolves them to shims at run time.
var shimmedBuiltins = map[string]bool{
	"path": true, "process": true, "events": true, "stream": true,
	"buffer": true, "zlib": true, "crypto": true, "http": true, "https": true,
	"fs": true, "url": true, "util": true, "os": true, "querystring": true,
	"timers": true, "module": true,
}

// nodeBuiltins is the full builtin module set, used to tell an un-shimmed
// builtin apart from an unknown npm package.
var nodeBuiltins = map[string]bool{
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "dns": true, "domain": true, "events": true, "fs": true,
	"http": true, "http2": true, "https": true, "inspector": true,
	"module": true, "net": true, "os": true, "path": true, "perf_hooks": true,
	"process": true, "punycode": true, "querystring": true, "readline": true,
	"repl": true, "stream": true, "string_decoder": true, "timers": true,
	"tls": true, "trace_events": true, "tty": true, "url": true, "util": true,
	"v8": true, "vm": true, "worker_threads": true, "zlib": true,
}

func isNodeBuiltin(spec string) bool {
	s := strings.TrimPrefix(spec, "node:")
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	return nodeBuiltins[s]
}

// ModuleResolvePlugin resolves bare import specifiers against a module map
// of package name → host-disk directory, by longest package-name prefix.
// Resolution defers to esbuild's own resolver from the package directory so
// exports-field and browser-field edge cases stay its problem.
func ModuleResolvePlugin(moduleMap map[string]string) api.Plugin {
	return api.Plugin{
		Name: "module-resolve",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^[^./]"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					bestMatch := ""
					bestPath := ""
					for name, dir := range moduleMap {
						if args.Path == name || strings.HasPrefix(args.Path, name+"/") {
							if len(name) > len(bestMatch) {
								bestMatch = name
								bestPath = dir
							}
						}
					}
					if bestMatch == "" {
						return api.OnResolveResult{}, nil
					}

					subpath := "."
					if args.Path != bestMatch {
						subpath = "./" + strings.TrimPrefix(args.Path, bestMatch+"/")
					}

					result := build.Resolve(subpath, api.ResolveOptions{
						ResolveDir: bestPath,
						Kind:       args.Kind,
					})
					if len(result.Errors) == 0 {
						return api.OnResolveResult{Path: result.Path}, nil
					}

					// Importer-aware fallback: nested node_modules inside
					// parent packages hold version-conflict copies.
					if args.Importer != "" {
						result2 := build.Resolve(args.Path, api.ResolveOptions{
							ResolveDir: filepath.Dir(args.Importer),
							Kind:       args.Kind,
						})
						if len(result2.Errors) == 0 {
							return api.OnResolveResult{Path: result2.Path}, nil
						}
					}

					return api.OnResolveResult{}, nil
				},
			)
		},
	}
}

// NodeBuiltinStubPlugin routes node builtins during prebundling: builtins
// the runtime shims stay external (the module loader resolves the require
// to a shim), everything else — un-shimmed builtins and builtin subpaths
// like fs/promises or stream/web — is stubbed to an empty module so
// bundles that touch them at import time still load.
func NodeBuiltinStubPlugin() api.Plugin {
	return api.Plugin{
		Name: "node-builtin-stub",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^(node:)?[a-z_]+(/|$)"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if !isNodeBuiltin(args.Path) {
						return api.OnResolveResult{}, nil
					}
					bare := strings.TrimPrefix(args.Path, "node:")
					if shimmedBuiltins[bare] {
						return api.OnResolveResult{Path: bare, External: true}, nil
					}
					return api.OnResolveResult{Path: args.Path, Namespace: "node-builtin-empty"}, nil
				},
			)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "node-builtin-empty"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "module.exports = {};"
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				},
			)
		},
	}
}

// UnknownExternalPlugin externalizes bare specifiers that no module-map
// entry covers, so a package importing a peer we never installed keeps the
// import in its output instead of failing the build. data: URIs and
// hash-only specifiers pass through untouched.
func UnknownExternalPlugin(moduleMap map[string]string) api.Plugin {
	return api.Plugin{
		Name: "unknown-external",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^[^./]"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if strings.HasPrefix(args.Path, "data:") || strings.HasPrefix(args.Path, "#") {
						return api.OnResolveResult{}, nil
					}
					if isNodeBuiltin(args.Path) {
						return api.OnResolveResult{}, nil
					}
					name := packageName(args.Path)
					if _, known := moduleMap[name]; known {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				},
			)
		},
	}
}
