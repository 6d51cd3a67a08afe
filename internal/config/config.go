// Package config holds the dev-server option surface and the parsers for
// the configuration artifacts the emulated projects carry: the framework
// config file, .env files, and tsconfig path aliases — all read from the
// virtual filesystem, not the host disk.
package config

import (
	"regexp"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// PublicEnvPrefix is the only prefix under which project env vars become
// visible to client-side code.
const PublicEnvPrefix = "NEXT_PUBLIC_"

// Options is the recognized dev-server option set. Zero values mean
// "default or auto-detect"; call Normalize before use.
type Options struct {
	PagesDir        string
	AppDir          string
	PublicDir       string
	PreferAppRouter *bool // nil = auto-detect from the VFS
	Env             map[string]string
	AssetPrefix     string
	BasePath        string

	// TransformCacheSize bounds the transform layer's content-addressed
	// cache. Zero means the package default.
	TransformCacheSize int
}

// Normalize fills defaults, normalizes assetPrefix/basePath to a leading
// "/" with no trailing "/", and filters Env down to the public prefix.
// Both single- and double-slash join forms are tolerated on input; a
// single slash is always emitted.
func (o *Options) Normalize() {
	if o.PagesDir == "" {
		o.PagesDir = "/pages"
	}
	if o.AppDir == "" {
		o.AppDir = "/app"
	}
	if o.PublicDir == "" {
		o.PublicDir = "/public"
	}
	o.AssetPrefix = normalizePrefix(o.AssetPrefix)
	o.BasePath = normalizePrefix(o.BasePath)
	filtered := make(map[string]string)
	for k, v := range o.Env {
		if strings.HasPrefix(k, PublicEnvPrefix) {
			filtered[k] = v
		}
	}
	o.Env = filtered
}

// normalizePrefix forces a leading "/" and strips trailing and doubled
// slashes. An empty or bare-"/" prefix normalizes to "".
func normalizePrefix(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

// UseAppRouter decides the routing flavor: the explicit option wins,
// otherwise the presence of an app directory in the VFS decides.
func (o *Options) UseAppRouter(fs *vfs.FS) bool {
	if o.PreferAppRouter != nil {
		return *o.PreferAppRouter
	}
	st, err := fs.Stat(o.AppDir)
	return err == nil && st.Kind == vfs.KindDir
}

var (
	assetPrefixRe = regexp.MustCompile(`assetPrefix\s*:\s*["'` + "`" + `]([^"'` + "`" + `]*)["'` + "`" + `]`)
	basePathRe    = regexp.MustCompile(`basePath\s*:\s*["'` + "`" + `]([^"'` + "`" + `]*)["'` + "`" + `]`)
)

// configFileNames is the lookup order for the framework config file.
var configFileNames = []string{
	"/next.config.js",
	"/next.config.mjs",
	"/next.config.ts",
}

// DetectFromConfigFile fills AssetPrefix and BasePath from the project's
// config file when the caller didn't set them. Extraction is a textual
// scan for the two recognized string-literal fields, not an evaluation of
// the config module — a config that computes its prefix at runtime is out
// of reach here, which matches how far auto-detection is specified to go.
func (o *Options) DetectFromConfigFile(fs *vfs.FS) {
	if o.AssetPrefix != "" && o.BasePath != "" {
		return
	}
	for _, name := range configFileNames {
		src, err := fs.ReadString(name)
		if err != nil {
			continue
		}
		if o.AssetPrefix == "" {
			if m := assetPrefixRe.FindStringSubmatch(src); m != nil {
				o.AssetPrefix = normalizePrefix(m[1])
			}
		}
		if o.BasePath == "" {
			if m := basePathRe.FindStringSubmatch(src); m != nil {
				o.BasePath = normalizePrefix(m[1])
			}
		}
		return
	}
}

// PublicEnv returns only the client-visible env entries, already filtered
// by Normalize but re-checked so callers can pass an un-normalized map.
func PublicEnv(env map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range env {
		if strings.HasPrefix(k, PublicEnvPrefix) {
			out[k] = v
		}
	}
	return out
}
