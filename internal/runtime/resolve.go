package runtime

import (
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

var sourceExts = []string{".js", ".json"}

// resolveKey identifies a cached resolution: the same specifier can
// resolve differently from different directories, so both participate.
type resolveKey struct {
	fromDir string
	spec    string
}

const notFoundSentinel = "\x00notfound"

// resolver turns require specifiers into absolute VFS paths or shim ids:
// the intercept deny-list first, then host primitives, then relative/absolute
// paths, then an upward node_modules walk with manifest-aware package
// resolution. Results are cached per (fromDir, id) for the resolver's
// lifetime, negative outcomes included.
type resolver struct {
	fs      *vfs.FS
	shims   ShimTable
	cache   map[resolveKey]string
	denylist map[string]string // specifier or resolved-path suffix -> shim id
}

// ShimTable is the host-primitive capability interface: Lookup maps a
// specifier to a shim identifier (ok=false when the specifier does not
// name a host primitive); Get resolves a shim identifier (as returned by
// Lookup, or one of the "shim:<name>" ids used by the always-redirected
// package families) to its goja value.
type ShimTable interface {
	Lookup(specifier string) (shimID string, ok bool)
	Get(shimID string) (goja.Value, bool)
}

func newResolver(fs *vfs.FS, shims ShimTable) *resolver {
	return &resolver{
		fs:    fs,
		shims: shims,
		cache: make(map[resolveKey]string),
		denylist: map[string]string{
			"esbuild":              "shim:bundler",
			"@swc/core":            "shim:transform",
			"@swc/wasm":            "shim:transform",
			"prettier":             "shim:formatter",
			"@vercel/analytics":    "shim:telemetry",
			"@segment/analytics":   "shim:telemetry",
		},
	}
}

// resolve runs the full resolution order: node: prefix strip, intercept
// deny-list, shim table, relative/absolute paths, upward node_modules
// walk, root node_modules.
func (r *resolver) resolve(id, fromDir string) (string, error) {
	key := resolveKey{fromDir: fromDir, spec: id}
	if cached, ok := r.cache[key]; ok {
		if cached == notFoundSentinel {
			return "", &ModuleNotFoundError{Specifier: id, FromDir: fromDir}
		}
		return cached, nil
	}

	resolved, err := r.resolveUncached(id, fromDir)
	if err != nil {
		r.cache[key] = notFoundSentinel
		return "", err
	}
	r.cache[key] = resolved
	return resolved, nil
}

func (r *resolver) resolveUncached(id, fromDir string) (string, error) {
	// Step 1: strip "node:" prefix.
	spec := strings.TrimPrefix(id, "node:")

	// Interception: packages always redirected to internal shims regardless
	// of any installed copy, by raw specifier or resolved-path suffix.
	if shimID, ok := r.denylist[packageNameOf(spec)]; ok {
		return shimID, nil
	}

	// Step 2: host-primitive shim table.
	if shimID, ok := r.shims.Lookup(spec); ok {
		return shimID, nil
	}

	// Step 3: relative/absolute specifiers.
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		base := spec
		if !strings.HasPrefix(base, "/") {
			base = path.Join(fromDir, base)
		}
		if p, ok := r.tryFileOrIndex(base); ok {
			return p, nil
		}
		return "", &ModuleNotFoundError{Specifier: id, FromDir: fromDir}
	}

	// Step 4: walk upward through node_modules.
	dir := fromDir
	for {
		candidate := path.Join(dir, "node_modules", spec)
		if p, ok := r.resolvePackageDir(candidate, spec); ok {
			if suffix, ok := r.denylistSuffix(p); ok {
				return suffix, nil
			}
			return p, nil
		}
		if dir == "/" || dir == "." {
			break
		}
		parent := path.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// Step 5: root-level node_modules as a last resort.
	if p, ok := r.resolvePackageDir(path.Join("/node_modules", spec), spec); ok {
		return p, nil
	}

	return "", &ModuleNotFoundError{Specifier: id, FromDir: fromDir}
}

func (r *resolver) denylistSuffix(resolvedPath string) (string, bool) {
	for name, shimID := range r.denylist {
		if strings.Contains(resolvedPath, "/node_modules/"+name+"/") {
			return shimID, true
		}
	}
	return "", false
}

// resolvePackageDir resolves a specifier against a candidate package root
// (the directory that would contain that package's package.json): the
// exports field when present (a specifier it does not match fails), else
// main for the bare package name or the literal subpath.
func (r *resolver) resolvePackageDir(pkgRoot, fullSpec string) (string, bool) {
	// pkgRoot may itself be "<dir>/node_modules/<pkgname>/<subpath...>" when
	// fullSpec contains a subpath (e.g. "lodash/fp"); split package name
	// from subpath by finding where the manifest actually lives.
	pkgDir, subpath := splitPackageRoot(pkgRoot, fullSpec)

	manifestPath := path.Join(pkgDir, "package.json")
	if !r.fs.Exists(manifestPath) {
		// No manifest: fall back to resolving the literal path as a file.
		if p, ok := r.tryFileOrIndex(pkgRoot); ok {
			return p, true
		}
		return "", false
	}

	manifest, err := readManifest(r.fs, manifestPath)
	if err != nil {
		return "", false
	}

	if manifest.Exports != nil {
		subspec := "."
		if subpath != "" {
			subspec = "./" + subpath
		}
		if rel := resolveExportsSubpath(manifest.Exports, subspec); rel != "" {
			full := path.Join(pkgDir, rel)
			if r.fs.Exists(full) {
				st, err := r.fs.Stat(full)
				if err == nil && st.Kind == vfs.KindFile {
					return full, true
				}
			}
		}
		// exports present but no match — a manifest that declares
		// exports owns its entry points; no main or literal-subpath
		// fallback.
		return "", false
	}

	if subpath == "" {
		main := manifest.Main
		if main == "" {
			main = "index.js"
		}
		if p, ok := r.tryFileOrIndex(path.Join(pkgDir, main)); ok {
			return p, true
		}
		return "", false
	}

	if p, ok := r.tryFileOrIndex(path.Join(pkgDir, subpath)); ok {
		return p, true
	}
	return "", false
}

// splitPackageRoot splits "<...>/node_modules/<pkgname>[/subpath]" into the
// package directory and the remaining subpath, handling scoped packages
// ("@scope/name") whose package name itself contains a slash.
func splitPackageRoot(candidatePath, fullSpec string) (pkgDir, subpath string) {
	name := fullSpec
	rest := ""
	if idx := strings.Index(fullSpec, "/"); idx >= 0 && !strings.HasPrefix(fullSpec, "@") {
		name = fullSpec[:idx]
		rest = fullSpec[idx+1:]
	} else if strings.HasPrefix(fullSpec, "@") {
		parts := strings.SplitN(fullSpec, "/", 3)
		if len(parts) >= 2 {
			name = parts[0] + "/" + parts[1]
		}
		if len(parts) == 3 {
			rest = parts[2]
		}
	}
	// candidatePath ends with fullSpec's full join; strip the subpath tail
	// to find the package root.
	if rest != "" && strings.HasSuffix(candidatePath, "/"+rest) {
		pkgDir = strings.TrimSuffix(candidatePath, "/"+rest)
	} else {
		pkgDir = candidatePath
	}
	_ = name
	return pkgDir, rest
}

// tryFileOrIndex implements the "literal path, then each extension, then as
// a directory with index.js" fallback chain shared by steps 3 and 4.
func (r *resolver) tryFileOrIndex(base string) (string, bool) {
	if st, err := r.fs.Stat(base); err == nil && st.Kind == vfs.KindFile {
		return base, true
	}
	for _, ext := range sourceExts {
		candidate := base + ext
		if st, err := r.fs.Stat(candidate); err == nil && st.Kind == vfs.KindFile {
			return candidate, true
		}
	}
	indexPath := path.Join(base, "index.js")
	if st, err := r.fs.Stat(indexPath); err == nil && st.Kind == vfs.KindFile {
		return indexPath, true
	}
	return "", false
}

func packageNameOf(spec string) string {
	if strings.HasPrefix(spec, "@") {
		parts := strings.SplitN(spec, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return spec
	}
	if idx := strings.Index(spec, "/"); idx >= 0 {
		return spec[:idx]
	}
	return spec
}
