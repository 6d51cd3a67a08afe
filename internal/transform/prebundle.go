package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// PrebundleResult holds the output for one package: a single-file CJS
// bundle plus the manifest to seed alongside it.
type PrebundleResult struct {
	Name     string
	Bundle   []byte
	Manifest []byte
	// Exports are the named exports detected by executing the bundle in a
	// scratch runtime; empty when detection failed (diagnostic only).
	Exports []string
}

// Prebundle bundles each host-disk npm package in moduleMap (package name
// → directory) into a single CommonJS file the emulated module loader can
// require without touching the network. Packages are built in parallel;
// ones that fail to build are skipped and reported, not fatal — the same
// skip-and-warn posture a dev server needs to come up with a broken dep in
// node_modules.
func Prebundle(ctx context.Context, moduleMap map[string]string, define map[string]string, log zerolog.Logger) ([]PrebundleResult, error) {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var mu sync.Mutex
	var results []PrebundleResult
	var failed []string

	for pkgName, pkgDir := range moduleMap {
		name, dir := pkgName, pkgDir
		g.Go(func() error {
			res, err := prebundlePackage(name, dir, moduleMap, define)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, name)
				log.Warn().Str("package", name).Err(err).Msg("skipping broken dep")
				return nil
			}
			log.Debug().Str("package", name).Int("exports", len(res.Exports)).Msg("prebundled")
			results = append(results, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		log.Warn().Strs("packages", failed).Msg("skipped broken deps")
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

func prebundlePackage(pkgName, pkgDir string, moduleMap map[string]string, define map[string]string) (PrebundleResult, error) {
	absPkgDir, err := filepath.Abs(pkgDir)
	if err != nil {
		return PrebundleResult{}, err
	}
	if _, err := os.Stat(filepath.Join(absPkgDir, "package.json")); err != nil {
		return PrebundleResult{}, fmt.Errorf("no package.json in %s", pkgDir)
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   fmt.Sprintf("module.exports = require(%q);\n", pkgName),
			ResolveDir: absPkgDir,
			Loader:     api.LoaderJS,
		},
		Bundle:            true,
		Write:             false,
		Format:            api.FormatCommonJS,
		Platform:          api.PlatformNode,
		Target:            api.ESNext,
		LogLevel:          api.LogLevelSilent,
		Define:            define,
		IgnoreAnnotations: true,
		Plugins: []api.Plugin{
			ModuleResolvePlugin(map[string]string{pkgName: absPkgDir}),
			NodeBuiltinStubPlugin(),
			UnknownExternalPlugin(moduleMap),
		},
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return PrebundleResult{}, fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return PrebundleResult{}, fmt.Errorf("no output")
	}

	bundle := result.OutputFiles[0].Contents
	exports, _ := DetectCJSExports(string(bundle))

	manifest := []byte(fmt.Sprintf("{\n  \"name\": %q,\n  \"main\": \"index.js\"\n}\n", pkgName))
	return PrebundleResult{Name: pkgName, Bundle: bundle, Manifest: manifest, Exports: exports}, nil
}

// SeedVFS writes prebundle results into the VFS under /node_modules so the
// emulated module loader resolves them like any installed package.
func SeedVFS(fs *vfs.FS, results []PrebundleResult) error {
	for _, res := range results {
		dir := "/node_modules/" + res.Name
		if err := fs.Mkdir(dir, true); err != nil {
			return fmt.Errorf("seeding %s: %w", res.Name, err)
		}
		if err := fs.Write(dir+"/index.js", res.Bundle); err != nil {
			return fmt.Errorf("seeding %s: %w", res.Name, err)
		}
		if err := fs.Write(dir+"/package.json", res.Manifest); err != nil {
			return fmt.Errorf("seeding %s: %w", res.Name, err)
		}
	}
	return nil
}

// WriteDir writes prebundle results to a host-disk directory, one
// subdirectory per package, for ahead-of-time prebundling from the CLI.
func WriteDir(outDir string, results []PrebundleResult) error {
	for _, res := range results {
		dir := filepath.Join(outDir, filepath.FromSlash(res.Name))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "index.js"), res.Bundle, 0644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "package.json"), res.Manifest, 0644); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleConfig reads a moduleconfig file mapping package names to
// host-disk paths. Each line has the form "package_name=path". A missing
// file is an empty config, not an error.
func ParseModuleConfig(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	modules := make(map[string]string)
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			modules[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return modules, nil
}
