package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/macaly/almostnode-sub000/internal/logging"
	"github.com/macaly/almostnode-sub000/internal/transform"
)

type bundleArgs struct {
	Entry        string
	Out          string
	ModuleConfig string
	Format       string
	Platform     string
	Define       []string
	Minify       bool
}

// runBundle bundles a single entry point with moduleconfig-based bare-
// import resolution, the node-builtin stubbing the emulated runtime
// expects, and unknown imports externalized.
func runBundle(args bundleArgs) error {
	moduleMap, err := transform.ParseModuleConfig(args.ModuleConfig)
	if err != nil {
		return fmt.Errorf("failed to parse moduleconfig: %w", err)
	}

	format := api.FormatESModule
	switch args.Format {
	case "cjs":
		format = api.FormatCommonJS
	case "iife":
		format = api.FormatIIFE
	}
	platform := api.PlatformBrowser
	if args.Platform == "node" {
		platform = api.PlatformNode
	}

	absEntry, err := filepath.Abs(args.Entry)
	if err != nil {
		return err
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{absEntry},
		Bundle:            true,
		Write:             false,
		Format:            format,
		Platform:          platform,
		Target:            api.ESNext,
		Define:            parseDefines(args.Define),
		MinifySyntax:      args.Minify,
		MinifyWhitespace:  args.Minify,
		MinifyIdentifiers: args.Minify,
		LogLevel:          api.LogLevelWarning,
		Plugins: []api.Plugin{
			transform.ModuleResolvePlugin(moduleMap),
			transform.NodeBuiltinStubPlugin(),
			transform.UnknownExternalPlugin(moduleMap),
		},
	})
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Text)
		}
		return fmt.Errorf("bundle failed with %d errors", len(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return fmt.Errorf("bundle produced no output")
	}

	out := args.Out
	if out == "" {
		out = "bundle.js"
	}
	if err := os.WriteFile(out, result.OutputFiles[0].Contents, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

// runPrebundle prebundles every moduleconfig package into a single-file
// CJS bundle on disk, ready to be seeded into a VFS by serve.
func runPrebundle(moduleConfig, outDir string, defines []string, logLevel string) error {
	moduleMap, err := transform.ParseModuleConfig(moduleConfig)
	if err != nil {
		return fmt.Errorf("failed to parse moduleconfig: %w", err)
	}
	logger := logging.New(os.Stderr, logLevel)
	results, err := transform.Prebundle(context.Background(), moduleMap, parseDefines(defines), logger)
	if err != nil {
		return fmt.Errorf("prebundling: %w", err)
	}
	if err := transform.WriteDir(outDir, results); err != nil {
		return fmt.Errorf("writing %s: %w", outDir, err)
	}
	fmt.Printf("  \033[2mPrebundled %d packages into %s\033[0m\n", len(results), outDir)
	return nil
}
