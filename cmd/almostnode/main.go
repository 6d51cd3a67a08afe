package main

import (
	"log"
	"os"

	"github.com/thought-machine/go-flags"
)

var opts = struct {
	Usage string

	Serve struct {
		Root         string   `short:"r" long:"root" default:"." description:"Project directory loaded into the virtual filesystem"`
		Port         int      `short:"p" long:"port" default:"3001" description:"Virtual port the framework dev server registers at"`
		VitePort     int      `long:"vite-port" description:"Also start a Vite-style server at this virtual port (0 disables)"`
		HTTPAddr     string   `long:"http" default:":8080" description:"Address the bridge HTTP server listens on"`
		ModuleConfig string   `short:"m" long:"moduleconfig" description:"Moduleconfig file of npm packages to prebundle into the VFS"`
		Entry        string   `short:"e" long:"entry" description:"Optional script run in the module runtime after boot"`
		EnvFile      string   `long:"env-file" description:"Base .env file path for auto-discovery"`
		Define       []string `long:"define" description:"Define substitutions (key=value)"`
		LogLevel     string   `long:"log-level" default:"info" description:"Log level: debug, info, warn, error"`
	} `command:"serve" alias:"s" description:"Boot the virtual runtime and dev servers behind the bridge"`

	Bundle struct {
		Entry        string   `short:"e" long:"entry" required:"true" description:"Entry point file"`
		Out          string   `short:"o" long:"out" description:"Output file"`
		ModuleConfig string   `short:"m" long:"moduleconfig" description:"Moduleconfig file mapping package names to directories"`
		Format       string   `short:"f" long:"format" default:"esm" description:"Output format: esm, cjs, iife"`
		Platform     string   `long:"platform" default:"browser" description:"Target platform: browser, node"`
		Define       []string `long:"define" description:"Define substitutions (key=value)"`
		Minify       bool     `long:"minify" description:"Minify output"`
	} `command:"bundle" alias:"b" description:"Bundle JavaScript/TypeScript using esbuild"`

	Transpile struct {
		OutDir string `short:"o" long:"out-dir" required:"true" description:"Output directory for transpiled files"`
		Args   struct {
			Sources []string `positional-arg-name:"sources" description:"Source files to transpile"`
		} `positional-args:"true"`
	} `command:"transpile" alias:"t" description:"Transpile individual files (TS->JS, JSX->JS) without bundling"`

	Prebundle struct {
		ModuleConfig string   `short:"m" long:"moduleconfig" required:"true" description:"Moduleconfig file mapping package names to directories"`
		Out          string   `short:"o" long:"out" required:"true" description:"Output directory for prebundled packages"`
		Define       []string `long:"define" description:"Define substitutions (key=value)"`
		LogLevel     string   `long:"log-level" default:"info" description:"Log level: debug, info, warn, error"`
	} `command:"prebundle" description:"Prebundle npm packages into single-file CJS bundles for the virtual runtime"`
}{
	Usage: `
almostnode emulates a server-side JavaScript runtime against a virtual
filesystem: a CommonJS module loader, framework-style and Vite-style dev
servers, and a service-worker bridge that exposes them on a reserved URL
prefix.

It provides these main operations:
  - serve:     Boot the virtual runtime and dev servers behind the bridge
  - bundle:    Bundle JS/TS files using esbuild with moduleconfig-based resolution
  - transpile: Transpile individual TS/JSX files to JS without bundling
  - prebundle: Prebundle npm packages into requireable single-file bundles
`,
}

var subCommands = map[string]func() int{
	"serve": func() int {
		if err := runServe(serveArgs{
			Root:         opts.Serve.Root,
			Port:         opts.Serve.Port,
			VitePort:     opts.Serve.VitePort,
			HTTPAddr:     opts.Serve.HTTPAddr,
			ModuleConfig: opts.Serve.ModuleConfig,
			Entry:        opts.Serve.Entry,
			EnvFile:      opts.Serve.EnvFile,
			Define:       opts.Serve.Define,
			LogLevel:     opts.Serve.LogLevel,
		}); err != nil {
			log.Fatal(err)
		}
		return 0
	},
	"bundle": func() int {
		if err := runBundle(bundleArgs{
			Entry:        opts.Bundle.Entry,
			Out:          opts.Bundle.Out,
			ModuleConfig: opts.Bundle.ModuleConfig,
			Format:       opts.Bundle.Format,
			Platform:     opts.Bundle.Platform,
			Define:       opts.Bundle.Define,
			Minify:       opts.Bundle.Minify,
		}); err != nil {
			log.Fatal(err)
		}
		return 0
	},
	"transpile": func() int {
		if err := runTranspile(opts.Transpile.OutDir, opts.Transpile.Args.Sources); err != nil {
			log.Fatal(err)
		}
		return 0
	},
	"prebundle": func() int {
		if err := runPrebundle(opts.Prebundle.ModuleConfig, opts.Prebundle.Out, opts.Prebundle.Define, opts.Prebundle.LogLevel); err != nil {
			log.Fatal(err)
		}
		return 0
	},
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	cmd, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}
	_ = cmd
	if p.Active == nil {
		p.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	os.Exit(subCommands[p.Active.Name]())
}
