package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dop251/goja"

	"github.com/macaly/almostnode-sub000/internal/config"
	"github.com/macaly/almostnode-sub000/internal/devserver"
	"github.com/macaly/almostnode-sub000/internal/hmr"
	"github.com/macaly/almostnode-sub000/internal/httpmodel"
	"github.com/macaly/almostnode-sub000/internal/logging"
	"github.com/macaly/almostnode-sub000/internal/runtime"
	"github.com/macaly/almostnode-sub000/internal/shims"
	"github.com/macaly/almostnode-sub000/internal/swbridge"
	"github.com/macaly/almostnode-sub000/internal/transform"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

type serveArgs struct {
	Root         string
	Port         int
	VitePort     int
	HTTPAddr     string
	ModuleConfig string
	Entry        string
	EnvFile      string
	Define       []string
	LogLevel     string
}

// runServe boots the whole stack: VFS seeded from the project directory,
// the module runtime with its shim table, both dev-server flavors, the
// HMR channel, and the bridge's outward HTTP server.
func runServe(args serveArgs) error {
	logger := logging.New(os.Stderr, args.LogLevel)

	fs := vfs.New()
	if err := vfs.LoadDir(fs, args.Root); err != nil {
		return fmt.Errorf("loading %s into the VFS: %w", args.Root, err)
	}

	// Registry and bridge reference each other through the notify hook;
	// the indirection breaks the construction cycle.
	var bridge *swbridge.Bridge
	registry := httpmodel.NewRegistry(func(event string, port int) {
		if bridge != nil {
			bridge.Notify(event, port)
		}
	})
	bridge = swbridge.New(swbridge.Options{
		Registry: registry,
		Log:      logging.Component(logger, "swbridge"),
	})

	// Module runtime with the full shim table over the VFS, serialized on
	// the runtime's own goroutine.
	var table *shims.Table
	var runtimeVM *goja.Runtime
	rt := runtime.NewWith(fs, func(vm *goja.Runtime) runtime.ShimTable {
		runtimeVM = vm
		table = shims.New(vm)
		table.InstallFS(fs)
		return table
	})
	defer rt.Close()
	table.SetScheduler(rt.Schedule)
	table.SetRegistrar(&runtimeRegistrar{rt: rt, vm: runtimeVM, registry: registry, timeout: 30 * time.Second})
	if env, err := loadEnv(fs, args.EnvFile); err != nil {
		return err
	} else if len(env) > 0 {
		table.SetEnv(env)
	}

	// Prebundle real npm packages into the VFS so emulated code can
	// require them.
	if args.ModuleConfig != "" {
		moduleMap, err := transform.ParseModuleConfig(args.ModuleConfig)
		if err != nil {
			return fmt.Errorf("parsing moduleconfig: %w", err)
		}
		if len(moduleMap) > 0 {
			start := time.Now()
			results, err := transform.Prebundle(context.Background(), moduleMap, parseDefines(args.Define), logging.Component(logger, "prebundle"))
			if err != nil {
				return fmt.Errorf("prebundling: %w", err)
			}
			if err := transform.SeedVFS(fs, results); err != nil {
				return fmt.Errorf("seeding prebundled deps: %w", err)
			}
			fmt.Printf("  \033[2mPrebundled %d deps in %dms\033[0m\n", len(results), time.Since(start).Milliseconds())
		}
	}

	// Framework dev server at the primary virtual port.
	cfg := &config.Options{}
	framework, err := devserver.NewFramework(devserver.FrameworkOptions{
		Port:     args.Port,
		FS:       fs,
		Config:   cfg,
		Registry: registry,
		Log:      logging.Component(logger, "devserver"),
	})
	if err != nil {
		return fmt.Errorf("starting framework server: %w", err)
	}
	defer framework.Close()
	framework.SetIframeTarget(hmrBroadcaster(bridge))

	if args.VitePort != 0 {
		vite, err := devserver.NewVite(devserver.ViteOptions{
			Port:     args.VitePort,
			FS:       fs,
			Registry: registry,
			Log:      logging.Component(logger, "vite"),
		})
		if err != nil {
			return fmt.Errorf("starting vite server: %w", err)
		}
		defer vite.Close()
		vite.SetIframeTarget(hmrBroadcaster(bridge))
	}

	// Optional boot script executed inside the module runtime — an
	// emulated program that calls http.createServer(...).listen(port)
	// ends up in the same registry as the dev servers.
	if args.Entry != "" {
		entryPath := "/" + strings.TrimPrefix(args.Entry, "/")
		if !fs.Exists(entryPath) {
			return fmt.Errorf("entry %s not found in the VFS", entryPath)
		}
		if _, err := rt.RunFile(entryPath); err != nil {
			return fmt.Errorf("running entry %s: %w", entryPath, err)
		}
	}

	// Outward HTTP server — try successive ports if the configured one is
	// in use.
	host, portStr, err := net.SplitHostPort(args.HTTPAddr)
	if err != nil {
		return fmt.Errorf("bad --http address %q: %w", args.HTTPAddr, err)
	}
	basePort := 8080
	fmt.Sscanf(portStr, "%d", &basePort)

	var listener net.Listener
	actualPort := basePort
	for attempts := 0; attempts < 20; attempts++ {
		ln, listenErr := net.Listen("tcp", fmt.Sprintf("%s:%d", host, actualPort))
		if listenErr == nil {
			listener = ln
			break
		}
		if !isAddrInUse(listenErr) {
			return fmt.Errorf("failed to listen on port %d: %w", actualPort, listenErr)
		}
		fmt.Printf("  \033[33mPort %d is in use, trying another one...\033[0m\n", actualPort)
		actualPort++
	}
	if listener == nil {
		return fmt.Errorf("no available port found (tried %d–%d)", basePort, actualPort-1)
	}

	httpServer := &http.Server{Handler: bridge.Handler("")}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "HTTP server error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Printf("\n  \033[1;36mALMOSTNODE\033[0m  virtual runtime ready\n")
	fmt.Printf("\n  \033[36m➜\033[0m  \033[1mBridge:\033[0m  http://localhost:\033[1m%d\033[0m/__virtual__/%d/\n", actualPort, args.Port)
	if args.VitePort != 0 {
		fmt.Printf("  \033[36m➜\033[0m  \033[2mVite:    http://localhost:%d/__virtual__/%d/\033[0m\n", actualPort, args.VitePort)
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	httpServer.Close()
	return nil
}

// hmrBroadcaster adapts the HMR channel's delivery contract to the
// bridge's page broadcast.
func hmrBroadcaster(bridge *swbridge.Bridge) func(hmr.HMRUpdate) {
	return func(u hmr.HMRUpdate) {
		bridge.BroadcastHMR(swbridge.HMRMessage{
			Channel:   u.ChannelTag,
			Type:      string(u.Kind),
			Path:      u.Path,
			Timestamp: u.TimestampMS,
		})
	}
}

// loadEnv reads .env files from the VFS, public-prefixed keys only.
func loadEnv(fs *vfs.FS, envFile string) (map[string]string, error) {
	if envFile == "" {
		envFile = "/.env"
	}
	env, err := config.LoadEnvFiles(fs, "/"+strings.TrimPrefix(envFile, "/"), "development", config.PublicEnvPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}
	return env, nil
}

func parseDefines(defs []string) map[string]string {
	result := make(map[string]string, len(defs))
	for _, d := range defs {
		parts := strings.SplitN(d, "=", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}

// runtimeRegistrar adapts http-shim server registrations into the
// process-wide registry: each incoming request is marshalled onto the
// runtime's goroutine, handed to the emulated handler as mock req/res
// objects, and the finalized ResponseRecord awaited under a deadline.
type runtimeRegistrar struct {
	rt       *runtime.Runtime
	vm       *goja.Runtime
	registry *httpmodel.Registry
	timeout  time.Duration
}

func (r *runtimeRegistrar) Register(port int, handler shims.ServerHandler) error {
	return r.registry.Register(port, func(ctx context.Context, method, url string, headers map[string]string, body []byte) (*httpmodel.ResponseRecord, error) {
		done := make(chan *httpmodel.ResponseRecord, 1)
		errCh := make(chan error, 1)
		r.rt.Schedule(func() {
			vm := r.vm
			reqObj := httpmodel.NewRequestObject(vm, &httpmodel.MockRequest{
				Method: method, URL: url, Headers: headers, Body: body,
			})
			mockRes, ch := httpmodel.NewMockResponse()
			resObj := httpmodel.NewResponseObject(vm, mockRes)
			if _, err := handler(goja.Undefined(), reqObj, resObj); err != nil {
				errCh <- err
				return
			}
			select {
			case rec := <-ch:
				done <- rec
			default:
				// Response not ended inside the call; relay whenever the
				// handler's continuation finishes it.
				go func() {
					if rec, ok := <-ch; ok && rec != nil {
						done <- rec
					}
				}()
			}
		})

		deadline, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		select {
		case rec := <-done:
			return rec, nil
		case err := <-errCh:
			return nil, err
		case <-deadline.Done():
			return nil, httpmodel.ErrHandlerTimeout
		}
	})
}

func (r *runtimeRegistrar) Unregister(port int) error {
	return r.registry.Unregister(port)
}

// isAddrInUse reports whether a listen error is due to the address being
// in use.
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return false
}
