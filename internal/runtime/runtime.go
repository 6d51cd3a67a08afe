// Package runtime is the CommonJS module system of the emulation: a
// loader that resolves packages with exports-field support, transforms
// ESM to CJS on the fly, and executes module bodies with injected host
// primitives, on top of a goja.Runtime.
package runtime

import (
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// Runtime is one CommonJS-module-system instance: one goja.Runtime, one
// module cache, one resolver. All goja calls for a given Runtime are
// funneled through a single goroutine's operation queue — goja.Runtime is
// not safe for concurrent use, and the emulated JS semantics are
// single-threaded cooperative besides.
type Runtime struct {
	vm       *goja.Runtime
	fs       *vfs.FS
	shims    ShimTable
	resolver *resolver
	cache    *moduleCache

	// loading is the in-progress module stack, used to record each
	// module's children in require order. Only touched on the Runtime's
	// own goroutine.
	loading []*Module

	ops  chan func()
	done chan struct{}
}

// New creates a Runtime backed by fs for module source and shims for host
// primitives.
func New(fs *vfs.FS, shims ShimTable) *Runtime {
	r := &Runtime{
		vm:    goja.New(),
		fs:    fs,
		shims: shims,
		cache: newModuleCache(0),
		ops:   make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	r.resolver = newResolver(fs, shims)
	go r.loop()
	return r
}

func (r *Runtime) loop() {
	defer close(r.done)
	for fn := range r.ops {
		fn()
	}
}

// NewWith creates a Runtime whose ShimTable is constructed against the
// Runtime's own goja VM — for shim implementations that must install
// objects into the exact VM the loader executes modules in.
func NewWith(fs *vfs.FS, build func(vm *goja.Runtime) ShimTable) *Runtime {
	r := &Runtime{
		vm:    goja.New(),
		fs:    fs,
		cache: newModuleCache(0),
		ops:   make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	r.shims = build(r.vm)
	r.resolver = newResolver(fs, r.shims)
	go r.loop()
	return r
}

// Schedule queues fn onto the Runtime's single goroutine without waiting
// for it. This is how external callers (watch callbacks, registered
// server handlers) enter the VM safely.
func (r *Runtime) Schedule(fn func()) {
	r.ops <- fn
}

// run executes fn on the Runtime's single goroutine and waits for it to
// finish, returning whatever error fn reports.
func (r *Runtime) run(fn func() error) error {
	errCh := make(chan error, 1)
	r.ops <- func() {
		errCh <- fn()
	}
	return <-errCh
}

// Close stops the Runtime's event loop. Pending operations queued before
// Close is called still run; no further operations may be queued after.
func (r *Runtime) Close() {
	close(r.ops)
	<-r.done
}

// Execute writes code to the VFS at filename and loads it as a module,
// returning its exports.
func (r *Runtime) Execute(code, filename string) (exports goja.Value, err error) {
	if err := r.fs.Write(filename, []byte(code)); err != nil {
		return nil, err
	}
	return r.RunFile(filename)
}

// RunFile reads filename from the VFS and executes it.
func (r *Runtime) RunFile(filename string) (exports goja.Value, err error) {
	err = r.run(func() error {
		m, loadErr := r.loadModule(filename, path.Dir(filename))
		if loadErr != nil {
			return loadErr
		}
		exports = m.Exports
		return nil
	})
	return exports, err
}

// ClearCache empties the module cache; the next require re-executes
// bodies.
func (r *Runtime) ClearCache() {
	_ = r.run(func() error {
		r.cache.clear()
		return nil
	})
}

// CreateRequire returns, for a file:// URL or absolute path, a require
// bound to that file's directory, sharing this Runtime's module cache.
func (r *Runtime) CreateRequire(fileOrURL string) func(goja.FunctionCall) goja.Value {
	p := strings.TrimPrefix(fileOrURL, "file://")
	dir := path.Dir(p)
	return r.makeRequireFunc(dir)
}

// makeRequireFunc builds a require(id) closure bound to fromDir; the
// resolution context travels implicitly through these closures.
func (r *Runtime) makeRequireFunc(fromDir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		exports, err := r.requireSync(id, fromDir)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return exports
	}
}

// requireSync resolves and (if needed) loads id from fromDir, returning its
// exports value. Must only be called on the Runtime's own goroutine.
func (r *Runtime) requireSync(id, fromDir string) (goja.Value, error) {
	// The "module" builtin is provided by the loader itself, not the shim
	// table: createRequire closes over this Runtime's cache and resolver.
	if strings.TrimPrefix(id, "node:") == "module" {
		return r.moduleBuiltin(), nil
	}
	resolved, err := r.resolver.resolve(id, fromDir)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(resolved, "shim:") {
		if v, ok := r.shims.Get(resolved); ok {
			return v, nil
		}
		return nil, &ModuleNotFoundError{Specifier: id, FromDir: fromDir}
	}
	m, err := r.loadModule(resolved, path.Dir(resolved))
	if err != nil {
		return nil, err
	}
	if parent := r.currentModule(); parent != nil && !hasChild(parent, m) {
		parent.Children = append(parent.Children, m)
	}
	return m.Exports, nil
}

func hasChild(parent, m *Module) bool {
	for _, c := range parent.Children {
		if c == m {
			return true
		}
	}
	return false
}

func (r *Runtime) currentModule() *Module {
	if len(r.loading) == 0 {
		return nil
	}
	return r.loading[len(r.loading)-1]
}

// moduleBuiltin builds the require("module") surface: createRequire
// (sharing this Runtime's module cache) plus the builtin-module listing
// packages probe for feature detection.
func (r *Runtime) moduleBuiltin() goja.Value {
	obj := r.vm.NewObject()
	_ = obj.Set("createRequire", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.CreateRequire(call.Argument(0).String()))
	})
	builtins := []string{
		"path", "process", "events", "stream", "buffer", "zlib", "crypto",
		"http", "https", "fs", "url", "util", "os", "querystring", "timers",
		"module",
	}
	_ = obj.Set("builtinModules", builtins)
	_ = obj.Set("isBuiltin", func(call goja.FunctionCall) goja.Value {
		spec := strings.TrimPrefix(call.Argument(0).String(), "node:")
		for _, b := range builtins {
			if spec == b {
				return r.vm.ToValue(true)
			}
		}
		return r.vm.ToValue(false)
	})
	return obj
}

// loadModule runs the full loading sequence: read source, JSON short
// path, ESM-to-CJS rewrite, dynamic-import and import.meta rewrites,
// wrapper compilation, cache insertion before body execution, eviction on
// throw. Must only be called on the Runtime's own goroutine.
func (r *Runtime) loadModule(filename, dir string) (m *Module, err error) {
	if cached, ok := r.cache.get(filename); ok {
		return cached, nil
	}

	data, err := r.fs.Read(filename)
	if err != nil {
		return nil, err
	}
	src := string(data)

	if strings.HasSuffix(filename, ".json") {
		return r.loadJSON(filename, src)
	}

	if !looksLikeCompiledCJS(src) && looksLikeESM(src, filename) {
		src = rewriteESMToCJS(src)
	}
	src = rewriteDynamicImport(src)
	src = rewriteImportMeta(src, filename)

	wrapped := fmt.Sprintf(
		"(function(exports, require, module, __filename, __dirname, process, console, import_meta, __dynamicImport) {\n%s\n})",
		src,
	)

	exportsObj := r.vm.NewObject()
	moduleObj := r.vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	_ = moduleObj.Set("id", filename)

	// Install the module record in the cache before body execution, per
	// spec step 6, to terminate require cycles.
	mod := r.cache.insertPending(filename, exportsObj)
	r.loading = append(r.loading, mod)
	defer func() {
		r.loading = r.loading[:len(r.loading)-1]
	}()

	prog, err := goja.Compile(filename, wrapped, true)
	if err != nil {
		r.cache.remove(filename)
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	fnValue, err := r.vm.RunProgram(prog)
	if err != nil {
		r.cache.remove(filename)
		return nil, fmt.Errorf("evaluating %s: %w", filename, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		r.cache.remove(filename)
		return nil, fmt.Errorf("module wrapper for %s did not produce a function", filename)
	}

	requireFn := r.vm.ToValue(r.makeRequireFunc(dir))
	_ = requireFn.(*goja.Object).Set("cache", r.requireCacheSnapshot())

	processVal, _ := r.shims.Get("shim:process")
	consoleVal, _ := r.shims.Get("shim:console")
	if processVal != nil {
		_ = r.vm.Set("process", processVal)
	}

	importMeta := r.vm.NewObject()
	_ = importMeta.Set("url", "file://"+filename)

	dynamicImportFn := r.vm.ToValue(r.makeDynamicImportFunc(dir))

	if err := func() (callErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				callErr = fmt.Errorf("module %s threw: %v", filename, rec)
			}
		}()
		_, callErr = fn(goja.Undefined(), exportsObj, requireFn, moduleObj, r.vm.ToValue(filename),
			r.vm.ToValue(dir), processVal, consoleVal, importMeta, dynamicImportFn)
		return callErr
	}(); err != nil {
		r.cache.remove(filename)
		return nil, err
	}

	finalExports := moduleObj.Get("exports")
	mod.Exports = finalExports
	r.cache.markLoaded(mod)
	return mod, nil
}

func (r *Runtime) loadJSON(filename, src string) (*Module, error) {
	val, err := r.vm.RunString("(" + src + ")")
	if err != nil {
		return nil, fmt.Errorf("parsing JSON %s: %w", filename, err)
	}
	mod := r.cache.insertPending(filename, val)
	r.cache.markLoaded(mod)
	return mod, nil
}

func (r *Runtime) requireCacheSnapshot() map[string]goja.Value {
	// A defensive, shallow snapshot exposed as require.cache, matching the
	// conventional Node-ism some packages introspect (delete
	// require.cache[...] to force a reload). Mutating this map does not
	// itself affect the real module cache; it exists for read
	// compatibility only.
	out := make(map[string]goja.Value)
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	for p, m := range r.cache.entries {
		out[p] = m.Exports
	}
	return out
}

// makeDynamicImportFunc builds __dynamicImport(specifier), a Promise-
// returning wrapper over require that emulates the CJS-to-ESM namespace
// shape: if the required value is not already ESM-shaped, it is wrapped
// {default: value, ...value}.
func (r *Runtime) makeDynamicImportFunc(fromDir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		promise, resolve, reject := r.vm.NewPromise()
		exports, err := r.requireSync(spec, fromDir)
		if err != nil {
			reject(r.vm.ToValue(err.Error()))
			return r.vm.ToValue(promise)
		}
		ns := toESMNamespace(r.vm, exports)
		resolve(ns)
		return r.vm.ToValue(promise)
	}
}

// toESMNamespace implements the CJS-to-ESM namespace emulation: if the
// value doesn't already look ESM-shaped (no __esModule marker), wrap it as
// {default: value, ...value}.
func toESMNamespace(vm *goja.Runtime, exports goja.Value) goja.Value {
	obj, ok := exports.(*goja.Object)
	if !ok {
		ns := vm.NewObject()
		_ = ns.Set("default", exports)
		return ns
	}
	if esModule := obj.Get("__esModule"); esModule != nil && esModule.ToBoolean() {
		return obj
	}
	ns := vm.NewObject()
	_ = ns.Set("default", obj)
	for _, key := range obj.Keys() {
		_ = ns.Set(key, obj.Get(key))
	}
	return ns
}
