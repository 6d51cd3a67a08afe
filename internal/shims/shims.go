// Package shims holds the closed table of host primitive shims: small
// Go-backed goja objects standing in for the subset of Node built-ins the
// emulated programs are allowed to touch (path, process, events, stream,
// buffer, http/https, zlib, crypto, fs, url, util, os, querystring,
// timers). None of these shell out to a real OS facility; each is a
// self-contained stand-in scoped to what a framework-style server
// component needs.
package shims

import (
	"strings"

	"github.com/dop251/goja"
)

// Table is the concrete shim lookup the module loader consumes through
// its ShimTable interface — satisfied structurally, so neither package
// imports the other.
type Table struct {
	vm        *goja.Runtime
	byID      map[string]goja.Value
	specs     map[string]string // bare specifier -> shim id
	registrar Registrar
	schedule  func(func())
}

// SetScheduler routes asynchronous shim callbacks (fs.watch events)
// through fn instead of invoking the goja runtime directly, for hosts that
// serialize all runtime entry on one goroutine. The default invokes
// callbacks inline.
func (t *Table) SetScheduler(fn func(func())) {
	t.schedule = fn
}

// New builds and installs the full shim table into vm, returning the
// lookup used by the module loader.
func New(vm *goja.Runtime) *Table {
	t := &Table{
		vm:       vm,
		byID:     make(map[string]goja.Value),
		specs:    make(map[string]string),
		schedule: func(fn func()) { fn() },
	}
	t.installPath()
	t.installProcess()
	t.installEvents()
	t.installStream()
	t.installBuffer()
	t.installZlib()
	t.installCrypto()
	t.installConsole()
	t.installHTTP()
	t.installURL()
	t.installUtil()
	t.installOS()
	t.installQuerystring()
	t.installTimers()
	t.installIntercepts()

	t.registerSpecifiers(map[string]string{
		"path":              "shim:path",
		"node:path":         "shim:path",
		"process":           "shim:process",
		"node:process":      "shim:process",
		"events":            "shim:events",
		"node:events":       "shim:events",
		"stream":            "shim:stream",
		"node:stream":       "shim:stream",
		"buffer":            "shim:buffer",
		"node:buffer":       "shim:buffer",
		"zlib":              "shim:zlib",
		"node:zlib":         "shim:zlib",
		"crypto":            "shim:crypto",
		"node:crypto":       "shim:crypto",
		"http":              "shim:http",
		"node:http":         "shim:http",
		"https":             "shim:http",
		"node:https":        "shim:http",
		"url":               "shim:url",
		"node:url":          "shim:url",
		"util":              "shim:util",
		"node:util":         "shim:util",
		"os":                "shim:os",
		"node:os":           "shim:os",
		"querystring":       "shim:querystring",
		"node:querystring":  "shim:querystring",
		"timers":            "shim:timers",
		"node:timers":       "shim:timers",
	})
	return t
}

func (t *Table) registerSpecifiers(m map[string]string) {
	for spec, id := range m {
		t.specs[spec] = id
	}
}

func (t *Table) set(id string, v goja.Value) {
	t.byID[id] = v
}

// Lookup implements internal/runtime's ShimTable interface.
func (t *Table) Lookup(specifier string) (string, bool) {
	spec := strings.TrimPrefix(specifier, "node:")
	if id, ok := t.specs["node:"+spec]; ok {
		return id, true
	}
	if id, ok := t.specs[spec]; ok {
		return id, true
	}
	return "", false
}

// Get implements internal/runtime's ShimTable interface.
func (t *Table) Get(shimID string) (goja.Value, bool) {
	v, ok := t.byID[shimID]
	return v, ok
}
