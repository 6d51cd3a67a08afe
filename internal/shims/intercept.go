package shims

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

// installIntercepts builds the stand-ins for the always-redirected
// package families: the native transform and bundler packages map onto
// the in-process esbuild service, the formatter is an identity, and the
// telemetry SDK is swallowed whole. Packages load these instead of any
// installed copy, so their surface is whatever those packages' common
// call sites actually touch.
func (t *Table) installIntercepts() {
	vm := t.vm

	transformSync := func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		opts := api.TransformOptions{
			Loader:   api.LoaderJS,
			Format:   api.FormatCommonJS,
			Target:   api.ESNext,
			LogLevel: api.LogLevelSilent,
		}
		if o, ok := call.Argument(1).(*goja.Object); ok {
			if v := o.Get("loader"); v != nil && !goja.IsUndefined(v) {
				switch v.String() {
				case "ts":
					opts.Loader = api.LoaderTS
				case "tsx":
					opts.Loader = api.LoaderTSX
				case "jsx":
					opts.Loader = api.LoaderJSX
				}
			}
			if v := o.Get("jsx"); v != nil && !goja.IsUndefined(v) {
				if v.String() == "automatic" {
					opts.JSX = api.JSXAutomatic
				}
			}
			// The native-transform package's option shape nests syntax
			// under jsc.parser; accept it so swc-style call sites work.
			if jsc, ok := o.Get("jsc").(*goja.Object); ok {
				if parser, ok := jsc.Get("parser").(*goja.Object); ok {
					if syn := parser.Get("syntax"); syn != nil && strings.Contains(syn.String(), "typescript") {
						opts.Loader = api.LoaderTS
						if tsx := parser.Get("tsx"); tsx != nil && tsx.ToBoolean() {
							opts.Loader = api.LoaderTSX
						}
					}
				}
			}
		}
		result := api.Transform(src, opts)
		if len(result.Errors) > 0 {
			panic(vm.ToValue(result.Errors[0].Text))
		}
		out := vm.NewObject()
		_ = out.Set("code", string(result.Code))
		_ = out.Set("map", "")
		return out
	}
	transformAsync := func(call goja.FunctionCall) goja.Value {
		p, resolve, reject := vm.NewPromise()
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					reject(vm.ToValue(rec))
				}
			}()
			resolve(transformSync(call))
		}()
		return vm.ToValue(p)
	}

	// Native-transform package: transformSync/transform plus the minify
	// entry points some call sites use, served by the same service.
	transformObj := vm.NewObject()
	_ = transformObj.Set("transformSync", transformSync)
	_ = transformObj.Set("transform", transformAsync)
	_ = transformObj.Set("minifySync", func(call goja.FunctionCall) goja.Value {
		result := api.Transform(call.Argument(0).String(), api.TransformOptions{
			Loader:            api.LoaderJS,
			MinifySyntax:      true,
			MinifyWhitespace:  true,
			MinifyIdentifiers: true,
			LogLevel:          api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			panic(vm.ToValue(result.Errors[0].Text))
		}
		out := vm.NewObject()
		_ = out.Set("code", string(result.Code))
		return out
	})
	t.set("shim:transform", transformObj)

	// Native-bundler package: the Transform surface is shared; build is
	// not available in-page and reports as such rather than pretending.
	bundlerObj := vm.NewObject()
	_ = bundlerObj.Set("transformSync", transformSync)
	_ = bundlerObj.Set("transform", transformAsync)
	_ = bundlerObj.Set("buildSync", func(call goja.FunctionCall) goja.Value {
		panic(vm.ToValue("build is not available in this environment; transform individual files instead"))
	})
	_ = bundlerObj.Set("build", func(call goja.FunctionCall) goja.Value {
		p, _, reject := vm.NewPromise()
		reject(vm.ToValue("build is not available in this environment; transform individual files instead"))
		return vm.ToValue(p)
	})
	_ = bundlerObj.Set("version", "0.21.5")
	t.set("shim:bundler", bundlerObj)

	// Formatter package: identity format. Dev-server output is never
	// prettier-formatted here, but packages that format error overlays
	// keep working with the source unchanged.
	formatterObj := vm.NewObject()
	_ = formatterObj.Set("format", func(call goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		resolve(call.Argument(0))
		return vm.ToValue(p)
	})
	_ = formatterObj.Set("formatSync", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	})
	t.set("shim:formatter", formatterObj)

	// Telemetry SDK: every call disappears.
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	telemetryObj := vm.NewObject()
	for _, name := range []string{"track", "identify", "page", "flush", "init", "inject"} {
		_ = telemetryObj.Set(name, noop)
	}
	t.set("shim:telemetry", telemetryObj)
}
