package shims

import "github.com/dop251/goja"

// ServerHandler is the signature internal/httpmodel registers when an
// emulated program calls http.createServer(handler).listen(port). It is
// deliberately untyped (goja.Value in/out) at this layer — internal/
// httpmodel owns translating real Go HTTP semantics into the mock
// request/response objects the handler receives.
type ServerHandler = goja.Callable

// Registrar is handed the handler and port an emulated program passed to
// server.listen(port, cb), and owns wiring that into the VirtualServer
// table and notifying the service-worker bridge. internal/httpmodel's
// Registry is the production implementation, adapted at wiring time.
type Registrar interface {
	Register(port int, handler ServerHandler) error
	Unregister(port int) error
}

// installHTTP builds the http/https shim: createServer(...).listen(port)
// registers into the port registry. Installed as a *mutable* object so
// code that monkey-patches http.request can still replace the method
// without losing createServer.
func (t *Table) installHTTP() {
	obj := t.vm.NewObject()
	_ = obj.Set("createServer", func(call goja.FunctionCall) goja.Value {
		handler, _ := goja.AssertFunction(call.Argument(0))
		return t.vm.ToValue(t.newServerObject(handler))
	})

	// Outbound request/get are inert stubs: there is no network socket to
	// open (a stated non-goal), but SDKs that monkey-patch these methods
	// need something replaceable to patch — which is the whole reason this
	// shim is a plain mutable object.
	_ = obj.Set("request", func(call goja.FunctionCall) goja.Value {
		req := t.vm.NewObject()
		emitter := newEventEmitter(t.vm)
		_ = req.Set("on", emitter.onFunc())
		_ = req.Set("emit", emitter.emitFunc())
		_ = req.Set("write", func(goja.FunctionCall) goja.Value { return t.vm.ToValue(true) })
		_ = req.Set("end", func(goja.FunctionCall) goja.Value {
			emitter.emit("error", t.vm.ToValue("network requests are not available"))
			return goja.Undefined()
		})
		_ = req.Set("abort", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
		return req
	})
	_ = obj.Set("get", obj.Get("request"))

	statusCodes := t.vm.NewObject()
	for code, text := range map[string]string{
		"200": "OK", "201": "Created", "204": "No Content",
		"301": "Moved Permanently", "302": "Found", "304": "Not Modified",
		"400": "Bad Request", "401": "Unauthorized", "403": "Forbidden",
		"404": "Not Found", "405": "Method Not Allowed", "409": "Conflict",
		"500": "Internal Server Error", "502": "Bad Gateway",
		"503": "Service Unavailable",
	} {
		_ = statusCodes.Set(code, text)
	}
	_ = obj.Set("STATUS_CODES", statusCodes)
	_ = obj.Set("METHODS", []string{"GET", "HEAD", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})

	t.set("shim:http", obj)
}

func (t *Table) newServerObject(handler ServerHandler) *goja.Object {
	o := t.vm.NewObject()
	emitter := newEventEmitter(t.vm)
	_ = o.Set("on", emitter.onFunc())
	_ = o.Set("emit", emitter.emitFunc())
	_ = o.Set("listen", func(call goja.FunctionCall) goja.Value {
		port := int(call.Argument(0).ToInteger())
		if t.registrar != nil && handler != nil {
			_ = t.registrar.Register(port, handler)
		}
		if cb, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1)); ok {
			_, _ = cb(goja.Undefined())
		}
		emitter.emit("listening")
		return o
	})
	_ = o.Set("close", func(call goja.FunctionCall) goja.Value {
		emitter.emit("close")
		return o
	})
	return o
}

// SetRegistrar wires the shim's http.createServer(...).listen(...) calls
// into internal/httpmodel.Registry. Called once during wiring at startup.
func (t *Table) SetRegistrar(r Registrar) {
	t.registrar = r
}
