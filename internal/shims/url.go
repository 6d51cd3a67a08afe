package shims

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
)

// installURL builds the url shim: parse/format plus a URL class shaped
// closely enough for the packages a dev server loads (most of them only
// read pathname/searchParams off parsed values).
func (t *Table) installURL() {
	vm := t.vm
	obj := vm.NewObject()

	makeURLObject := func(u *url.URL) *goja.Object {
		o := vm.NewObject()
		_ = o.Set("href", u.String())
		_ = o.Set("protocol", u.Scheme+":")
		_ = o.Set("host", u.Host)
		_ = o.Set("hostname", u.Hostname())
		_ = o.Set("port", u.Port())
		_ = o.Set("pathname", u.Path)
		_ = o.Set("hash", fragmentWithHash(u))
		search := ""
		if u.RawQuery != "" {
			search = "?" + u.RawQuery
		}
		_ = o.Set("search", search)

		params := vm.NewObject()
		values := u.Query()
		_ = params.Set("get", func(call goja.FunctionCall) goja.Value {
			key := call.Argument(0).String()
			if vs, ok := values[key]; ok && len(vs) > 0 {
				return vm.ToValue(vs[0])
			}
			return goja.Null()
		})
		_ = params.Set("getAll", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(values[call.Argument(0).String()])
		})
		_ = params.Set("has", func(call goja.FunctionCall) goja.Value {
			_, ok := values[call.Argument(0).String()]
			return vm.ToValue(ok)
		})
		_ = params.Set("toString", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(u.RawQuery)
		})
		_ = o.Set("searchParams", params)
		_ = o.Set("toString", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(u.String())
		})
		return o
	}

	ctor := func(call goja.ConstructorCall) *goja.Object {
		raw := call.Argument(0).String()
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Argument(1)) {
			base, err := url.Parse(call.Argument(1).String())
			if err == nil {
				if rel, err := url.Parse(raw); err == nil {
					u := base.ResolveReference(rel)
					inst := makeURLObject(u)
					copyInto(call.This, inst)
					return nil
				}
			}
		}
		u, err := url.Parse(raw)
		if err != nil {
			panic(vm.ToValue("Invalid URL: " + raw))
		}
		copyInto(call.This, makeURLObject(u))
		return nil
	}
	_ = obj.Set("URL", vm.ToValue(ctor))

	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		u, err := url.Parse(call.Argument(0).String())
		if err != nil {
			return goja.Null()
		}
		return makeURLObject(u)
	})
	_ = obj.Set("format", func(call goja.FunctionCall) goja.Value {
		o, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return vm.ToValue("")
		}
		var b strings.Builder
		if v := o.Get("protocol"); v != nil && !goja.IsUndefined(v) {
			b.WriteString(strings.TrimSuffix(v.String(), ":"))
			b.WriteString("://")
		}
		if v := o.Get("host"); v != nil && !goja.IsUndefined(v) {
			b.WriteString(v.String())
		}
		if v := o.Get("pathname"); v != nil && !goja.IsUndefined(v) {
			b.WriteString(v.String())
		}
		if v := o.Get("search"); v != nil && !goja.IsUndefined(v) {
			b.WriteString(v.String())
		}
		return vm.ToValue(b.String())
	})
	_ = obj.Set("fileURLToPath", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.TrimPrefix(call.Argument(0).String(), "file://"))
	})
	_ = obj.Set("pathToFileURL", func(call goja.FunctionCall) goja.Value {
		o := vm.NewObject()
		_ = o.Set("href", "file://"+call.Argument(0).String())
		return o
	})

	t.set("shim:url", obj)
}

func fragmentWithHash(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}

// copyInto copies every enumerable key of src onto dst, used by shim
// constructors that build an instance separately from call.This.
func copyInto(dst, src *goja.Object) {
	for _, k := range src.Keys() {
		_ = dst.Set(k, src.Get(k))
	}
}
