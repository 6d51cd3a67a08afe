package shims

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
)

// installQuerystring builds the querystring shim over net/url's encoding.
func (t *Table) installQuerystring() {
	vm := t.vm
	obj := vm.NewObject()

	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		values, err := url.ParseQuery(call.Argument(0).String())
		if err != nil {
			return vm.NewObject()
		}
		out := vm.NewObject()
		for k, vs := range values {
			if len(vs) == 1 {
				_ = out.Set(k, vs[0])
			} else {
				_ = out.Set(k, vs)
			}
		}
		return out
	})
	_ = obj.Set("stringify", func(call goja.FunctionCall) goja.Value {
		o, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return vm.ToValue("")
		}
		var parts []string
		for _, k := range o.Keys() {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(o.Get(k).String()))
		}
		return vm.ToValue(strings.Join(parts, "&"))
	})
	_ = obj.Set("escape", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(url.QueryEscape(call.Argument(0).String()))
	})
	_ = obj.Set("unescape", func(call goja.FunctionCall) goja.Value {
		s, err := url.QueryUnescape(call.Argument(0).String())
		if err != nil {
			return call.Argument(0)
		}
		return vm.ToValue(s)
	})

	t.set("shim:querystring", obj)
}
