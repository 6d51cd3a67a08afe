package shims

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// installUtil builds the util shim: format-style interpolation,
// promisify/callbackify bridges, inherits, and the types helpers the
// loaded packages actually poke at.
func (t *Table) installUtil() {
	vm := t.vm
	obj := vm.NewObject()

	_ = obj.Set("format", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(utilFormat(call.Arguments))
	})
	_ = obj.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(call.Argument(0).String())
	})
	_ = obj.Set("inherits", func(call goja.FunctionCall) goja.Value {
		ctor, ok1 := call.Argument(0).(*goja.Object)
		super, ok2 := call.Argument(1).(*goja.Object)
		if ok1 && ok2 {
			proto := vm.NewObject()
			if sp := super.Get("prototype"); sp != nil {
				if spObj, ok := sp.(*goja.Object); ok {
					_ = proto.SetPrototype(spObj)
				}
			}
			_ = ctor.Set("prototype", proto)
			_ = ctor.Set("super_", super)
		}
		return goja.Undefined()
	})
	_ = obj.Set("promisify", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.ToValue("promisify target is not a function"))
		}
		return vm.ToValue(func(inner goja.FunctionCall) goja.Value {
			p, resolve, reject := vm.NewPromise()
			cb := vm.ToValue(func(cbCall goja.FunctionCall) goja.Value {
				errArg := cbCall.Argument(0)
				if errArg != nil && !goja.IsUndefined(errArg) && !goja.IsNull(errArg) {
					reject(errArg)
				} else {
					resolve(cbCall.Argument(1))
				}
				return goja.Undefined()
			})
			args := append(append([]goja.Value{}, inner.Arguments...), cb)
			if _, err := fn(goja.Undefined(), args...); err != nil {
				reject(vm.ToValue(err.Error()))
			}
			return vm.ToValue(p)
		})
	})
	_ = obj.Set("callbackify", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.ToValue("callbackify target is not a function"))
		}
		return vm.ToValue(func(inner goja.FunctionCall) goja.Value {
			if len(inner.Arguments) == 0 {
				return goja.Undefined()
			}
			cb, _ := goja.AssertFunction(inner.Arguments[len(inner.Arguments)-1])
			ret, err := fn(goja.Undefined(), inner.Arguments[:len(inner.Arguments)-1]...)
			if cb != nil {
				if err != nil {
					_, _ = cb(goja.Undefined(), vm.ToValue(err.Error()))
				} else {
					_, _ = cb(goja.Undefined(), goja.Null(), ret)
				}
			}
			return goja.Undefined()
		})
	})

	types := vm.NewObject()
	_ = types.Set("isPromise", func(call goja.FunctionCall) goja.Value {
		_, ok := call.Argument(0).Export().(*goja.Promise)
		return vm.ToValue(ok)
	})
	_ = obj.Set("types", types)

	_ = obj.Set("isDeepStrictEqual", func(call goja.FunctionCall) goja.Value {
		a := fmt.Sprintf("%v", call.Argument(0).Export())
		b := fmt.Sprintf("%v", call.Argument(1).Export())
		return vm.ToValue(a == b)
	})

	t.set("shim:util", obj)
}

// utilFormat implements the %s/%d/%i/%j/%o/%O placeholders of util.format,
// each replaced by the argument's plain string form, plus %% for a literal
// percent sign; extra arguments append space-separated, as node does.
func utilFormat(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}
	format := args[0].String()
	rest := args[1:]
	var b strings.Builder
	i := 0
	for j := 0; j < len(format); j++ {
		if format[j] == '%' && j+1 < len(format) {
			verb := format[j+1]
			if verb == '%' {
				b.WriteByte('%')
				j++
				continue
			}
			if (verb == 's' || verb == 'd' || verb == 'i' || verb == 'j' || verb == 'o' || verb == 'O') && i < len(rest) {
				b.WriteString(rest[i].String())
				i++
				j++
				continue
			}
		}
		b.WriteByte(format[j])
	}
	for ; i < len(rest); i++ {
		b.WriteByte(' ')
		b.WriteString(rest[i].String())
	}
	return b.String()
}
