package shims

import (
	"github.com/dop251/goja"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// InstallFS wires the filesystem shim over a virtual filesystem. Separate
// from New because the fs shim is the one entry in the table with an
// external dependency; hosts that never hand emulated code a filesystem
// simply don't call this.
func (t *Table) InstallFS(fs *vfs.FS) {
	vm := t.vm
	obj := vm.NewObject()

	throwErr := func(err error) {
		panic(vm.ToValue(err.Error()))
	}

	_ = obj.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		data, err := fs.Read(p)
		if err != nil {
			throwErr(err)
		}
		if len(call.Arguments) > 1 {
			enc := call.Argument(1)
			encStr := ""
			if o, ok := enc.(*goja.Object); ok {
				if v := o.Get("encoding"); v != nil && !goja.IsUndefined(v) {
					encStr = v.String()
				}
			} else if !goja.IsUndefined(enc) {
				encStr = enc.String()
			}
			if encStr == "utf8" || encStr == "utf-8" {
				return vm.ToValue(string(data))
			}
		}
		return vm.ToValue(vm.NewArrayBuffer(data))
	})
	_ = obj.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		data := []byte(call.Argument(1).String())
		if ab, ok := call.Argument(1).Export().(goja.ArrayBuffer); ok {
			data = ab.Bytes()
		}
		if err := fs.Write(p, data); err != nil {
			throwErr(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(fs.Exists(call.Argument(0).String()))
	})
	_ = obj.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		recursive := false
		if o, ok := call.Argument(1).(*goja.Object); ok {
			if v := o.Get("recursive"); v != nil {
				recursive = v.ToBoolean()
			}
		}
		if err := fs.Mkdir(call.Argument(0).String(), recursive); err != nil {
			throwErr(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		names, err := fs.Readdir(call.Argument(0).String())
		if err != nil {
			throwErr(err)
		}
		return vm.ToValue(names)
	})
	_ = obj.Set("statSync", func(call goja.FunctionCall) goja.Value {
		st, err := fs.Stat(call.Argument(0).String())
		if err != nil {
			throwErr(err)
		}
		o := vm.NewObject()
		isDir := st.Kind == vfs.KindDir
		_ = o.Set("isDirectory", func(goja.FunctionCall) goja.Value { return vm.ToValue(isDir) })
		_ = o.Set("isFile", func(goja.FunctionCall) goja.Value { return vm.ToValue(!isDir) })
		_ = o.Set("size", len(st.Data))
		_ = o.Set("mtimeMs", st.ModTime.UnixMilli())
		return o
	})
	_ = obj.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
		if err := fs.Unlink(call.Argument(0).String()); err != nil {
			throwErr(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("rmdirSync", func(call goja.FunctionCall) goja.Value {
		recursive := false
		if o, ok := call.Argument(1).(*goja.Object); ok {
			if v := o.Get("recursive"); v != nil {
				recursive = v.ToBoolean()
			}
		}
		if err := fs.Rmdir(call.Argument(0).String(), recursive); err != nil {
			throwErr(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("renameSync", func(call goja.FunctionCall) goja.Value {
		if err := fs.Rename(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			throwErr(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("watch", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		recursive := false
		cbIdx := 1
		if o, ok := call.Argument(1).(*goja.Object); ok {
			if v := o.Get("recursive"); v != nil {
				recursive = v.ToBoolean()
				cbIdx = 2
			}
		}
		cb, _ := goja.AssertFunction(call.Argument(cbIdx))
		w, err := fs.Watch(p, recursive)
		if err != nil {
			throwErr(err)
		}
		if cb != nil {
			// Callback delivery hops through the table's scheduler so the
			// goja runtime is only ever entered from its owning goroutine.
			go func() {
				for ev := range w.C() {
					ev := ev
					t.schedule(func() {
						kind := "change"
						if ev.Kind == vfs.EventDelete {
							kind = "delete"
						}
						_, _ = cb(goja.Undefined(), vm.ToValue(kind), vm.ToValue(ev.Path))
					})
				}
			}()
		}
		watcher := vm.NewObject()
		_ = watcher.Set("close", func(goja.FunctionCall) goja.Value {
			w.Close()
			return goja.Undefined()
		})
		return watcher
	})

	// promises mirror of the sync surface, as already-settled promises —
	// the VFS is synchronous underneath.
	promises := vm.NewObject()
	for _, name := range []string{"readFile", "writeFile", "mkdir", "readdir", "stat", "unlink"} {
		fn, _ := goja.AssertFunction(obj.Get(name + "Sync"))
		if fn == nil {
			continue
		}
		syncFn := fn
		_ = promises.Set(name, func(call goja.FunctionCall) goja.Value {
			p, resolve, reject := vm.NewPromise()
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						reject(vm.ToValue(rec))
					}
				}()
				v, err := syncFn(goja.Undefined(), call.Arguments...)
				if err != nil {
					reject(vm.ToValue(err.Error()))
					return
				}
				resolve(v)
			}()
			return vm.ToValue(p)
		})
	}
	_ = obj.Set("promises", promises)

	t.set("shim:fs", obj)
	t.registerSpecifiers(map[string]string{
		"fs":      "shim:fs",
		"node:fs": "shim:fs",
	})
}
