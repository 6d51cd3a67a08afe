package shims

import (
	"strings"

	"github.com/dop251/goja"
)

// installPath builds Node's `path` module, POSIX flavor only — the
// virtual filesystem has exactly one separator, so the win32 half of the
// API has nothing to express here.
func (t *Table) installPath() {
	obj := t.vm.NewObject()
	_ = obj.Set("sep", "/")
	_ = obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		return t.vm.ToValue(posixJoin(parts...))
	})
	_ = obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		return t.vm.ToValue(posixResolve(parts...))
	})
	_ = obj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(posixDirname(call.Argument(0).String()))
	})
	_ = obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		base := posixBasename(p)
		if len(call.Arguments) > 1 {
			ext := call.Argument(1).String()
			base = strings.TrimSuffix(base, ext)
		}
		return t.vm.ToValue(base)
	})
	_ = obj.Set("extname", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(posixExtname(call.Argument(0).String()))
	})
	_ = obj.Set("relative", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(posixRelative(call.Argument(0).String(), call.Argument(1).String()))
	})
	_ = obj.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return t.vm.ToValue(strings.HasPrefix(call.Argument(0).String(), "/"))
	})
	t.set("shim:path", obj)
}

func posixJoin(parts ...string) string {
	if len(parts) == 0 {
		return "."
	}
	joined := strings.Join(parts, "/")
	return posixClean(joined)
}

func posixResolve(parts ...string) string {
	result := "/"
	for _, p := range parts {
		if strings.HasPrefix(p, "/") {
			result = p
		} else {
			result = posixJoin(result, p)
		}
	}
	return posixClean(result)
}

func posixClean(p string) string {
	absolute := strings.HasPrefix(p, "/")
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !absolute {
				out = append(out, "..")
			}
		default:
			out = append(out, s)
		}
	}
	cleaned := strings.Join(out, "/")
	if absolute {
		return "/" + cleaned
	}
	if cleaned == "" {
		return "."
	}
	return cleaned
}

func posixDirname(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "."
	}
	if idx == 0 {
		return "/"
	}
	return p[:idx]
}

func posixBasename(p string) string {
	p = strings.TrimRight(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func posixExtname(p string) string {
	base := posixBasename(p)
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

func posixRelative(from, to string) string {
	fromParts := splitNonEmpty(posixResolve(from))
	toParts := splitNonEmpty(posixResolve(to))
	i := 0
	for i < len(fromParts) && i < len(toParts) && fromParts[i] == toParts[i] {
		i++
	}
	var out []string
	for range fromParts[i:] {
		out = append(out, "..")
	}
	out = append(out, toParts[i:]...)
	if len(out) == 0 {
		return "."
	}
	return strings.Join(out, "/")
}

func splitNonEmpty(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
