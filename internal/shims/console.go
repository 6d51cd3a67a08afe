package shims

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// installConsole routes console.log/warn/error/info through zerolog, so
// emulated-program output is structured and leveled the same way the rest
// of this module logs, rather than going to a bare fmt.Println.
func (t *Table) installConsole() {
	obj := t.vm.NewObject()
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := formatConsoleArgs(call.Arguments)
			switch level {
			case "warn":
				log.Warn().Str("source", "runtime").Msg(msg)
			case "error":
				log.Error().Str("source", "runtime").Msg(msg)
			default:
				log.Info().Str("source", "runtime").Msg(msg)
			}
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", logAt("log"))
	_ = obj.Set("info", logAt("log"))
	_ = obj.Set("warn", logAt("warn"))
	_ = obj.Set("error", logAt("error"))
	_ = obj.Set("debug", logAt("log"))
	t.set("shim:console", obj)
}

func formatConsoleArgs(args []goja.Value) string {
	parts := make([]interface{}, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return fmt.Sprintln(parts...)
}
