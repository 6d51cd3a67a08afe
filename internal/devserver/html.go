package devserver

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reactVersion pins the React build every shell resolves through the import
// map, and refreshRuntime is the React Refresh runtime URL. The page modules
// themselves import bare "react"/"react-dom" and the browser resolves them
// through the import map, so every module shares one React instance.
const (
	reactVersion   = "18.3.1"
	refreshRuntime = "https://esm.sh/react-refresh@0.14.2/runtime"
)

// importMapJSON builds the shell's import map: React family to CDN URLs,
// framework client packages to the served shim endpoints.
func importMapJSON(virtualPrefix string) []byte {
	imports := map[string]string{
		"react":                 "https://esm.sh/react@" + reactVersion,
		"react/jsx-runtime":     "https://esm.sh/react@" + reactVersion + "/jsx-runtime",
		"react/jsx-dev-runtime": "https://esm.sh/react@" + reactVersion + "/jsx-dev-runtime",
		"react-dom":             "https://esm.sh/react-dom@" + reactVersion,
		"react-dom/client":      "https://esm.sh/react-dom@" + reactVersion + "/client",
	}
	for _, name := range shimModuleNames {
		imports["next/"+name] = virtualPrefix + "/_next/shims/" + name + ".js"
	}
	data, _ := json.Marshal(map[string]interface{}{"imports": imports})
	return data
}

// ImportMapPackages lists the bare package names the shell's import map
// covers; the transform layer leaves these alone instead of redirecting
// them to the CDN.
var ImportMapPackages = []string{"react", "react-dom", "next"}

// envScript exposes only the whitelisted public environment variables plus
// the base path to client code; NODE_ENV defaults to "development" unless
// env sets it. Some packages read process.env at module
// scope, so the object is installed before any module script runs.
func envScript(env map[string]string, basePath string) string {
	merged := map[string]string{"NODE_ENV": "development"}
	for k, v := range env {
		merged[k] = v
	}
	envJSON, _ := json.Marshal(merged)
	bpJSON, _ := json.Marshal(basePath)
	return fmt.Sprintf(`<script>
globalThis.process = globalThis.process || {};
globalThis.process.env = Object.assign(%s, globalThis.process.env || {});
globalThis.__BASE_PATH__ = %s;
</script>`, envJSON, bpJSON)
}

// tailwindScript injects the CSS utility framework's browser runtime when
// the project carries a config for it.
func tailwindScript(configSource string) string {
	return fmt.Sprintf(`<script src="https://cdn.tailwindcss.com"></script>
<script>
try { tailwind.config = (() => { const module = {exports: {}}; %s; return module.exports; })(); } catch (e) {}
</script>`, configSource)
}

// refreshPreamble loads the React Refresh runtime and installs the
// registration globals. It must appear before any other module script —
// component modules reference $RefreshReg$/$RefreshSig$ at evaluation time.
const refreshPreamble = `<script type="module">
const RefreshRuntime = (await import("` + refreshRuntime + `")).default;
RefreshRuntime.injectIntoGlobalHook(window);
globalThis.$RefreshRuntime$ = RefreshRuntime;
globalThis.$RefreshReg$ = () => {};
globalThis.$RefreshSig$ = () => (type) => type;
</script>`

// hmrClientScript is the in-iframe HMR client. It listens for postMessage
// updates tagged with the server's channel, bumps CSS links in place,
// batches source updates over a short window, re-imports each changed
// module with a cache-busting query, then asks the refresh runtime to
// re-render. Any failure falls back to a full reload.
func hmrClientScript(channelTag string) string {
	return fmt.Sprintf(`<script type="module">
globalThis.__hmr__ = {
  _modules: new Map(),
  createContext(url) {
    const hot = { _acceptCb: null, accept(cb) { hot._acceptCb = cb || (() => {}); } };
    globalThis.__hmr__._modules.set(url, hot);
    return hot;
  },
};
const CHANNEL = %q;
let pending = [];
let timer = null;
async function applyUpdates(updates) {
  for (const u of updates) {
    if (u.path.endsWith(".css")) {
      for (const link of document.querySelectorAll("link[rel=stylesheet]")) {
        if (link.href.includes(u.path)) {
          const url = new URL(link.href);
          url.searchParams.set("t", u.timestamp);
          link.href = url.toString();
        }
      }
      for (const style of document.querySelectorAll("style[data-id]")) {
        if (style.dataset.id === u.path) {
          try { await import("." + u.path + "?module&t=" + u.timestamp); } catch (e) {}
        }
      }
      continue;
    }
    try {
      await import("." + u.path + "?t=" + u.timestamp);
    } catch (e) {
      console.error("[hmr] failed to update " + u.path, e);
      location.reload();
      return;
    }
  }
  if (globalThis.$RefreshRuntime$) {
    globalThis.$RefreshRuntime$.performReactRefresh();
  }
}
window.addEventListener("message", (e) => {
  const msg = e.data;
  if (!msg || msg.channel !== CHANNEL) return;
  if (msg.type === "full-reload") { location.reload(); return; }
  pending.push(msg);
  clearTimeout(timer);
  timer = setTimeout(() => {
    const updates = pending;
    pending = [];
    applyUpdates(updates);
  }, 30);
});
</script>`, channelTag)
}

// pageModuleScript mounts the resolved page. For App-Router pages the
// layout chain wraps the page in declared order, outermost first. Modules
// are imported relative to the document so they resolve under the same
// virtual prefix the document itself was served from.
func pageModuleScript(res RouteResolution) string {
	var b strings.Builder
	b.WriteString(`<script type="module">` + "\n")
	b.WriteString(`import React from "react";` + "\n")
	b.WriteString(`import { createRoot } from "react-dom/client";` + "\n")
	for i, layout := range res.LayoutChain {
		fmt.Fprintf(&b, "const Layout%d = (await import(%q)).default;\n", i, "."+layout)
	}
	fmt.Fprintf(&b, "const Page = (await import(%q)).default;\n", "."+res.File)
	paramsJSON, _ := json.Marshal(res.Params)
	fmt.Fprintf(&b, "const params = %s;\n", paramsJSON)

	expr := "React.createElement(Page, { params })"
	for i := len(res.LayoutChain) - 1; i >= 0; i-- {
		expr = fmt.Sprintf("React.createElement(Layout%d, { params }, %s)", i, expr)
	}
	fmt.Fprintf(&b, "createRoot(document.getElementById(\"__next\")).render(%s);\n", expr)
	b.WriteString("</script>")
	return b.String()
}

// renderPageHTML assembles the full document for a resolved page route.
func (s *FrameworkServer) renderPageHTML(res RouteResolution) string {
	var head strings.Builder
	head.WriteString(`<meta charset="utf-8">` + "\n")
	head.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">` + "\n")
	fmt.Fprintf(&head, "<script type=\"importmap\">%s</script>\n", importMapJSON(s.virtualPrefix))
	head.WriteString(envScript(s.cfg.Env, s.cfg.BasePath) + "\n")
	if tw, err := s.fs.ReadString("/tailwind.config.js"); err == nil {
		head.WriteString(tailwindScript(tw) + "\n")
	}
	// Refresh preamble before every other module script.
	head.WriteString(refreshPreamble + "\n")
	head.WriteString(hmrClientScript(s.hmrTag) + "\n")

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
%s</head>
<body>
<div id="__next"></div>
%s
</body>
</html>`, head.String(), pageModuleScript(res))
}

// notFoundFallbackHTML is the minimal 404 document served when no custom
// not-found page exists.
const notFoundFallbackHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>404</title></head>
<body style="font-family: system-ui; text-align: center; padding-top: 4rem">
<h1>404</h1>
<p>This page could not be found.</p>
</body>
</html>`
