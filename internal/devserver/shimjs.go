package devserver

// Served JS stubs for the framework's own client-side modules. Pages
// import these as "next/<name>"; the HTML shell's import map points each
// at /_next/shims/<name>.js. Each stub is the smallest module that keeps a
// typical page functional inside the iframe: link navigates, router pushes
// history, head mutates the document, the rest degrade to passthroughs.
var shimModuleNames = []string{
	"link", "router", "navigation", "head", "image", "dynamic", "script",
	"font/google", "font/local",
}

var shimModules = map[string]string{
	"link": `import React from "react";
export default function Link({ href, children, ...rest }) {
  const onClick = (e) => {
    e.preventDefault();
    history.pushState({}, "", href);
    window.dispatchEvent(new PopStateEvent("popstate"));
  };
  return React.createElement("a", { href, onClick, ...rest }, children);
}
`,

	"router": `export function useRouter() {
  return {
    pathname: location.pathname,
    query: Object.fromEntries(new URLSearchParams(location.search)),
    push(href) { history.pushState({}, "", href); window.dispatchEvent(new PopStateEvent("popstate")); },
    replace(href) { history.replaceState({}, "", href); window.dispatchEvent(new PopStateEvent("popstate")); },
    back() { history.back(); },
    reload() { location.reload(); },
  };
}
export default { useRouter };
`,

	"navigation": `export function useRouter() {
  return {
    push(href) { history.pushState({}, "", href); window.dispatchEvent(new PopStateEvent("popstate")); },
    replace(href) { history.replaceState({}, "", href); window.dispatchEvent(new PopStateEvent("popstate")); },
    back() { history.back(); },
    refresh() { location.reload(); },
  };
}
export function usePathname() { return location.pathname; }
export function useSearchParams() { return new URLSearchParams(location.search); }
export function useParams() { return globalThis.__route_params__ || {}; }
export function redirect(href) { location.href = href; }
export function notFound() { throw new Error("NEXT_NOT_FOUND"); }
`,

	"head": `import React from "react";
export default function Head({ children }) {
  React.useEffect(() => {
    const nodes = React.Children.toArray(children);
    for (const node of nodes) {
      if (!node || !node.type) continue;
      if (node.type === "title") {
        document.title = node.props.children;
      } else if (node.type === "meta" || node.type === "link") {
        const el = document.createElement(node.type);
        for (const [k, v] of Object.entries(node.props)) el.setAttribute(k, v);
        document.head.appendChild(el);
      }
    }
  });
  return null;
}
`,

	"image": `import React from "react";
export default function Image({ src, alt, width, height, ...rest }) {
  delete rest.priority;
  delete rest.quality;
  delete rest.placeholder;
  delete rest.blurDataURL;
  delete rest.fill;
  delete rest.loader;
  return React.createElement("img", { src, alt, width, height, ...rest });
}
`,

	"dynamic": `import React from "react";
export default function dynamic(loader, options = {}) {
  const Lazy = React.lazy(() =>
    Promise.resolve(typeof loader === "function" ? loader() : loader).then(
      (mod) => (mod && mod.default ? mod : { default: mod })
    )
  );
  return function DynamicComponent(props) {
    const fallback = options.loading ? React.createElement(options.loading) : null;
    return React.createElement(React.Suspense, { fallback }, React.createElement(Lazy, props));
  };
}
`,

	"script": `import React from "react";
export default function Script({ src, children, strategy, onLoad, ...rest }) {
  React.useEffect(() => {
    const el = document.createElement("script");
    if (src) el.src = src;
    if (children) el.textContent = children;
    for (const [k, v] of Object.entries(rest)) el.setAttribute(k, v);
    if (onLoad) el.onload = onLoad;
    document.body.appendChild(el);
    return () => el.remove();
  }, [src]);
  return null;
}
`,

	"font/google": `const fontHandler = {
  get(target, prop) {
    if (prop in target) return target[prop];
    return () => ({ className: "", style: { fontFamily: String(prop) }, variable: "" });
  },
};
export default new Proxy({}, fontHandler);
export const Inter = () => ({ className: "", style: { fontFamily: "Inter" }, variable: "" });
export const Roboto = () => ({ className: "", style: { fontFamily: "Roboto" }, variable: "" });
`,

	"font/local": `export default function localFont() {
  return { className: "", style: { fontFamily: "inherit" }, variable: "" };
}
`,
}
