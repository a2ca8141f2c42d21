package browser

import (
	"encoding/json"
	"fmt"
)

// domHelpers is prepended to every DOM script. Paths are built from
// nth-of-type steps, so they stay valid while the DOM is unchanged and
// fail to resolve (rather than hit the wrong element) after it changes.
// Steps are resolved child by child from their document or shadow root,
// never with a descendant query that could match a nested element.
const domHelpers = `
const SEP = ' >>> ';
const cssPath = (el) => {
  const steps = [];
  for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
    let i = 1;
    for (let s = n.previousElementSibling; s; s = s.previousElementSibling) {
      if (s.tagName === n.tagName) i++;
    }
    steps.unshift(n.tagName.toLowerCase() + ':nth-of-type(' + i + ')');
  }
  return steps.join(' > ');
};
const STEP = /^(.+):nth-of-type\((\d+)\)$/;
const walkSteps = (root, part) => {
  let el = null;
  let parent = root;
  for (const s of part.split(' > ')) {
    const m = STEP.exec(s);
    if (!m) return null;
    let n = parseInt(m[2], 10);
    el = null;
    for (const c of parent.children) {
      if (c.tagName.toLowerCase() === m[1] && --n === 0) { el = c; break; }
    }
    if (!el) return null;
    parent = el;
  }
  return el;
};
const resolve = (path) => {
  let root = document;
  const parts = path.split(SEP);
  for (let i = 0; i < parts.length; i++) {
    const el = walkSteps(root, parts[i]);
    if (!el) return null;
    if (i === parts.length - 1) return el;
    root = el.shadowRoot || (() => { try { return el.contentDocument; } catch (e) { return null; } })();
    if (!root) return null;
  }
  return null;
};
const children = (root, prefix, win, fn) => {
  root.querySelectorAll('*').forEach((el) => {
    if (el.shadowRoot) fn(el.shadowRoot, prefix + cssPath(el) + SEP, win, el);
    if (el.tagName === 'IFRAME' || el.tagName === 'FRAME') {
      let doc = null;
      try { doc = el.contentDocument; } catch (e) {}
      if (doc && doc.documentElement) fn(doc, prefix + cssPath(el) + SEP, el.contentWindow, el);
    }
  });
};
`

// candidatesScript collects interactive elements across the document, its
// same-origin iframes and open shadow roots.
const candidatesScript = `(() => {` + domHelpers + `
const SELECTOR = 'a, button, .btn, [role=button], input[type=submit], input[type=button], [onclick]';
const LIMIT = 600;
const out = [];
const visible = (el, win) => {
  const r = el.getBoundingClientRect();
  if (r.width < 2 || r.height < 2) return false;
  const st = win.getComputedStyle(el);
  return st.display !== 'none' && st.visibility !== 'hidden' && parseFloat(st.opacity || '1') > 0.05;
};
const walk = (root, prefix, win, origin) => {
  root.querySelectorAll(SELECTOR).forEach((el) => {
    if (out.length >= LIMIT) return;
    let text = (el.innerText || el.value || el.getAttribute('aria-label') || el.title || '').trim();
    let href = typeof el.href === 'string' ? el.href : (el.getAttribute('data-href') || '');
    if (href.startsWith('javascript:')) href = '';
    if (!text && !href) return;
    out.push({ text: text.slice(0, 300), href, visible: visible(el, win), path: prefix + cssPath(el), origin });
  });
  children(root, prefix, win, (child, p, w) => {
    let o = origin;
    try { if (child.location) o = child.location.href; } catch (e) {}
    walk(child, p, w, o);
  });
};
walk(document, '', window, location.href);
return out;
})()`

// scrollScript scrolls the page and same-origin frames to the bottom so
// lazily rendered download sections appear.
const scrollScript = `(() => {` + domHelpers + `
const scroll = (doc, win) => {
  try {
    const h = Math.max(doc.body ? doc.body.scrollHeight : 0, doc.documentElement ? doc.documentElement.scrollHeight : 0);
    win.scrollTo(0, h);
  } catch (e) {}
};
scroll(document, window);
children(document, '', window, (child, p, w) => { if (child.nodeType === 9) scroll(child, w); });
return true;
})()`

const snapshotScript = `(() => ({
  url: location.href,
  title: document.title || '',
  html: document.documentElement ? document.documentElement.outerHTML : ''
}))()`

const viewportScript = `(() => ({ x: 0, y: 0, width: window.innerWidth, height: window.innerHeight }))()`

// clickScript activates the element at a path. Returns false when the path
// no longer resolves.
func clickScript(path string) string {
	return fmt.Sprintf(`((path) => {`+domHelpers+`
const el = resolve(path);
if (!el) return false;
try { el.scrollIntoView({ block: 'center', inline: 'center' }); } catch (e) {}
if (typeof el.click === 'function') { el.click(); } else { el.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window })); }
return true;
})(%s)`, jsString(path))
}

// locateScript finds the first element matching any selector and returns
// its box in top-level viewport coordinates.
func locateScript(selectors []string) string {
	return fmt.Sprintf(`((selectors) => {`+domHelpers+`
const offset = (win) => {
  let x = 0, y = 0;
  try {
    for (let w = win; w && w.frameElement; w = w.parent) {
      const r = w.frameElement.getBoundingClientRect();
      x += r.left + (w.frameElement.clientLeft || 0);
      y += r.top + (w.frameElement.clientTop || 0);
    }
  } catch (e) {}
  return { x, y };
};
let found = null;
const search = (root, win) => {
  if (found) return;
  for (const sel of selectors) {
    let el = null;
    try { el = root.querySelector(sel); } catch (e) {}
    if (el) {
      const r = el.getBoundingClientRect();
      if (r.width > 0 && r.height > 0) {
        const o = offset(win);
        found = { found: true, x: r.left + o.x, y: r.top + o.y, width: r.width, height: r.height };
        return;
      }
    }
  }
  children(root, '', win, (child, p, w) => search(child, w));
};
search(document, window);
return found || { found: false, x: 0, y: 0, width: 0, height: 0 };
})(%s)`, jsValue(selectors))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsValue(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// rawCandidate mirrors the objects returned by candidatesScript.
type rawCandidate struct {
	Text    string `json:"text"`
	Href    string `json:"href"`
	Visible bool   `json:"visible"`
	Path    string `json:"path"`
	Origin  string `json:"origin"`
}

type rawBox struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
