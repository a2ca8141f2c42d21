package browser

import (
	"github.com/chromedp/chromedp"
)

// stealthScript runs before any page script in every document and frame.
// It hides the automation markers that interstitials and download gates
// probe for.
const stealthScript = `
(() => {
  const define = (obj, prop, get) => {
    try { Object.defineProperty(obj, prop, { get, configurable: true }); } catch (e) {}
  };

  define(navigator, 'webdriver', () => undefined);
  try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

  define(navigator, 'languages', () => Object.freeze(['en-US', 'en']));
  if (!navigator.hardwareConcurrency) define(navigator, 'hardwareConcurrency', () => 8);
  if (!navigator.deviceMemory) define(navigator, 'deviceMemory', () => 8);

  if (navigator.plugins && navigator.plugins.length === 0) {
    const names = ['PDF Viewer', 'Chrome PDF Viewer', 'Chromium PDF Viewer'];
    const fake = names.map((name) => ({ name, filename: 'internal-pdf-viewer', description: 'Portable Document Format', length: 1 }));
    fake.item = (i) => fake[i] || null;
    fake.namedItem = (n) => fake.find((p) => p.name === n) || null;
    fake.refresh = () => {};
    define(navigator, 'plugins', () => fake);
  }

  window.chrome = window.chrome || {};
  window.chrome.runtime = window.chrome.runtime || {};
  window.chrome.app = window.chrome.app || { isInstalled: false };

  if (window.Permissions && Permissions.prototype.query) {
    const query = Permissions.prototype.query;
    Permissions.prototype.query = function (params) {
      if (params && params.name === 'notifications') {
        return Promise.resolve({ state: Notification.permission, onchange: null });
      }
      return query.call(this, params);
    };
  }

  const patchWebGL = (proto) => {
    if (!proto) return;
    const getParameter = proto.getParameter;
    proto.getParameter = function (p) {
      if (p === 37445) return 'Intel Inc.';
      if (p === 37446) return 'Intel Iris OpenGL Engine';
      return getParameter.call(this, p);
    };
  };
  patchWebGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
  patchWebGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
})();
`

// allocatorOptions returns Chrome flags for a session. Site isolation is
// disabled so same-origin iframe documents stay reachable from the top
// frame, which candidate extraction and widget lookup rely on.
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	flags := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags = append(flags,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.Stealth {
		flags = append(flags,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("excludeSwitches", "enable-automation"),
			chromedp.Flag("useAutomationExtension", false),
			chromedp.Flag("disable-infobars", true),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
			chromedp.Flag("lang", "en-US,en"),
			chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
		)
	}
	// Popups are how ad gates and some mirrors hand over the real link.
	flags = append(flags, chromedp.Flag("disable-popup-blocking", true))

	if opts.ChromePath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ChromePath))
	} else if path := FindChromePath(); path != "" {
		flags = append(flags, chromedp.ExecPath(path))
	}
	return flags
}
