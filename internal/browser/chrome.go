package browser

import (
	"os/exec"
	"runtime"

	"github.com/jmylchreest/apkhunter/internal/logger"
)

// Chrome/Chromium binary names and install locations, PATH names first.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
}

var chromeInstallPaths = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"linux": {
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

// FindChromePath returns a Chrome/Chromium binary, or "" to let chromedp
// use its own lookup.
func FindChromePath() string {
	candidates := append(append([]string{}, chromeBinaryNames...), chromeInstallPaths[runtime.GOOS]...)
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, relying on chromedp defaults")
	return ""
}
