// Package watcher decides when a browser download has really finished.
//
// The browser gives no authoritative "done" signal that survives redirects
// and popups, so completion is inferred from the download directory alone:
// no partial-transfer markers, an artifact with an expected extension, a
// plausible size, and a size that held still between two polls.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// State is the outcome of one poll.
type State int

const (
	None State = iota
	InProgress
	Complete
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	default:
		return "none"
	}
}

// Status is the result of Poll.
type Status struct {
	State State
	Path  string // artifact path when Complete
	Size  int64
	// Partial lists the in-flight transfer files when InProgress.
	Partial []string
	// Rejected lists files that looked like artifacts but were refused.
	Rejected []Rejection
}

// Rejection is a file that failed the artifact checks.
type Rejection struct {
	Path   string
	Size   int64
	Reason string
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s (%s): %s", filepath.Base(r.Path), humanize.Bytes(uint64(max(r.Size, 0))), r.Reason)
}

type artifact struct {
	path string
	size int64
}

// DefaultPartialSuffixes are the markers Chromium and common download
// managers leave while a transfer is running.
var DefaultPartialSuffixes = []string{".crdownload", ".part", ".partial", ".download", ".tmp"}

// DefaultDecoyPatterns match installer stubs and store bundles that ad-gated
// pages push before (or instead of) the real package.
var DefaultDecoyPatterns = []string{
	`(?i)^(apkpure|uptodown|aptoide|apkcombo|apkmirror)[-_ ]?(installer|app|store)?[-_ ]?v?[\d.]*\.[a-z]+$`,
	`(?i)(^|[-_ ])(setup|installer)([-_ .]|$)`,
	`(?i)^\[?(ads?|promo)\]?[-_. ]`,
}

// Options configures a Watcher.
type Options struct {
	Dir             string
	Extensions      []string // expected artifact extensions, e.g. ".apk"
	MinBytes        int64
	PartialSuffixes []string
	DecoyPatterns   []string
}

// Watcher polls a download directory. It remembers the size of each file
// between polls, so one Watcher must be used for one directory for the
// duration of a run. It is not safe for concurrent use.
type Watcher struct {
	dir        string
	extensions []string
	minBytes   int64
	partial    []string
	decoys     []*regexp.Regexp
	lastSize   map[string]int64
}

// New creates a Watcher for opts.Dir.
func New(opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watcher: download directory is required")
	}
	w := &Watcher{
		dir:      opts.Dir,
		minBytes: opts.MinBytes,
		lastSize: make(map[string]int64),
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".apk"}
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		w.extensions = append(w.extensions, e)
	}

	w.partial = opts.PartialSuffixes
	if len(w.partial) == 0 {
		w.partial = DefaultPartialSuffixes
	}

	patterns := opts.DecoyPatterns
	if patterns == nil {
		patterns = DefaultDecoyPatterns
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid decoy pattern %q: %w", p, err)
		}
		w.decoys = append(w.decoys, re)
	}
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Poll inspects the directory once. A missing directory is reported as
// None, since the browser creates it lazily on first download.
func (w *Watcher) Poll() (Status, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{State: None}, nil
		}
		return Status{}, fmt.Errorf("failed to read download directory: %w", err)
	}

	var (
		status   Status
		eligible []artifact
		seen     = make(map[string]int64, len(entries))
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(w.dir, name)

		if w.isPartial(name) {
			status.Partial = append(status.Partial, path)
			continue
		}
		if !w.hasExtension(name) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// Renamed or removed between ReadDir and Stat.
			continue
		}
		size := info.Size()
		seen[path] = size

		switch {
		case w.isDecoy(name):
			status.Rejected = append(status.Rejected, Rejection{Path: path, Size: size, Reason: "decoy filename"})
		case size < w.minBytes || size == 0:
			status.Rejected = append(status.Rejected, Rejection{
				Path: path, Size: size,
				Reason: fmt.Sprintf("below minimum size %s", humanize.Bytes(uint64(max(w.minBytes, 1)))),
			})
		default:
			prev, ok := w.lastSize[path]
			if ok && prev == size {
				eligible = append(eligible, artifact{path: path, size: size})
			}
		}
	}
	w.lastSize = seen

	if len(status.Partial) > 0 {
		status.State = InProgress
		return status, nil
	}
	if len(eligible) == 0 {
		status.State = None
		return status, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].size > eligible[j].size })
	status.State = Complete
	status.Path = eligible[0].path
	status.Size = eligible[0].size
	return status, nil
}

func (w *Watcher) isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range w.partial {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func (w *Watcher) hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (w *Watcher) isDecoy(name string) bool {
	for _, re := range w.decoys {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
