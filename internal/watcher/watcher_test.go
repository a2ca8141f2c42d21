package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644))
	return path
}

func newWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(Options{Dir: dir, Extensions: []string{"apk"}, MinBytes: 1024})
	require.NoError(t, err)
	return w
}

// --- Watcher Tests ---

func TestWatcher_MissingDirIsNone(t *testing.T) {
	w := newWatcher(t, filepath.Join(t.TempDir(), "not-yet"))

	st, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, None, st.State)
}

func TestWatcher_PartialMarkerIsInProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.apk.crdownload", 4096)
	w := newWatcher(t, dir)

	for i := 0; i < 3; i++ {
		st, err := w.Poll()
		require.NoError(t, err)
		assert.Equal(t, InProgress, st.State)
		assert.Len(t, st.Partial, 1)
	}
}

func TestWatcher_PartialMarkerBlocksCompletion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "first.apk", 4096)
	writeFile(t, dir, "second.apk.part", 4096)
	w := newWatcher(t, dir)

	_, _ = w.Poll()
	st, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, InProgress, st.State)
}

func TestWatcher_RequiresStableSize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.apk", 2048)
	w := newWatcher(t, dir)

	st, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, None, st.State, "first sighting is never complete")

	writeFile(t, dir, "app.apk", 4096)
	st, err = w.Poll()
	require.NoError(t, err)
	assert.Equal(t, None, st.State, "size still changing")

	st, err = w.Poll()
	require.NoError(t, err)
	assert.Equal(t, Complete, st.State)
	assert.Equal(t, path, st.Path)
	assert.EqualValues(t, 4096, st.Size)
}

func TestWatcher_ZeroByteNeverCompletes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.apk", 0)
	w := newWatcher(t, dir)

	for i := 0; i < 3; i++ {
		st, err := w.Poll()
		require.NoError(t, err)
		assert.NotEqual(t, Complete, st.State)
		require.Len(t, st.Rejected, 1)
		assert.Contains(t, st.Rejected[0].Reason, "below minimum size")
	}
}

func TestWatcher_GrowsAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.apk", 10)
	w := newWatcher(t, dir)

	st, _ := w.Poll()
	assert.Equal(t, None, st.State)

	writeFile(t, dir, "app.apk", 8192)
	st, _ = w.Poll()
	assert.Equal(t, None, st.State)

	st, _ = w.Poll()
	assert.Equal(t, Complete, st.State)
}

func TestWatcher_WrongExtensionIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", 8192)
	w := newWatcher(t, dir)

	_, _ = w.Poll()
	st, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, None, st.State)
	assert.Empty(t, st.Rejected)
}

func TestWatcher_PrefersLargestNonDecoy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "APKPure_v3.19.apk", 50_000)
	writeFile(t, dir, "small.apk", 2_000)
	real := writeFile(t, dir, "com.example.app.apk", 20_000)
	w := newWatcher(t, dir)

	_, _ = w.Poll()
	st, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, Complete, st.State)
	assert.Equal(t, real, st.Path)
	require.Len(t, st.Rejected, 1)
	assert.Equal(t, "decoy filename", st.Rejected[0].Reason)
}

func TestWatcher_ExtensionCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "App.APK", 4096)
	w := newWatcher(t, dir)

	_, _ = w.Poll()
	st, _ := w.Poll()
	assert.Equal(t, Complete, st.State)
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_InvalidDecoyPattern(t *testing.T) {
	_, err := New(Options{Dir: t.TempDir(), DecoyPatterns: []string{"["}})
	assert.Error(t, err)
}

func TestRejection_String(t *testing.T) {
	r := Rejection{Path: "/tmp/x/setup.apk", Size: 2048, Reason: "decoy filename"}
	assert.Equal(t, "setup.apk (2.0 kB): decoy filename", r.String())
}
