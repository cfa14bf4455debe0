package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

func writeSessionFile(t *testing.T, path string, fields map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.MarshalIndent(fields, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readSessionFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// bumpMtime moves the file's mtime forward so change detection cannot miss it.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	ts := info.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

type fixture struct {
	workDir     string
	sessionFile string
	backend     *terminal.MockBackend
	loader      *FileLoader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	workDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	backend := terminal.NewMockBackend()
	backend.AddPane("%1", "CCB-codex-proj")
	f := &fixture{
		workDir:     workDir,
		sessionFile: filepath.Join(workDir, ConfigDirName, SessionFileName),
		backend:     backend,
		loader:      NewFileLoader(terminal.MockResolver{Backend: backend}, logger.Nop()),
	}
	writeSessionFile(t, f.sessionFile, map[string]any{
		"session_id":        "ccb-1",
		"terminal":          "tmux",
		"pane_id":           "%1",
		"pane_title_marker": "CCB-codex",
		"work_dir":          workDir,
		"launcher_extra":    "keep-me",
	})
	return f
}

func TestFindSessionFile(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	legacy := filepath.Join(root, SessionFileName)
	writeSessionFile(t, legacy, map[string]any{"pane_id": "%1"})

	got, ok := FindSessionFile(nested)
	require.True(t, ok)
	assert.Equal(t, legacy, got)

	preferred := filepath.Join(root, ConfigDirName, SessionFileName)
	writeSessionFile(t, preferred, map[string]any{"pane_id": "%1"})
	got, ok = FindSessionFile(nested)
	require.True(t, ok)
	assert.Equal(t, preferred, got)
}

func TestFileLoader_Load(t *testing.T) {
	f := newFixture(t)

	h, ok := f.loader.Load(f.workDir)
	require.True(t, ok)
	assert.Equal(t, "%1", h.PaneID())
	assert.Equal(t, terminal.KindTmux, h.Kind())
	assert.Equal(t, f.workDir, h.WorkDir())

	writeSessionFile(t, f.sessionFile, map[string]any{"pane_id": "%1", "active": false})
	_, ok = f.loader.Load(f.workDir)
	assert.False(t, ok, "inactive sessions are not loaded")

	writeSessionFile(t, f.sessionFile, map[string]any{"pane_id": "%1", "terminal": "kitty"})
	_, ok = f.loader.Load(f.workDir)
	assert.False(t, ok, "unknown terminals are rejected")
}

func TestFileLoader_LegacyTmuxSession(t *testing.T) {
	f := newFixture(t)
	writeSessionFile(t, f.sessionFile, map[string]any{"tmux_session": "codex-legacy"})

	h, ok := f.loader.Load(f.workDir)
	require.True(t, ok)
	assert.Equal(t, "codex-legacy", h.PaneID())
}

func TestRegistry_GetCachesValidSession(t *testing.T) {
	f := newFixture(t)
	r := New(f.loader)

	h1, ok := r.Get(f.workDir)
	require.True(t, ok)
	h2, ok := r.Get(f.workDir)
	require.True(t, ok)
	assert.Same(t, h1, h2)

	st := r.Status()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Valid)
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, f.workDir, st.Sessions[0].WorkDir)
	assert.Equal(t, ComputeKey(h1), st.Sessions[0].SessionKey)
}

func TestRegistry_NoSessionFile(t *testing.T) {
	dir := t.TempDir()
	r := New(NewFileLoader(terminal.MockResolver{Backend: terminal.NewMockBackend()}, nil))

	_, ok := r.Get(dir)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Status().Total)
	assert.Equal(t, 0, r.Status().Valid)
}

func TestRegistry_ReloadsWhenSessionFileChanges(t *testing.T) {
	f := newFixture(t)
	f.backend.KillPane("%1")
	// No title marker, so the dead pane cannot be rediscovered.
	writeSessionFile(t, f.sessionFile, map[string]any{"pane_id": "%1"})
	r := New(f.loader)

	_, ok := r.Get(f.workDir)
	assert.False(t, ok)

	f.backend.AddPane("%2", "")
	writeSessionFile(t, f.sessionFile, map[string]any{"pane_id": "%2"})
	bumpMtime(t, f.sessionFile)

	h, ok := r.Get(f.workDir)
	require.True(t, ok)
	assert.Equal(t, "%2", h.PaneID())
}

func TestRegistry_InvalidateAndRemove(t *testing.T) {
	f := newFixture(t)
	r := New(f.loader)

	_, ok := r.Get(f.workDir)
	require.True(t, ok)

	r.Invalidate(f.workDir)
	_, ok = r.Get(f.workDir)
	assert.False(t, ok, "invalid entry stays invalid until its file changes")

	r.Remove(f.workDir)
	assert.Equal(t, 0, r.Status().Total)
	_, ok = r.Get(f.workDir)
	assert.True(t, ok, "removed entry is reloaded")
}

func TestRegistry_CheckAllInvalidatesAndPurges(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	r := New(f.loader, WithClock(func() time.Time { return now }), WithPurgeAfter(300*time.Second))

	_, ok := r.Get(f.workDir)
	require.True(t, ok)

	f.backend.KillPane("%1")
	r.checkAll()
	st := r.Status()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 0, st.Valid)

	now = now.Add(299 * time.Second)
	r.checkAll()
	assert.Equal(t, 1, r.Status().Total)

	now = now.Add(2 * time.Second)
	r.checkAll()
	assert.Equal(t, 0, r.Status().Total)
}

func TestRegistry_CheckAllDetectsDeletedFile(t *testing.T) {
	f := newFixture(t)
	r := New(f.loader)

	_, ok := r.Get(f.workDir)
	require.True(t, ok)

	require.NoError(t, os.Remove(f.sessionFile))
	r.checkAll()
	assert.Equal(t, 0, r.Status().Valid)
}

func TestRegistry_StartStop(t *testing.T) {
	f := newFixture(t)
	r := New(f.loader, WithCheckInterval(10*time.Millisecond))
	_, ok := r.Get(f.workDir)
	require.True(t, ok)

	r.Start(context.Background())
	f.backend.KillPane("%1")

	assert.Eventually(t, func() bool { return r.Status().Valid == 0 }, 2*time.Second, 10*time.Millisecond)
	r.Stop()
	r.Stop()
}

func TestHandle_EnsurePaneRediscoversByTitle(t *testing.T) {
	f := newFixture(t)
	h, ok := f.loader.Load(f.workDir)
	require.True(t, ok)

	f.backend.KillPane("%1")
	f.backend.AddPane("%5", "CCB-codex-proj")

	pane, err := h.EnsurePane()
	require.NoError(t, err)
	assert.Equal(t, "%5", pane)
	assert.Equal(t, "%5", h.PaneID())

	m := readSessionFile(t, f.sessionFile)
	assert.Equal(t, "%5", m["pane_id"])
	assert.Equal(t, "keep-me", m["launcher_extra"])
}

func TestHandle_EnsurePaneFails(t *testing.T) {
	f := newFixture(t)
	h, ok := f.loader.Load(f.workDir)
	require.True(t, ok)

	f.backend.KillPane("%1")
	_, err := h.EnsurePane()
	assert.ErrorIs(t, err, ErrPaneUnavailable)

	noBackend, err := NewHandle(f.sessionFile, SessionFile{PaneID: "%1"}, terminal.MockResolver{}, nil)
	require.NoError(t, err)
	_, err = noBackend.EnsurePane()
	assert.ErrorIs(t, err, terminal.ErrBackendUnavailable)
}

func TestHandle_UpdateLogBinding(t *testing.T) {
	f := newFixture(t)
	h, ok := f.loader.Load(f.workDir)
	require.True(t, ok)
	keyBefore := ComputeKey(h)

	require.NoError(t, h.UpdateLogBinding("/logs/rollout-1.jsonl", "sid-1"))
	b := h.Binding()
	assert.Equal(t, "/logs/rollout-1.jsonl", b.LogPath)
	assert.Equal(t, "sid-1", b.SessionID)
	assert.Equal(t, f.workDir, b.WorkDir)

	m := readSessionFile(t, f.sessionFile)
	assert.Equal(t, "/logs/rollout-1.jsonl", m["codex_session_path"])
	assert.Equal(t, "sid-1", m["codex_session_id"])
	assert.Equal(t, "keep-me", m["launcher_extra"])

	assert.Equal(t, keyBefore, ComputeKey(h), "binding does not affect the session key")

	// Unchanged binding leaves the file alone.
	info, err := os.Stat(f.sessionFile)
	require.NoError(t, err)
	past := info.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(f.sessionFile, past, past))
	require.NoError(t, h.UpdateLogBinding("/logs/rollout-1.jsonl", "sid-1"))
	info, err = os.Stat(f.sessionFile)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past))
}

func TestComputeKey(t *testing.T) {
	a, err := NewHandle("/p/a/.ccb_config/.codex-session", SessionFile{PaneID: "%1"}, nil, nil)
	require.NoError(t, err)
	b, err := NewHandle("/p/b/.ccb_config/.codex-session", SessionFile{PaneID: "%1"}, nil, nil)
	require.NoError(t, err)
	a2, err := NewHandle("/p/a/.ccb_config/.codex-session", SessionFile{PaneID: "%1", CodexSessionPath: "/x"}, nil, nil)
	require.NoError(t, err)
	movedPane, err := NewHandle("/p/a/.ccb_config/.codex-session", SessionFile{PaneID: "%9"}, nil, nil)
	require.NoError(t, err)
	withID, err := NewHandle("/p/a/.ccb_config/.codex-session", SessionFile{SessionID: "ccb-1", PaneID: "%1"}, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, ComputeKey(a), ComputeKey(b))
	assert.Equal(t, ComputeKey(a), ComputeKey(a2))
	assert.Equal(t, ComputeKey(a), ComputeKey(movedPane))
	assert.NotEqual(t, ComputeKey(a), ComputeKey(withID))
	assert.Len(t, ComputeKey(a), len("codex:")+16)
	assert.Equal(t, UnknownKey, ComputeKey(nil))
}

func TestComputeKey_StableAcrossPaneRediscovery(t *testing.T) {
	f := newFixture(t)
	writeSessionFile(t, f.sessionFile, map[string]any{
		"terminal":          "tmux",
		"pane_id":           "%1",
		"pane_title_marker": "CCB-codex",
		"work_dir":          f.workDir,
	})
	first, ok := f.loader.Load(f.workDir)
	require.True(t, ok)
	before := ComputeKey(first)

	f.backend.KillPane("%1")
	f.backend.AddPane("%5", "CCB-codex-proj")
	r := New(f.loader)
	h, ok := r.Get(f.workDir)
	require.True(t, ok)
	assert.Equal(t, "%5", h.PaneID())
	assert.Equal(t, "%5", readSessionFile(t, f.sessionFile)["pane_id"])

	reloaded, ok := f.loader.Load(f.workDir)
	require.True(t, ok)
	assert.Equal(t, "%5", reloaded.PaneID())
	assert.Equal(t, before, ComputeKey(reloaded))
}
