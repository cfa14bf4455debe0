package filemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type binding struct {
	PaneID  string `json:"pane_id" yaml:"pane_id"`
	LogPath string `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	Active  bool   `json:"active" yaml:"active"`
}

func TestManager_ReadWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ccb_config", ".codex-session")
	mgr := NewManager[binding]()

	require.NoError(t, mgr.Write(context.Background(), path, &binding{PaneID: "%3", Active: true}))

	got, info, err := mgr.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "%3", got.PaneID)
	assert.True(t, got.Active)
	assert.Equal(t, path, info.Path)
	assert.Positive(t, info.Size)
}

func TestManager_ReadJSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	raw := `{
  // written by hand
  "pane_id": "%7",
  "active": true,
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	got, _, err := NewManager[binding]().Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "%7", got.PaneID)
}

func TestManager_YAMLCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.yaml")
	mgr := NewManager[binding](WithCodec(YAML))

	require.NoError(t, mgr.Write(context.Background(), path, &binding{PaneID: "main"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pane_id: main")
}

func TestManager_Perm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager[binding](WithPerm(0o600))

	require.NoError(t, mgr.Write(context.Background(), path, &binding{}))
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestManager_CASConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	mgr := NewManager[binding]()
	ctx := context.Background()

	require.NoError(t, mgr.Write(ctx, path, &binding{PaneID: "%1"}))
	_, info, err := mgr.Read(ctx, path)
	require.NoError(t, err)

	// Someone else rewrites the file with a different size
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mgr.Write(ctx, path, &binding{PaneID: "%100", LogPath: "/x"}))

	err = mgr.WriteWithCAS(ctx, path, &binding{PaneID: "%2"}, info)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestManager_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	mgr := NewManager[binding]()
	ctx := context.Background()

	// Missing file: update creates it
	require.NoError(t, mgr.Update(ctx, path, func(b *binding) error {
		b.PaneID = "%9"
		return nil
	}))
	require.NoError(t, mgr.Update(ctx, path, func(b *binding) error {
		b.LogPath = "/logs/rollout.jsonl"
		return nil
	}))

	got, _, err := mgr.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "%9", got.PaneID)
	assert.Equal(t, "/logs/rollout.jsonl", got.LogPath)
}

func TestManager_UpdateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	mgr := NewManager[binding]()
	require.NoError(t, mgr.Write(context.Background(), path, &binding{PaneID: "%1"}))

	boom := errors.New("boom")
	err := mgr.Update(context.Background(), path, func(*binding) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestManager_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	mgr := NewManager[binding]()
	ctx := context.Background()

	require.NoError(t, mgr.Write(ctx, path, &binding{}))
	require.NoError(t, mgr.Delete(ctx, path))

	_, _, err := mgr.Read(ctx, path)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error
	assert.NoError(t, mgr.Delete(ctx, path))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "reply.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
