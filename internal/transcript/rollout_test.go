package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

const testSessionID = "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"

func metaLine(t *testing.T, id, cwd string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type":    "session_meta",
		"payload": map[string]any{"id": id, "cwd": cwd},
	})
	require.NoError(t, err)
	return string(b) + "\n"
}

func messageLine(t *testing.T, role, text string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type": "response_item",
		"payload": map[string]any{
			"type":    "message",
			"role":    role,
			"content": []map[string]any{{"type": "output_text", "text": text}},
		},
	})
	require.NoError(t, err)
	return string(b) + "\n"
}

func eventMsgLine(t *testing.T, kind, text string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type":    "event_msg",
		"payload": map[string]any{"type": kind, "message": text},
	})
	require.NoError(t, err)
	return string(b) + "\n"
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l)
		require.NoError(t, err)
	}
}

func setMtime(t *testing.T, path string, ago time.Duration) {
	t.Helper()
	ts := time.Now().Add(-ago)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func newOpener(root string) *RolloutOpener {
	return NewRolloutOpener(root, 10*time.Millisecond, logger.Nop())
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{"assistant message", messageLine(t, "assistant", "hi"), Event{RoleAssistant, "hi"}, true},
		{"user message", messageLine(t, "user", "CCB_REQ_ID: x"), Event{RoleUser, "CCB_REQ_ID: x"}, true},
		{"system role", messageLine(t, "system", "sys"), Event{}, false},
		{"agent event", eventMsgLine(t, "agent_message", "done"), Event{RoleAssistant, "done"}, true},
		{"user event", eventMsgLine(t, "user_message", "ask"), Event{RoleUser, "ask"}, true},
		{"other event", eventMsgLine(t, "token_count", "x"), Event{}, false},
		{"meta", metaLine(t, "id", "/tmp"), Event{}, false},
		{"garbage", "not json\n", Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseEvent([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRolloutReader_EventsAfterCapturedState(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()
	log := filepath.Join(root, "2026", "10", "16", "rollout-2026-10-16T10-00-00-"+testSessionID+".jsonl")
	writeLog(t, log, metaLine(t, testSessionID, work), messageLine(t, "assistant", "old reply"))

	src, err := newOpener(root).Open(Binding{WorkDir: work})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, log, src.CurrentLogPath())
	cur := src.CaptureState()

	_, _, ok := src.WaitForEvent(context.Background(), cur, 30*time.Millisecond)
	assert.False(t, ok, "events before the captured state are not replayed")

	writeLog(t, log, messageLine(t, "user", "CCB_REQ_ID: r1"), messageLine(t, "assistant", "4"))

	ev, cur, ok := src.WaitForEvent(context.Background(), cur, time.Second)
	require.True(t, ok)
	assert.Equal(t, Event{RoleUser, "CCB_REQ_ID: r1"}, ev)

	ev, _, ok = src.WaitForEvent(context.Background(), cur, time.Second)
	require.True(t, ok)
	assert.Equal(t, Event{RoleAssistant, "4"}, ev)
}

func TestRolloutReader_PartialLineWaitsForNewline(t *testing.T) {
	root := t.TempDir()
	log := filepath.Join(root, "rollout-a.jsonl")
	writeLog(t, log, metaLine(t, "a", "/nowhere"))

	src, err := newOpener(root).Open(Binding{LogPath: log})
	require.NoError(t, err)
	defer src.Close()
	cur := src.CaptureState()

	full := messageLine(t, "assistant", "partial")
	writeLog(t, log, full[:10])
	_, next, ok := src.WaitForEvent(context.Background(), cur, 30*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, cur.Offset, next.Offset)

	writeLog(t, log, full[10:])
	ev, _, ok := src.WaitForEvent(context.Background(), next, time.Second)
	require.True(t, ok)
	assert.Equal(t, "partial", ev.Text)
}

func TestRolloutReader_DeduplicatesMirroredMessages(t *testing.T) {
	root := t.TempDir()
	log := filepath.Join(root, "rollout-b.jsonl")
	writeLog(t, log, metaLine(t, "b", "/nowhere"))

	src, err := newOpener(root).Open(Binding{LogPath: log})
	require.NoError(t, err)
	defer src.Close()
	cur := src.CaptureState()

	writeLog(t, log,
		messageLine(t, "assistant", "same"),
		eventMsgLine(t, "agent_message", "same"),
		messageLine(t, "assistant", "next"),
	)

	ev, cur, ok := src.WaitForEvent(context.Background(), cur, time.Second)
	require.True(t, ok)
	assert.Equal(t, "same", ev.Text)

	ev, _, ok = src.WaitForEvent(context.Background(), cur, time.Second)
	require.True(t, ok)
	assert.Equal(t, "next", ev.Text)
}

func TestRolloutReader_SelectsLogByWorkDir(t *testing.T) {
	root := t.TempDir()
	mine := t.TempDir()
	other := t.TempDir()

	myLog := filepath.Join(root, "rollout-mine.jsonl")
	otherLog := filepath.Join(root, "rollout-other.jsonl")
	writeLog(t, myLog, metaLine(t, "m", mine))
	writeLog(t, otherLog, metaLine(t, "o", other))
	setMtime(t, myLog, time.Minute)

	src, err := newOpener(root).Open(Binding{WorkDir: mine})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, myLog, src.CurrentLogPath())
}

func TestRolloutReader_SessionFilter(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()

	bound := filepath.Join(root, "rollout-2026-10-16T09-00-00-"+testSessionID+".jsonl")
	newer := filepath.Join(root, "rollout-newer.jsonl")
	writeLog(t, bound, metaLine(t, testSessionID, work))
	writeLog(t, newer, metaLine(t, "someone-else", work))
	setMtime(t, bound, time.Hour)

	filtered, err := newOpener(root).Open(Binding{SessionID: testSessionID, WorkDir: work})
	require.NoError(t, err)
	defer filtered.Close()
	assert.Equal(t, bound, filtered.CurrentLogPath())

	unfiltered, err := newOpener(root).Open(Binding{LogPath: bound, WorkDir: work})
	require.NoError(t, err)
	defer unfiltered.Close()
	assert.Equal(t, newer, unfiltered.CurrentLogPath())
}

func TestRolloutReader_FollowsLogCreatedLater(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()

	src, err := newOpener(root).Open(Binding{WorkDir: work})
	require.NoError(t, err)
	defer src.Close()
	cur := src.CaptureState()
	assert.Equal(t, Cursor{}, cur)

	log := filepath.Join(root, "rollout-late.jsonl")
	writeLog(t, log, metaLine(t, "late", work), messageLine(t, "user", "hello"))

	ev, next, ok := src.WaitForEvent(context.Background(), cur, 3*time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, log, next.LogPath)
}

func TestRolloutReader_ContextCancel(t *testing.T) {
	root := t.TempDir()
	log := filepath.Join(root, "rollout-c.jsonl")
	writeLog(t, log, metaLine(t, "c", "/nowhere"))

	src, err := newOpener(root).Open(Binding{LogPath: log})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, _, ok := src.WaitForEvent(ctx, src.CaptureState(), 5*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTailCursor(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "rollout-t.jsonl")
	first := messageLine(t, "assistant", "first")
	second := messageLine(t, "assistant", "second")
	writeLog(t, log, first, second)

	cur := TailCursor(log, 1<<20)
	assert.Equal(t, int64(0), cur.Offset)

	// Lands inside the first line and skips to the start of the second.
	cur = TailCursor(log, int64(len(second)+3))
	assert.Equal(t, int64(len(first)), cur.Offset)

	// Lands exactly on a line boundary.
	cur = TailCursor(log, int64(len(second)))
	assert.Equal(t, int64(len(first)), cur.Offset)

	cur = TailCursor(filepath.Join(dir, "missing.jsonl"), 10)
	assert.Equal(t, int64(0), cur.Offset)
}

func TestSessionIDFromLog(t *testing.T) {
	root := t.TempDir()
	o := newOpener(root)

	withMeta := filepath.Join(root, "rollout-x.jsonl")
	writeLog(t, withMeta, metaLine(t, "meta-id", "/w"))
	id, ok := o.SessionIDFromLog(withMeta)
	assert.True(t, ok)
	assert.Equal(t, "meta-id", id)

	named := filepath.Join(root, "rollout-2026-10-16T10-00-00-"+testSessionID+".jsonl")
	writeLog(t, named, messageLine(t, "assistant", "no meta"))
	id, ok = o.SessionIDFromLog(named)
	assert.True(t, ok)
	assert.Equal(t, testSessionID, id)

	_, ok = o.SessionIDFromLog(filepath.Join(root, "rollout-short.jsonl"))
	assert.False(t, ok)
}
