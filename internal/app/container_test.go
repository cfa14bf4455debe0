package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/core/protocol"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

const testSessionUUID = "0199a8b2-0000-7000-8000-000000000001"

func rolloutLine(t *testing.T, typ string, payload map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	return string(data) + "\n"
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}

// setupProject creates a work dir with a session file bound to a rollout log.
func setupProject(t *testing.T) (workDir, logRoot, logPath string) {
	t.Helper()
	workDir = t.TempDir()
	logRoot = t.TempDir()
	logPath = filepath.Join(logRoot, "rollout-2026-10-16T10-00-00-"+testSessionUUID+".jsonl")
	require.NoError(t, appendFile(logPath, rolloutLine(t, "session_meta", map[string]any{
		"id":  testSessionUUID,
		"cwd": workDir,
	})))

	sessionFile := registry.DefaultSessionFile(workDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(sessionFile), 0o755))
	active := true
	data, err := json.Marshal(registry.SessionFile{
		SessionID:        "ccb-1",
		Terminal:         "tmux",
		PaneID:           "%1",
		WorkDir:          workDir,
		CodexSessionPath: logPath,
		Active:           &active,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sessionFile, data, 0o644))
	return workDir, logRoot, logPath
}

func testConfig(t *testing.T, logRoot string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = 0
	cfg.Daemon.StateFile = filepath.Join(t.TempDir(), "caskd.json")
	cfg.Transcript.Root = logRoot
	cfg.Transcript.PollInterval = 10 * time.Millisecond
	return cfg
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	c, err := NewContainer(cfg, logger.Nop(), WithBackends(terminal.MockResolver{Backend: terminal.NewMockBackend()}))
	require.NoError(t, err)
	defer c.Pool.Close()

	assert.NotNil(t, c.Metrics)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Opener)
	assert.NotNil(t, c.Executor)
	assert.NotNil(t, c.Server)
	assert.Len(t, c.Server.Token(), 64)
}

func TestContainer_SessionKey(t *testing.T) {
	workDir, logRoot, _ := setupProject(t)
	c, err := NewContainer(testConfig(t, logRoot), logger.Nop(), WithBackends(terminal.MockResolver{Backend: terminal.NewMockBackend()}))
	require.NoError(t, err)
	defer c.Pool.Close()

	key := c.SessionKey(workDir)
	assert.True(t, strings.HasPrefix(key, "codex:"))
	assert.NotEqual(t, registry.UnknownKey, key)
	assert.Equal(t, key, c.SessionKey(filepath.Join(workDir, "sub")))

	assert.Equal(t, registry.UnknownKey, c.SessionKey(t.TempDir()))
}

func TestContainer_AskEndToEnd(t *testing.T) {
	workDir, logRoot, logPath := setupProject(t)

	mock := terminal.NewMockBackend()
	mock.AddPane("%1", "codex")
	mock.OnSend(func(pane, text string) {
		// Play the agent: echo the prompt, then answer with the done marker.
		first, _, _ := strings.Cut(text, "\n")
		reqID := strings.TrimSpace(strings.TrimPrefix(first, protocol.ReqIDPrefix))
		user, _ := json.Marshal(map[string]any{"type": "event_msg", "payload": map[string]any{"type": "user_message", "message": text}})
		reply, _ := json.Marshal(map[string]any{"type": "event_msg", "payload": map[string]any{"type": "agent_message", "message": "4\n" + protocol.DoneMarker(reqID)}})
		_ = appendFile(logPath, string(user)+"\n"+string(reply)+"\n")
	})

	cfg := testConfig(t, logRoot)
	c, err := NewContainer(cfg, logger.Nop(), WithBackends(terminal.MockResolver{Backend: mock}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Daemon.StateFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	client := rpc.NewClient(cfg.Daemon.Kind, cfg.Daemon.StateFile)
	require.NoError(t, client.Ping(ctx))

	resp, err := client.Ask(ctx, rpc.AskRequest{WorkDir: workDir, Message: "2+2?", Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, exchange.ExitOK, resp.ExitCode)
	assert.Equal(t, "4", resp.Reply)
	require.NotNil(t, resp.Meta)
	assert.True(t, resp.Meta.AnchorSeen)
	assert.True(t, resp.Meta.DoneSeen)
	assert.False(t, resp.Meta.FallbackScan)
	assert.Equal(t, logPath, resp.Meta.LogPath)
	assert.Equal(t, c.SessionKey(workDir), resp.Meta.SessionKey)

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "%1", sent[0].Pane)
	assert.Contains(t, sent[0].Text, "2+2?")

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Workers)
	assert.Equal(t, 1, st.Registry.Valid)

	// The successful exchange records the transcript identity.
	data, err := os.ReadFile(registry.DefaultSessionFile(workDir))
	require.NoError(t, err)
	var sf registry.SessionFile
	require.NoError(t, json.Unmarshal(data, &sf))
	assert.Equal(t, testSessionUUID, sf.CodexSessionID)

	require.NoError(t, client.Shutdown(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	_, err = os.Stat(cfg.Daemon.StateFile)
	assert.True(t, os.IsNotExist(err))
}
