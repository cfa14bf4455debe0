package rpc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_MissingStateFile(t *testing.T) {
	client := NewClient("cask", filepath.Join(t.TempDir(), "absent.json"))
	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestClient_CorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cask.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))

	_, err := NewClient("cask", path).Status(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestClient_StaleStateFile(t *testing.T) {
	// Reserve a port, then release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	path := filepath.Join(t.TempDir(), "cask.json")
	require.NoError(t, WriteState(context.Background(), path, &State{
		PID: 1, Host: "127.0.0.1", Port: port, Token: "tok",
	}))

	err = NewClient("cask", path).Ping(context.Background())
	assert.ErrorIs(t, err, ErrDaemonStale)
}

func TestClient_WrongKindIsUnexpected(t *testing.T) {
	d := startDaemon(t, echoHandler, ServerConfig{Kind: "cask"})

	err := NewClient("gask", d.stateFile).Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestDialTimeout(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, dialTimeout(10*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, dialTimeout(500*time.Millisecond))
	assert.Equal(t, time.Second, dialTimeout(time.Minute))
}

func TestState_RoundTripAndAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cask.json")
	in := &State{PID: 42, Host: "0.0.0.0", ConnectHost: connectHost("0.0.0.0"), Port: 8765, Token: "abc"}
	require.NoError(t, WriteState(context.Background(), path, in))

	out, err := ReadState(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, in.Port, out.Port)
	assert.Equal(t, "127.0.0.1:8765", out.Address())
}

func TestConnectHost(t *testing.T) {
	cases := map[string]string{
		"":          "127.0.0.1",
		"0.0.0.0":   "127.0.0.1",
		"::":        "::1",
		"[::]":      "::1",
		"10.0.0.5":  "10.0.0.5",
		"localhost": "localhost",
	}
	for in, want := range cases {
		assert.Equal(t, want, connectHost(in), in)
	}
	assert.Equal(t, "[::1]:9", (&State{ConnectHost: "::1", Port: 9}).Address())
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken()
	require.NoError(t, err)
	b, err := RandomToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
