// Package rpc implements the daemon's line-delimited JSON protocol: the
// server that dispatches requests into session workers, the state file that
// advertises it, and the client used by the CLI and the MCP bridge.
package rpc

import (
	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
)

// ProtocolVersion is the "v" field of every message.
const ProtocolVersion = 1

// MaxMessageSize bounds a single request line.
const MaxMessageSize = 16 * 1024 * 1024

// Message type suffixes, prefixed with the daemon kind ("cask.request").
const (
	SuffixRequest  = "request"
	SuffixResponse = "response"
	SuffixPing     = "ping"
	SuffixPong     = "pong"
	SuffixShutdown = "shutdown"
	SuffixStatus   = "status"
)

// MessageType joins a daemon kind and a suffix.
func MessageType(kind, suffix string) string {
	return kind + "." + suffix
}

// Message is any client-to-daemon line.
type Message struct {
	Type       string  `json:"type"`
	V          int     `json:"v"`
	ID         string  `json:"id"`
	Token      string  `json:"token"`
	WorkDir    string  `json:"work_dir,omitempty"`
	TimeoutS   float64 `json:"timeout_s,omitempty"`
	Quiet      bool    `json:"quiet,omitempty"`
	Message    string  `json:"message,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
}

// Meta carries diagnostics about one exchange.
type Meta struct {
	SessionKey   string `json:"session_key"`
	LogPath      string `json:"log_path"`
	AnchorSeen   bool   `json:"anchor_seen"`
	DoneSeen     bool   `json:"done_seen"`
	FallbackScan bool   `json:"fallback_scan"`
	AnchorMs     *int64 `json:"anchor_ms"`
	DoneMs       *int64 `json:"done_ms"`
}

// DaemonStatus is the payload of a status response.
type DaemonStatus struct {
	Kind     string          `json:"kind"`
	PID      int             `json:"pid"`
	Workers  int             `json:"workers"`
	Pending  map[string]int  `json:"pending,omitempty"`
	Registry registry.Status `json:"registry"`
}

// Response is any daemon-to-client line.
type Response struct {
	Type     string        `json:"type"`
	V        int           `json:"v"`
	ID       string        `json:"id"`
	ReqID    string        `json:"req_id,omitempty"`
	ExitCode int           `json:"exit_code"`
	Reply    string        `json:"reply"`
	Meta     *Meta         `json:"meta,omitempty"`
	Status   *DaemonStatus `json:"status,omitempty"`
}

// ResponseFromResult converts an exchange result to the wire form.
func ResponseFromResult(kind, clientID string, res exchange.Result) Response {
	return Response{
		Type:     MessageType(kind, SuffixResponse),
		V:        ProtocolVersion,
		ID:       clientID,
		ReqID:    res.ReqID,
		ExitCode: res.ExitCode,
		Reply:    res.Reply,
		Meta: &Meta{
			SessionKey:   res.SessionKey,
			LogPath:      res.LogPath,
			AnchorSeen:   res.AnchorSeen,
			DoneSeen:     res.DoneSeen,
			FallbackScan: res.FallbackScan,
			AnchorMs:     res.AnchorMs,
			DoneMs:       res.DoneMs,
		},
	}
}
