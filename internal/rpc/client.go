package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

var (
	// ErrDaemonStale means a state file exists but nothing answers at its address.
	ErrDaemonStale = errors.New("daemon state is stale")
	// ErrUnexpectedResponse means the daemon answered with the wrong message type.
	ErrUnexpectedResponse = errors.New("unexpected response from daemon")
)

const (
	controlTimeout = 2 * time.Second
	readMargin     = 5 * time.Second
)

// AskRequest is one message to deliver to the session at WorkDir.
type AskRequest struct {
	WorkDir    string
	Message    string
	Timeout    time.Duration
	Quiet      bool
	OutputPath string
}

// Client talks to a daemon located through its state file.
type Client struct {
	kind      string
	stateFile string
}

// NewClient creates a client for the daemon of the given kind.
func NewClient(kind, stateFile string) *Client {
	if kind == "" {
		kind = "cask"
	}
	return &Client{kind: kind, stateFile: stateFile}
}

// Ask sends a request and blocks until the daemon replies.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	msg := Message{
		Type:       MessageType(c.kind, SuffixRequest),
		WorkDir:    req.WorkDir,
		TimeoutS:   timeout.Seconds(),
		Quiet:      req.Quiet,
		Message:    req.Message,
		OutputPath: req.OutputPath,
	}
	return c.roundTrip(ctx, msg, timeout, SuffixResponse)
}

// Ping checks that the daemon is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Message{Type: MessageType(c.kind, SuffixPing)}, controlTimeout, SuffixPong)
	return err
}

// Status fetches the daemon's worker and session summary.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	resp, err := c.roundTrip(ctx, Message{Type: MessageType(c.kind, SuffixStatus)}, controlTimeout, SuffixResponse)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, ErrUnexpectedResponse
	}
	return resp.Status, nil
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Message{Type: MessageType(c.kind, SuffixShutdown)}, controlTimeout, SuffixResponse)
	return err
}

func (c *Client) newID() string {
	return fmt.Sprintf("%s-%d-%d", c.kind, os.Getpid(), time.Now().UnixMilli())
}

// dialTimeout clamps the connect timeout to [100ms, 1s].
func dialTimeout(timeout time.Duration) time.Duration {
	return min(time.Second, max(100*time.Millisecond, timeout))
}

func (c *Client) roundTrip(ctx context.Context, msg Message, timeout time.Duration, wantSuffix string) (*Response, error) {
	st, err := ReadState(ctx, c.stateFile)
	if err != nil {
		return nil, err
	}

	msg.V = ProtocolVersion
	msg.ID = c.newID()
	msg.Token = st.Token

	dialer := net.Dialer{Timeout: dialTimeout(timeout)}
	conn, err := dialer.DialContext(ctx, "tcp", st.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonStale, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout + readMargin))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Type != MessageType(c.kind, wantSuffix) {
		if resp.ExitCode != 0 && resp.Reply != "" {
			return &resp, fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.Reply)
		}
		return &resp, ErrUnexpectedResponse
	}
	return &resp, nil
}
