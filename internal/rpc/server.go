package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/core/protocol"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/core/worker"
	"github.com/yeahnangua/claude-code-bridge/internal/filemanager"
	"github.com/yeahnangua/claude-code-bridge/internal/metrics"
)

var (
	// ErrBadRequest marks a line that could not be dispatched.
	ErrBadRequest = errors.New("bad request")
	// ErrBadToken marks a line carrying the wrong auth token.
	ErrBadToken = errors.New("unauthorized")
)

const (
	requestReadTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
	drainTimeout       = 5 * time.Second

	// MaxTimeout bounds timeout_s so timeout plus wait margin cannot overflow.
	MaxTimeout = 24 * time.Hour
)

var errLineTooLong = errors.New("request line too long")

// Submitter queues tasks on session workers.
type Submitter interface {
	Submit(key string, task exchange.Task) (*worker.Job[exchange.Task, exchange.Result], error)
	Len() int
	Pending() map[string]int
}

// KeyFunc maps a work dir to the worker key serving it.
type KeyFunc func(workDir string) string

// StatusFunc reports the session registry status.
type StatusFunc func() registry.Status

// ServerConfig holds listener and request defaults.
type ServerConfig struct {
	Kind           string
	Host           string
	Port           int
	StateFile      string
	WaitMargin     time.Duration
	DefaultTimeout time.Duration
	// ReadTimeout bounds the wait for the request line; zero means 10s.
	ReadTimeout time.Duration
	// MaxMessageSize bounds the request line; zero means MaxMessageSize.
	MaxMessageSize int
}

// Server accepts authenticated connections, each carrying one request.
type Server struct {
	cfg     ServerConfig
	pool    Submitter
	keyFor  KeyFunc
	status  StatusFunc
	metrics *metrics.Metrics
	logger  logger.Logger
	token   string

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.logger = log }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithToken fixes the auth token instead of generating one.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// NewServer creates a server dispatching into pool.
func NewServer(cfg ServerConfig, pool Submitter, keyFor KeyFunc, status StatusFunc, opts ...ServerOption) (*Server, error) {
	if cfg.Kind == "" {
		cfg.Kind = "cask"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 300 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = requestReadTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = MaxMessageSize
	}
	s := &Server{
		cfg:    cfg,
		pool:   pool,
		keyFor: keyFor,
		status: status,
		logger: logger.Nop(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token == "" {
		token, err := RandomToken()
		if err != nil {
			return nil, err
		}
		s.token = token
	}
	return s, nil
}

// Token returns the auth token clients must present.
func (s *Server) Token() string { return s.token }

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the listener and writes the state file.
func (s *Server) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	st := &State{
		PID:         os.Getpid(),
		Host:        s.cfg.Host,
		ConnectHost: connectHost(s.cfg.Host),
		Port:        port,
		Token:       s.token,
		StartedAt:   time.Now().UTC(),
	}
	if s.cfg.StateFile != "" {
		if err := WriteState(ctx, s.cfg.StateFile, st); err != nil {
			_ = ln.Close()
			return err
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("daemon listening", "addr", ln.Addr().String(), "state_file", s.cfg.StateFile)
	return nil
}

// Serve accepts connections until ctx is done or a shutdown request arrives,
// then removes the state file if it is still ours.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	go s.acceptLoop(ctx, ln)

	select {
	case <-ctx.Done():
	case <-s.stop:
	}

	// Close listener first so acceptLoop will exit
	_ = ln.Close()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn("connections still open at shutdown")
	}

	if s.cfg.StateFile != "" {
		if err := RemoveStateIfOwned(context.Background(), s.cfg.StateFile, s.token); err != nil {
			s.logger.Warn("failed to remove state file", "path", s.cfg.StateFile, "error", err)
		}
	}
	s.logger.Info("daemon stopped")
	return nil
}

// Shutdown asks Serve to return.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	ctx = logger.WithContext(ctx, s.logger.With("remote", conn.RemoteAddr().String()))

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	line, err := readLine(bufio.NewReader(conn), s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Time{})

	var resp Response
	switch {
	case err == nil:
		resp = s.handleLine(ctx, line)
	case errors.Is(err, io.EOF):
		return
	default:
		resp = s.reject(ctx, "", fmt.Errorf("%w: %s", ErrBadRequest, s.describeReadError(err)))
	}

	data, err := json.Marshal(resp)
	if err != nil {
		logger.FromContext(ctx).Error("failed to encode response", "error", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		logger.FromContext(ctx).Debug("failed to write response", "error", err)
	}
}

func (s *Server) describeReadError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, errLineTooLong):
		return fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxMessageSize)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("no request line within %s", s.cfg.ReadTimeout)
	}
	return err.Error()
}

// readLine reads one newline-terminated line of at most limit bytes. An
// oversized line is consumed up to its newline before errLineTooLong is
// returned, so the reply is not lost to a reset. A final unterminated line is
// accepted.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return bytes.TrimRight(line, "\r"), nil
		default:
			if tooLong && errors.Is(err, io.EOF) {
				return nil, errLineTooLong
			}
			return nil, err
		}
	}
}

func (s *Server) typeOf(suffix string) string {
	return MessageType(s.cfg.Kind, suffix)
}

func (s *Server) reply(id string, exitCode int, text string) Response {
	return Response{
		Type:     s.typeOf(SuffixResponse),
		V:        ProtocolVersion,
		ID:       id,
		ExitCode: exitCode,
		Reply:    text,
	}
}

// reject answers a line that never reaches a worker.
func (s *Server) reject(ctx context.Context, id string, err error) Response {
	log := logger.FromContext(ctx)
	if errors.Is(err, ErrBadToken) {
		s.metrics.RecordRejected("unauthorized")
		log.Warn("rejected request with bad token", "id", id)
		return s.reply(id, exchange.ExitError, "Unauthorized")
	}
	s.metrics.RecordRejected("bad_request")
	log.Debug("rejected bad request", "id", id, "error", err)
	detail := strings.TrimPrefix(err.Error(), ErrBadRequest.Error()+": ")
	return s.reply(id, exchange.ExitError, "Bad request: "+detail)
}

// decodeMessage parses and authenticates one request line.
func (s *Server) decodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if msg.Token != s.token {
		return msg, ErrBadToken
	}
	switch msg.Type {
	case s.typeOf(SuffixPing), s.typeOf(SuffixShutdown), s.typeOf(SuffixStatus):
		return msg, nil
	case s.typeOf(SuffixRequest):
		if msg.WorkDir == "" {
			return msg, fmt.Errorf("%w: missing work_dir", ErrBadRequest)
		}
		if msg.TimeoutS < 0 {
			return msg, fmt.Errorf("%w: negative timeout_s", ErrBadRequest)
		}
		if msg.TimeoutS > MaxTimeout.Seconds() {
			return msg, fmt.Errorf("%w: timeout_s exceeds %.0f", ErrBadRequest, MaxTimeout.Seconds())
		}
		return msg, nil
	}
	return msg, fmt.Errorf("%w: unknown type %q", ErrBadRequest, msg.Type)
}

// handleLine authenticates and dispatches one request line.
func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	msg, err := s.decodeMessage(line)
	if err != nil {
		return s.reject(ctx, msg.ID, err)
	}

	switch msg.Type {
	case s.typeOf(SuffixPing):
		return Response{Type: s.typeOf(SuffixPong), V: ProtocolVersion, ID: msg.ID}
	case s.typeOf(SuffixShutdown):
		logger.FromContext(ctx).Info("shutdown requested", "id", msg.ID)
		s.Shutdown()
		return s.reply(msg.ID, exchange.ExitOK, "")
	case s.typeOf(SuffixStatus):
		resp := s.reply(msg.ID, exchange.ExitOK, "")
		resp.Status = s.daemonStatus()
		return resp
	default:
		return s.handleRequest(ctx, msg)
	}
}

func (s *Server) daemonStatus() *DaemonStatus {
	st := &DaemonStatus{Kind: s.cfg.Kind, PID: os.Getpid()}
	if s.pool != nil {
		st.Workers = s.pool.Len()
		st.Pending = s.pool.Pending()
	}
	if s.status != nil {
		st.Registry = s.status()
	}
	return st
}

func (s *Server) handleRequest(ctx context.Context, msg Message) Response {
	timeout := s.cfg.DefaultTimeout
	if msg.TimeoutS > 0 {
		timeout = time.Duration(msg.TimeoutS * float64(time.Second))
	}
	task := exchange.Task{
		Request: exchange.Request{
			ClientID:   msg.ID,
			WorkDir:    msg.WorkDir,
			Message:    msg.Message,
			Timeout:    timeout,
			Quiet:      msg.Quiet,
			OutputPath: msg.OutputPath,
		},
		ReqID:   protocol.NewReqID(),
		Created: time.Now(),
	}

	key := registry.UnknownKey
	if s.keyFor != nil {
		key = s.keyFor(msg.WorkDir)
	}
	job, err := s.pool.Submit(key, task)
	if err != nil {
		return s.reply(msg.ID, exchange.ExitError, err.Error())
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout+s.cfg.WaitMargin)
	defer cancel()
	res, ok := job.Wait(waitCtx)
	if !ok {
		logger.FromContext(ctx).Warn("no result before deadline", "session", key, "req_id", task.ReqID)
		s.metrics.RecordRequest(exchange.ExitTimeout, time.Since(task.Created))
		return s.reply(msg.ID, exchange.ExitTimeout, "")
	}
	s.metrics.RecordRequest(res.ExitCode, time.Since(task.Created))

	if msg.OutputPath != "" {
		if err := filemanager.WriteFileAtomic(msg.OutputPath, []byte(res.Reply), 0o644); err != nil {
			logger.FromContext(ctx).Warn("failed to write output file", "path", msg.OutputPath, "error", err)
		}
	}
	return ResponseFromResult(s.cfg.Kind, msg.ID, res)
}
