package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/core/protocol"
	"github.com/yeahnangua/claude-code-bridge/internal/transcript"
)

// Timing tunes the event loop.
type Timing struct {
	// AnchorGrace is how long to wait for the prompt echo before rebinding
	AnchorGrace time.Duration
	// CollectGrace is how long assistant output is ignored while no anchor is seen
	CollectGrace time.Duration
	// PollSlice bounds each wait on the transcript
	PollSlice time.Duration
	// PaneCheckInterval spaces liveness and interrupt checks
	PaneCheckInterval time.Duration
	// RebindTailBytes is how far before end-of-log a rebound reader starts
	RebindTailBytes int64
	// InterruptScanLines is how much visible pane text is searched for the interrupt marker
	InterruptScanLines int
}

// TimingFromConfig extracts loop timing from the daemon configuration.
func TimingFromConfig(cfg config.ExchangeConfig) Timing {
	return Timing{
		AnchorGrace:        cfg.AnchorGrace,
		CollectGrace:       cfg.CollectGrace,
		PollSlice:          cfg.PollSlice,
		PaneCheckInterval:  cfg.PaneCheckInterval,
		RebindTailBytes:    cfg.RebindTailBytes,
		InterruptScanLines: cfg.InterruptScanLines,
	}
}

// Executor runs exchanges. It holds no per-request state and is safe for
// use by many workers.
type Executor struct {
	sessions Resolver
	opener   transcript.Opener
	timing   Timing
	logger   logger.Logger
	onRebind func()
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Executor) { e.logger = log }
}

// WithRebindHook is called each time an exchange rebinds its transcript.
func WithRebindHook(fn func()) Option {
	return func(e *Executor) { e.onRebind = fn }
}

// NewExecutor creates an executor.
func NewExecutor(sessions Resolver, opener transcript.Opener, timing Timing, opts ...Option) *Executor {
	if timing.PollSlice <= 0 {
		timing.PollSlice = 500 * time.Millisecond
	}
	if timing.InterruptScanLines <= 0 {
		timing.InterruptScanLines = 15
	}
	e := &Executor{
		sessions: sessions,
		opener:   opener,
		timing:   timing,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the mutable state of one exchange.
type run struct {
	task    Task
	started time.Time
	result  Result
	chunks  []string
}

func (r *run) elapsedMs() *int64 {
	ms := time.Since(r.started).Milliseconds()
	return &ms
}

func (r *run) fail(reply string) Result {
	r.result.ExitCode = ExitError
	r.result.Reply = reply
	r.result.DoneSeen = false
	r.result.DoneMs = nil
	return r.result
}

// Execute runs task against the session for its work dir.
func (e *Executor) Execute(ctx context.Context, key string, task Task) Result {
	r := &run{
		task:    task,
		started: time.Now(),
		result:  Result{ReqID: task.ReqID, SessionKey: key},
	}
	req := task.Request
	log := e.logger.With("session", key, "req_id", task.ReqID)
	log.Info("start", "work_dir", req.WorkDir)

	sess, ok := e.sessions.Resolve(req.WorkDir)
	if !ok {
		return r.fail(ReplyNoSession)
	}
	pane, err := sess.EnsurePane()
	if err != nil {
		return r.fail(ReplyPaneUnavailable + err.Error())
	}
	backend, err := sess.Backend()
	if err != nil {
		return r.fail(ReplyBackendUnavailable)
	}

	binding := sess.Binding()
	src, err := e.opener.Open(binding)
	if err != nil {
		return r.fail("❌ Transcript not available: " + err.Error())
	}
	defer func() { _ = src.Close() }()

	cur := src.CaptureState()

	if err := backend.SendText(pane, protocol.WrapPrompt(req.Message, task.ReqID)); err != nil {
		log.Error("failed to send prompt", "pane", pane, "error", err)
		return r.fail("❌ Failed to send prompt: " + err.Error())
	}

	sent := time.Now()
	deadline := sent.Add(req.Timeout)
	anchorGrace := minTime(deadline, sent.Add(e.timing.AnchorGrace))
	collectGrace := minTime(deadline, sent.Add(e.timing.CollectGrace))
	lastPaneCheck := sent
	rebound := false
	anchor := protocol.Anchor(task.ReqID)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		if time.Since(lastPaneCheck) >= e.timing.PaneCheckInterval {
			if !backend.IsAlive(pane) {
				log.Error("pane died during request", "pane", pane)
				r.result.LogPath = src.CurrentLogPath()
				return r.fail(ReplyPaneDied)
			}
			if e.interrupted(backend, pane, task.ReqID) {
				log.Warn("agent interrupted, skipping task", "pane", pane)
				r.result.LogPath = src.CurrentLogPath()
				return r.fail(ReplyInterrupted)
			}
			lastPaneCheck = time.Now()
		}

		ev, next, ok := src.WaitForEvent(ctx, cur, min(remaining, e.timing.PollSlice))
		cur = next
		if !ok {
			if !rebound && !r.result.AnchorSeen && binding.SessionID != "" && !time.Now().Before(anchorGrace) {
				// The bound log is likely stale. Follow the newest log for the
				// work dir from a tail offset so an early reply is not missed.
				binding.SessionID = ""
				if fresh, err := e.opener.Open(binding); err == nil {
					_ = src.Close()
					src = fresh
				} else {
					log.Warn("failed to reopen transcript", "error", err)
				}
				cur = src.TailState(e.timing.RebindTailBytes)
				rebound = true
				r.result.FallbackScan = true
				if e.onRebind != nil {
					e.onRebind()
				}
				log.Info("rebound transcript", "log", cur.LogPath, "offset", cur.Offset)
			}
			continue
		}

		switch ev.Role {
		case transcript.RoleUser:
			if strings.Contains(ev.Text, anchor) && !r.result.AnchorSeen {
				r.result.AnchorSeen = true
				r.result.AnchorMs = r.elapsedMs()
			}
			continue
		case transcript.RoleAssistant:
		default:
			continue
		}

		// Output before our prompt shows up belongs to someone else, unless the
		// agent never echoes prompts at all.
		if !r.result.AnchorSeen && time.Now().Before(collectGrace) {
			continue
		}

		r.chunks = append(r.chunks, ev.Text)
		if protocol.IsDoneText(strings.Join(r.chunks, "\n"), task.ReqID) {
			r.result.DoneSeen = true
			r.result.DoneMs = r.elapsedMs()
			break
		}
	}

	r.result.Reply = protocol.StripDoneText(strings.Join(r.chunks, "\n"), task.ReqID)
	r.result.LogPath = cur.LogPath
	if r.result.LogPath == "" {
		r.result.LogPath = src.CurrentLogPath()
	}

	if r.result.DoneSeen && r.result.LogPath != "" {
		var sid string
		if ir, ok := src.(transcript.IdentityReporter); ok {
			sid, _ = ir.SessionIDFromLog(r.result.LogPath)
		}
		if err := sess.UpdateLogBinding(r.result.LogPath, sid); err != nil {
			log.Warn("failed to update transcript binding", "log", r.result.LogPath, "error", err)
		}
	}

	if r.result.DoneSeen {
		r.result.ExitCode = ExitOK
	} else {
		r.result.ExitCode = ExitTimeout
	}
	log.Info("done",
		"exit", r.result.ExitCode,
		"anchor", r.result.AnchorSeen,
		"done", r.result.DoneSeen,
		"fallback", r.result.FallbackScan,
		"log", r.result.LogPath,
		"anchor_ms", msAttr(r.result.AnchorMs),
		"done_ms", msAttr(r.result.DoneMs),
	)
	return r.result
}

// interrupted reports whether the pane shows an interrupt for this request:
// the marker appears after the request id, or anywhere when the id has
// scrolled out of view.
func (e *Executor) interrupted(backend terminal.Backend, pane, reqID string) bool {
	text, err := backend.GetText(pane, e.timing.InterruptScanLines)
	if err != nil || text == "" {
		return false
	}
	interruptPos := strings.LastIndex(text, InterruptMarker)
	if interruptPos < 0 {
		return false
	}
	reqPos := strings.Index(text, reqID)
	return reqPos < 0 || interruptPos > reqPos
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func msAttr(ms *int64) any {
	if ms == nil {
		return ""
	}
	return *ms
}
