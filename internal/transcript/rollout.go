package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/yeahnangua/claude-code-bridge/internal/core/git"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

const (
	rolloutPrefix = "rollout-"
	rolloutSuffix = ".jsonl"
	// Minimum spacing between directory scans for newer logs.
	rescanInterval = time.Second
)

type rolloutLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rolloutPayload struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
	Message string        `json:"message"`
	ID      string        `json:"id"`
	Cwd     string        `json:"cwd"`
}

type logMeta struct {
	id  string
	cwd string
}

// RolloutOpener opens Sources over Codex rollout JSONL logs stored under Root.
type RolloutOpener struct {
	root         string
	pollInterval time.Duration
	logger       logger.Logger

	mu    sync.Mutex
	metas map[string]logMeta
	roots *git.RootCache
}

// NewRolloutOpener creates an opener for logs under root
func NewRolloutOpener(root string, pollInterval time.Duration, log logger.Logger) *RolloutOpener {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RolloutOpener{
		root:         root,
		pollInterval: pollInterval,
		logger:       log,
		metas:        make(map[string]logMeta),
		roots:        git.NewRootCache(),
	}
}

// Open implements Opener
func (o *RolloutOpener) Open(b Binding) (Source, error) {
	r := &RolloutReader{
		opener:    o,
		preferred: b.LogPath,
		filter:    strings.TrimSpace(b.SessionID),
		workDir:   b.WorkDir,
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		r.watcher = w
	} else {
		o.logger.Debug("fsnotify unavailable, polling only", "error", err)
	}
	r.current = r.resolveLog()
	r.watch(r.current)
	return r, nil
}

// SessionIDFromLog implements IdentityReporter
func (o *RolloutOpener) SessionIDFromLog(path string) (string, bool) {
	if m, ok := o.meta(path); ok && m.id != "" {
		return m.id, true
	}
	return sessionIDFromName(path)
}

// meta returns the cached session_meta header of a log.
func (o *RolloutOpener) meta(path string) (logMeta, bool) {
	o.mu.Lock()
	m, ok := o.metas[path]
	o.mu.Unlock()
	if ok {
		return m, true
	}

	m, err := readMeta(path)
	if err != nil {
		return logMeta{}, false
	}
	o.mu.Lock()
	o.metas[path] = m
	o.mu.Unlock()
	return m, true
}

func readMeta(path string) (logMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return logMeta{}, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return logMeta{}, err
	}
	var rl rolloutLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return logMeta{}, err
	}
	if rl.Type != "session_meta" {
		return logMeta{}, errors.New("first line is not session_meta")
	}
	var p rolloutPayload
	if err := json.Unmarshal(rl.Payload, &p); err != nil {
		return logMeta{}, err
	}
	return logMeta{id: p.ID, cwd: p.Cwd}, nil
}

// sessionIDFromName extracts the uuid suffix of rollout-<timestamp>-<uuid>.jsonl.
func sessionIDFromName(path string) (string, bool) {
	base := strings.TrimSuffix(filepath.Base(path), rolloutSuffix)
	if len(base) < 36 {
		return "", false
	}
	id := base[len(base)-36:]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

type logFile struct {
	path    string
	modTime time.Time
}

// listLogs returns all rollout logs under root, newest first.
func (o *RolloutOpener) listLogs() []logFile {
	var logs []logFile
	_ = filepath.WalkDir(o.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, rolloutPrefix) || !strings.HasSuffix(name, rolloutSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		logs = append(logs, logFile{path: path, modTime: info.ModTime()})
		return nil
	})
	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime.After(logs[j].modTime) })
	return logs
}

// RolloutReader follows one session's rollout logs. It is used by a single
// goroutine at a time.
type RolloutReader struct {
	opener    *RolloutOpener
	preferred string
	filter    string
	workDir   string

	current  string
	lastScan time.Time
	watcher  *fsnotify.Watcher
	watched  string
	last     *Event
	lastLog  string
}

func (r *RolloutReader) matchesFilter(path string) bool {
	if r.filter == "" {
		return true
	}
	if strings.Contains(filepath.Base(path), r.filter) {
		return true
	}
	m, ok := r.opener.meta(path)
	return ok && m.id == r.filter
}

func (r *RolloutReader) matchesWorkDir(path string) bool {
	if r.workDir == "" {
		return true
	}
	m, ok := r.opener.meta(path)
	if !ok || m.cwd == "" {
		return false
	}
	return r.opener.roots.SameProject(m.cwd, r.workDir)
}

// resolveLog picks the log to follow: the preferred log when it satisfies the
// filter and nothing newer matches, else the newest matching log.
func (r *RolloutReader) resolveLog() string {
	r.lastScan = time.Now()

	var preferredMod time.Time
	preferredOK := false
	if r.preferred != "" {
		if info, err := os.Stat(r.preferred); err == nil && r.matchesFilter(r.preferred) {
			preferredMod = info.ModTime()
			preferredOK = true
		}
	}

	for _, lf := range r.opener.listLogs() {
		if preferredOK && !lf.modTime.After(preferredMod) {
			break
		}
		if lf.path == r.preferred {
			continue
		}
		if r.filter != "" {
			if r.matchesFilter(lf.path) {
				return lf.path
			}
			continue
		}
		if r.matchesWorkDir(lf.path) {
			return lf.path
		}
	}
	if preferredOK {
		return r.preferred
	}
	return ""
}

func (r *RolloutReader) watch(path string) {
	if r.watcher == nil || path == "" {
		return
	}
	dir := filepath.Dir(path)
	if dir == r.watched {
		return
	}
	if r.watched != "" {
		_ = r.watcher.Remove(r.watched)
	}
	if err := r.watcher.Add(dir); err == nil {
		r.watched = dir
	}
}

// CaptureState implements Source
func (r *RolloutReader) CaptureState() Cursor {
	if r.current == "" {
		return Cursor{}
	}
	info, err := os.Stat(r.current)
	if err != nil {
		return Cursor{LogPath: r.current}
	}
	return Cursor{LogPath: r.current, Offset: info.Size()}
}

// TailState implements Source
func (r *RolloutReader) TailState(tailBytes int64) Cursor {
	if r.current == "" {
		return Cursor{}
	}
	return TailCursor(r.current, tailBytes)
}

// CurrentLogPath implements Source
func (r *RolloutReader) CurrentLogPath() string {
	return r.current
}

// SessionIDFromLog implements IdentityReporter
func (r *RolloutReader) SessionIDFromLog(path string) (string, bool) {
	return r.opener.SessionIDFromLog(path)
}

// Close implements Source
func (r *RolloutReader) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// WaitForEvent implements Source
func (r *RolloutReader) WaitForEvent(ctx context.Context, cur Cursor, timeout time.Duration) (Event, Cursor, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if cur.LogPath == "" {
			if r.current == "" && time.Since(r.lastScan) >= rescanInterval {
				r.current = r.resolveLog()
			}
			if r.current != "" {
				r.watch(r.current)
				cur = Cursor{LogPath: r.current}
			}
		}

		if cur.LogPath != "" {
			ev, next, ok := r.readNext(cur)
			cur = next
			if ok {
				return ev, cur, true
			}
			if newer := r.newerLog(cur.LogPath); newer != "" {
				r.opener.logger.Debug("following newer transcript log", "from", cur.LogPath, "to", newer)
				r.current = newer
				r.watch(newer)
				cur = Cursor{LogPath: newer}
				continue
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, cur, false
		}
		if !r.sleep(ctx, min(remaining, r.opener.pollInterval)) {
			return Event{}, cur, false
		}
	}
}

// newerLog returns a log that should replace path, or "". Filtered readers
// never switch away from a matching log.
func (r *RolloutReader) newerLog(path string) string {
	if time.Since(r.lastScan) < rescanInterval {
		return ""
	}
	if r.filter != "" && r.matchesFilter(path) {
		r.lastScan = time.Now()
		return ""
	}
	candidate := r.resolveLog()
	if candidate == "" || candidate == path {
		return ""
	}
	cInfo, err := os.Stat(candidate)
	if err != nil {
		return ""
	}
	if pInfo, err := os.Stat(path); err == nil && !cInfo.ModTime().After(pInfo.ModTime()) {
		return ""
	}
	return candidate
}

// sleep waits for d, a watcher event, or ctx cancellation. It reports false when ctx is done.
func (r *RolloutReader) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errs = r.watcher.Errors
	}
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-events:
	case <-errs:
	}
	return true
}

// readNext returns the first event after cur. Only complete lines are consumed.
func (r *RolloutReader) readNext(cur Cursor) (Event, Cursor, bool) {
	f, err := os.Open(cur.LogPath)
	if err != nil {
		return Event{}, cur, false
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < cur.Offset {
		// Truncated or replaced; start over.
		cur.Offset = 0
	}
	if _, err := f.Seek(cur.Offset, io.SeekStart); err != nil {
		return Event{}, cur, false
	}

	br := bufio.NewReader(f)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			// Partial trailing line stays unread until it is terminated.
			return Event{}, cur, false
		}
		cur.Offset += int64(len(line))

		ev, ok := parseEvent(line)
		if !ok {
			continue
		}
		// Codex records each message as a response_item and again as an event_msg.
		if r.last != nil && r.lastLog == cur.LogPath && *r.last == ev {
			r.last = nil
			continue
		}
		r.last = &ev
		r.lastLog = cur.LogPath
		return ev, cur, true
	}
}

// parseEvent extracts a role-tagged event from one JSONL line.
func parseEvent(line []byte) (Event, bool) {
	var rl rolloutLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return Event{}, false
	}
	var p rolloutPayload
	if len(rl.Payload) == 0 || json.Unmarshal(rl.Payload, &p) != nil {
		return Event{}, false
	}

	switch rl.Type {
	case "response_item":
		if p.Type != "message" {
			return Event{}, false
		}
		var parts []string
		for _, c := range p.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		text := strings.Join(parts, "\n")
		if text == "" {
			return Event{}, false
		}
		switch p.Role {
		case "user":
			return Event{Role: RoleUser, Text: text}, true
		case "assistant":
			return Event{Role: RoleAssistant, Text: text}, true
		}
	case "event_msg":
		if p.Message == "" {
			return Event{}, false
		}
		switch p.Type {
		case "user_message":
			return Event{Role: RoleUser, Text: p.Message}, true
		case "agent_message":
			return Event{Role: RoleAssistant, Text: p.Message}, true
		}
	}
	return Event{}, false
}

// TailCursor returns a cursor at most tailBytes before the end of path,
// advanced past any partial line it lands in.
func TailCursor(path string, tailBytes int64) Cursor {
	cur := Cursor{LogPath: path}
	f, err := os.Open(path)
	if err != nil {
		return cur
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cur
	}
	offset := max(0, info.Size()-tailBytes)
	if offset == 0 {
		return cur
	}

	if _, err := f.Seek(offset-1, io.SeekStart); err != nil {
		return cur
	}
	br := bufio.NewReader(f)
	prev, err := br.ReadByte()
	if err != nil {
		return cur
	}
	if prev != '\n' {
		skipped, err := br.ReadBytes('\n')
		if err != nil {
			cur.Offset = info.Size()
			return cur
		}
		offset += int64(len(skipped))
	}
	cur.Offset = offset
	return cur
}
