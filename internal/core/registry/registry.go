package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

type entry struct {
	workDir     string
	handle      *Handle
	sessionFile string
	fileModTime time.Time
	lastCheck   time.Time
	valid       bool
}

// SessionStatus describes one cached work dir.
type SessionStatus struct {
	WorkDir    string `json:"work_dir"`
	Valid      bool   `json:"valid"`
	SessionKey string `json:"session_key,omitempty"`
	PaneID     string `json:"pane_id,omitempty"`
}

// Status summarizes the registry for health reporting.
type Status struct {
	Total    int             `json:"total"`
	Valid    int             `json:"valid"`
	Sessions []SessionStatus `json:"sessions"`
}

// Registry caches validated session handles per work dir. All state is
// guarded by one mutex; validation runs while holding it, so a work dir is
// never loaded twice concurrently.
type Registry struct {
	loader        Loader
	logger        logger.Logger
	checkInterval time.Duration
	purgeAfter    time.Duration
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) { r.logger = log }
}

// WithCheckInterval sets how often the monitor revalidates entries.
func WithCheckInterval(d time.Duration) Option {
	return func(r *Registry) { r.checkInterval = d }
}

// WithPurgeAfter sets how long an invalid entry is kept before eviction.
func WithPurgeAfter(d time.Duration) Option {
	return func(r *Registry) { r.purgeAfter = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry backed by loader.
func New(loader Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:        loader,
		logger:        logger.Nop(),
		checkInterval: 10 * time.Second,
		purgeAfter:    300 * time.Second,
		now:           time.Now,
		entries:       make(map[string]*entry),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalize(workDir string) string {
	if abs, err := filepath.Abs(workDir); err == nil {
		return abs
	}
	return filepath.Clean(workDir)
}

// Get returns the validated session for workDir. A cached entry is reloaded
// when its session file was replaced or modified since it was cached.
func (r *Registry) Get(workDir string) (*Handle, bool) {
	key := normalize(workDir)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = r.loadAndCache(key)
		if !e.valid {
			return nil, false
		}
		return e.handle, true
	}

	sessionFile := e.sessionFile
	if sessionFile == "" {
		if found, ok := r.loader.FindSessionFile(key); ok {
			sessionFile = found
		} else {
			sessionFile = DefaultSessionFile(key)
		}
	}
	if info, err := os.Stat(sessionFile); err == nil {
		if e.sessionFile == "" || sessionFile != e.sessionFile || !info.ModTime().Equal(e.fileModTime) {
			r.logger.Info("session file changed, reloading", "work_dir", key)
			e = r.loadAndCache(key)
		}
	}

	if e.valid {
		return e.handle, true
	}
	return nil, false
}

// loadAndCache loads and validates the session for key. Caller holds r.mu.
func (r *Registry) loadAndCache(key string) *entry {
	h, found := r.loader.Load(key)

	var sessionFile string
	if found {
		sessionFile = h.SessionFile()
	} else if path, ok := r.loader.FindSessionFile(key); ok {
		sessionFile = path
	}

	e := &entry{workDir: key, lastCheck: r.now()}
	if found {
		e.handle = h
		if _, err := h.EnsurePane(); err != nil {
			r.logger.Debug("session pane not available", "work_dir", key, "error", err)
		} else {
			e.valid = true
		}
	}
	// Stat after validation: pane rediscovery may have rewritten the file.
	if sessionFile != "" {
		if info, err := os.Stat(sessionFile); err == nil {
			e.sessionFile = sessionFile
			e.fileModTime = info.ModTime()
		}
	}
	r.entries[key] = e
	return e
}

// Invalidate marks the entry for workDir invalid.
func (r *Registry) Invalidate(workDir string) {
	key := normalize(workDir)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.valid = false
		r.logger.Info("session invalidated", "work_dir", key)
	}
}

// Remove drops the entry for workDir.
func (r *Registry) Remove(workDir string) {
	key := normalize(workDir)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		delete(r.entries, key)
		r.logger.Info("session removed", "work_dir", key)
	}
}

// Status returns a snapshot of all cached entries, sorted by work dir.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{Total: len(r.entries), Sessions: make([]SessionStatus, 0, len(r.entries))}
	for _, e := range r.entries {
		s := SessionStatus{WorkDir: e.workDir, Valid: e.valid}
		if e.handle != nil {
			s.SessionKey = ComputeKey(e.handle)
			s.PaneID = e.handle.PaneID()
		}
		if e.valid {
			st.Valid++
		}
		st.Sessions = append(st.Sessions, s)
	}
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].WorkDir < st.Sessions[j].WorkDir })
	return st
}

// Start runs the background monitor until ctx is done or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.checkAll()
			}
		}
	}()
}

// Stop ends the monitor and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

// checkAll revalidates valid entries and purges long-invalid ones.
func (r *Registry) checkAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if !e.valid {
			continue
		}
		if e.sessionFile != "" {
			if _, err := os.Stat(e.sessionFile); os.IsNotExist(err) {
				r.logger.Warn("session file deleted", "work_dir", e.workDir)
				e.valid = false
				continue
			}
		}
		if e.handle != nil {
			if _, err := e.handle.EnsurePane(); err != nil {
				r.logger.Warn("session pane invalid", "work_dir", e.workDir, "error", err)
				e.valid = false
			}
		}
		e.lastCheck = r.now()
	}

	now := r.now()
	for key, e := range r.entries {
		if !e.valid && now.Sub(e.lastCheck) > r.purgeAfter {
			delete(r.entries, key)
			r.logger.Debug("purged invalid session", "work_dir", key)
		}
	}
}
