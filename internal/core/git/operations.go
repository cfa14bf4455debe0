// Package git resolves repository facts for session work directories.
package git

import (
	"fmt"
	"path/filepath"
	"sync"

	git "github.com/go-git/go-git/v5"
)

// Operations provides read-only git lookups rooted at a work directory
type Operations struct {
	workDir string
}

// NewOperations creates a new git operations instance
func NewOperations(workDir string) *Operations {
	return &Operations{
		workDir: workDir,
	}
}

func (o *Operations) open() (*git.Repository, error) {
	return git.PlainOpenWithOptions(o.workDir, &git.PlainOpenOptions{DetectDotGit: true})
}

// IsGitRepository checks if the work dir is inside a git repository
func (o *Operations) IsGitRepository() bool {
	_, err := o.open()
	return err == nil
}

// RepositoryRoot returns the top-level directory of the enclosing repository.
func (o *Operations) RepositoryRoot() (string, error) {
	repo, err := o.open()
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	return filepath.Clean(wt.Filesystem.Root()), nil
}

// GetRepositoryInfo returns information about the repository
func (o *Operations) GetRepositoryInfo() (*RepositoryInfo, error) {
	repo, err := o.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	info := &RepositoryInfo{}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	info.Root = filepath.Clean(wt.Filesystem.Root())

	// A fresh repository has no HEAD yet
	if ref, err := repo.Head(); err == nil {
		info.CurrentBranch = ref.Name().Short()
	}

	// Get remote URL
	remotes, err := repo.Remotes()
	if err == nil && len(remotes) > 0 {
		config := remotes[0].Config()
		if len(config.URLs) > 0 {
			info.RemoteURL = config.URLs[0]
		}
	}

	// Check if repository is clean
	if status, err := wt.Status(); err == nil {
		info.IsClean = status.IsClean()
	}

	return info, nil
}

// ProjectRoot returns the repository root for dir, or dir itself outside a repository.
func ProjectRoot(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	root, err := NewOperations(abs).RepositoryRoot()
	if err != nil {
		return abs
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		return resolved
	}
	return root
}

// RootCache memoizes ProjectRoot per directory.
type RootCache struct {
	mu    sync.Mutex
	roots map[string]string
}

// NewRootCache creates an empty cache.
func NewRootCache() *RootCache {
	return &RootCache{roots: make(map[string]string)}
}

// Root returns the cached project root of dir.
func (c *RootCache) Root(dir string) string {
	c.mu.Lock()
	root, ok := c.roots[dir]
	c.mu.Unlock()
	if ok {
		return root
	}
	root = ProjectRoot(dir)
	c.mu.Lock()
	c.roots[dir] = root
	c.mu.Unlock()
	return root
}

// SameProject reports whether a and b resolve to the same project root.
func (c *RootCache) SameProject(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return c.Root(a) == c.Root(b)
}
