package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	workspacePrefix = "job-"
	outputsDirName  = "outputs"
)

// Workspace is the private directory tree of one job
type Workspace struct {
	Dir        string
	OutputsDir string

	once sync.Once
	err  error
}

// NewWorkspace creates a unique job directory under root ("" uses the OS temp
// dir) with an outputs subdirectory for the engine. A missing root is created.
func NewWorkspace(root, jobID string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace root: %w", err)
		}
	}

	dir, err := os.MkdirTemp(root, workspacePrefix+sanitizeJobID(jobID)+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	outputs := filepath.Join(dir, outputsDirName)
	if err := os.MkdirAll(outputs, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create outputs directory: %w", err)
	}

	return &Workspace{Dir: dir, OutputsDir: outputs}, nil
}

// Release removes the workspace recursively. Only the first call does any
// work; an already missing directory is not an error.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil && !os.IsNotExist(err) {
			w.err = fmt.Errorf("failed to remove workspace: %w", err)
		}
	})
	return w.err
}

func sanitizeJobID(jobID string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == '*' {
			return '_'
		}
		return r
	}, jobID)
}

type scopeEntry struct {
	name    string
	release func() error
}

// Scope collects release functions of acquired resources and runs them in
// reverse order of acquisition, exactly once
type Scope struct {
	logger  *zap.Logger
	mu      sync.Mutex
	entries []scopeEntry
	closed  bool
}

// NewScope creates an empty scope
func NewScope(logger *zap.Logger) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{logger: logger}
}

// Push registers a release function. Pushing onto a closed scope releases
// the resource immediately.
func (s *Scope) Push(name string, release func() error) {
	s.mu.Lock()
	if !s.closed {
		s.entries = append(s.entries, scopeEntry{name: name, release: release})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.run(scopeEntry{name: name, release: release})
}

// Close releases everything in reverse order. Failures are logged, not returned.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		s.run(entries[i])
	}
}

func (s *Scope) run(e scopeEntry) {
	if err := e.release(); err != nil {
		s.logger.Warn("failed to release resource", zap.String("resource", e.name), zap.Error(err))
	}
}

// RemoveFile returns a release function deleting path; a missing file is fine
func RemoveFile(path string) func() error {
	return func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
}

// CleanStaleResult contains the outcome of a stale workspace cleanup
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error
type CleanupError struct {
	Path  string
	Error error
}

// CleanStaleWorkspaces removes job directories under root older than maxAge.
// They are only left behind when a process dies mid-job.
func CleanStaleWorkspaces(root string, maxAge time.Duration, logger *zap.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspacePrefix) {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logger.Warn("failed to remove stale workspace", zap.String("path", dirPath), zap.Error(err))
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed stale workspace",
			zap.String("path", dirPath),
			zap.Duration("age", time.Since(info.ModTime())),
		)
	}

	return result
}
