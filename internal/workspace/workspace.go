// Package workspace manages the on-disk staging area where generated
// code is written before verification.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/conveyor/internal/model"
)

const (
	stagedFileMode = 0o644
	stagedDirMode  = 0o755
)

// ErrUnsafePath is returned for generated file paths that would escape
// the task directory.
var ErrUnsafePath = errors.New("unsafe file path")

// Manager stages generated files into per-task directories under a
// common root.
type Manager struct {
	root string
}

// NewManager creates a staging manager rooted at root, creating the
// directory if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, stagedDirMode); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// TaskDir returns the staging directory for a task.
func (m *Manager) TaskDir(taskID string) string {
	return filepath.Join(m.root, strings.ToLower(taskID))
}

// Stage writes the full file set into the task's directory and returns
// the directory path. Existing files under the same paths are replaced.
func (m *Manager) Stage(ctx context.Context, taskID string, files model.FileSet) (string, error) {
	log := util.Log(ctx)
	dir := m.TaskDir(taskID)

	if err := os.MkdirAll(dir, stagedDirMode); err != nil {
		return "", fmt.Errorf("create task dir: %w", err)
	}

	for _, path := range files.Paths() {
		if err := m.writeFile(dir, path, files[path]); err != nil {
			return "", err
		}
	}

	log.Debug("staged task files",
		"task_id", taskID,
		"dir", dir,
		"files", len(files),
	)
	return dir, nil
}

// ApplyFixes overwrites only the files named in fixes, leaving every
// other staged file untouched.
func (m *Manager) ApplyFixes(ctx context.Context, taskID string, fixes model.FileSet) error {
	log := util.Log(ctx)
	dir := m.TaskDir(taskID)

	for _, path := range fixes.Paths() {
		if err := m.writeFile(dir, path, fixes[path]); err != nil {
			return err
		}
	}

	log.Debug("applied fixes",
		"task_id", taskID,
		"files", len(fixes),
	)
	return nil
}

// ListFiles returns the relative paths of all files staged for a task,
// in lexical order.
func (m *Manager) ListFiles(taskID string) ([]string, error) {
	dir := m.TaskDir(taskID)

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list staged files: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// writeFile writes one staged file, creating parent directories and
// refusing paths that would land outside the task directory.
func (m *Manager) writeFile(dir, relPath, content string) error {
	if filepath.IsAbs(relPath) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, relPath)
	}

	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, relPath)
	}

	full := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), stagedDirMode); err != nil {
		return fmt.Errorf("create dir for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), stagedFileMode); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return nil
}
