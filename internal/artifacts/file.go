package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	artifactFileMode = 0o644
	artifactDirMode  = 0o755
)

// FileStore keeps each artifact as a pretty-printed JSON file in a
// directory, one file per key. This is the default backend: the
// resulting files double as human-readable run output.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, artifactDirMode); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, key string, artifact any) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", key, err)
	}

	path := s.path(key)
	if err = os.WriteFile(path, data, artifactFileMode); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, key string, out any) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("read artifact %s: %w", key, err)
	}
	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal artifact %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
