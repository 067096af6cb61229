package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallnest/taskgraphgo/cache"
)

// FileOutputCache implements cache.OutputCache as a directory of JSON files,
// one subdirectory per task type. Entries survive the process.
type FileOutputCache struct {
	dir string
}

var _ cache.OutputCache = (*FileOutputCache)(nil)

// NewFileOutputCache creates a file-backed output cache rooted at dir.
func NewFileOutputCache(dir string) (*FileOutputCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}
	return &FileOutputCache{dir: dir}, nil
}

func (c *FileOutputCache) entryPath(taskType, key string) string {
	return filepath.Join(c.dir, taskType, key+".json")
}

// GetOutput returns the cached output for the key.
func (c *FileOutputCache) GetOutput(_ context.Context, taskType, key string) (map[string]any, bool, error) {
	data, err := os.ReadFile(c.entryPath(taskType, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return output, true, nil
}

// PutOutput stores the output for the key. The write goes through a
// temporary file and a rename so readers never observe a partial entry.
func (c *FileOutputCache) PutOutput(_ context.Context, taskType, key string, output map[string]any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	typeDir := filepath.Join(c.dir, taskType)
	if err := os.MkdirAll(typeDir, 0o755); err != nil {
		return fmt.Errorf("unable to create cache directory: %w", err)
	}

	path := c.entryPath(taskType, key)
	tmp, err := os.CreateTemp(typeDir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}
	return nil
}
