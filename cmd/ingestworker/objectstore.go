package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// localObjectStore is a filesystem stand-in for the object store (MinIO is
// out of scope for this build): Upload copies the scratch file into Dir
// keyed the same way a real object key would be, and ScratchPath resolves
// an inbound ObjectKey back to a local path for the extractor to read.
type localObjectStore struct {
	Dir string
}

func newLocalObjectStore(dir string) (*localObjectStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &localObjectStore{Dir: dir}, nil
}

func (s *localObjectStore) Upload(ctx context.Context, key string, path string) error {
	dest := s.ScratchPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// ScratchPath resolves an object key to a path under Dir, the same mapping
// an upload endpoint uses when it places an inbound blob before the
// file_upload task is ever published.
func (s *localObjectStore) ScratchPath(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}
