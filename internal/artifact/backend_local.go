package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalBackend mirrors uploaded artifacts to a directory on disk, for the
// local-development CLI driver that has no platform object store to
// round-trip against.
type LocalBackend struct {
	dir string
}

// NewLocalBackend returns a Backend writing files under dir, creating it
// if necessary.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) Put(ctx context.Context, name string, contents io.Reader, size int64) error {
	f, err := os.Create(filepath.Join(b.dir, filepath.Base(name)))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, contents)
	return err
}
