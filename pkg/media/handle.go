package media

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Handle is a temporary, process-local location through which the metadata
// path addresses a source. Release must be idempotent.
type Handle interface {
	Path() string
	Release() error
}

// HandleAllocator maps a source to a temporary media handle.
type HandleAllocator interface {
	Allocate(src Source) (Handle, error)
}

// TempFileAllocator spools sources into temporary files. An empty Dir uses
// os.TempDir.
type TempFileAllocator struct {
	Dir string
}

// Allocate copies the source into a new temporary file that keeps the source's
// extension so header readers can pick the right container parser.
func (a TempFileAllocator) Allocate(src Source) (Handle, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(a.Dir, "mediaprobe-*"+src.Ext())
	if err != nil {
		return nil, fmt.Errorf("failed to create temp media file: %w", err)
	}
	h := &fileHandle{path: f.Name()}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		_ = h.Release()
		return nil, fmt.Errorf("failed to spool source: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = h.Release()
		return nil, fmt.Errorf("failed to close temp media file: %w", err)
	}
	return h, nil
}

type fileHandle struct {
	path string
	once sync.Once
	err  error
}

func (h *fileHandle) Path() string { return h.path }

func (h *fileHandle) Release() error {
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			h.err = err
		}
	})
	return h.err
}
