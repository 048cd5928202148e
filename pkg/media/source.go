// Package media determines the playback duration of audio sources.
//
// A probe tries a fast metadata path first (container headers read through a
// temporary media handle) and falls back to decoding the whole buffer. Every
// resource a probe allocates is released before the probe returns.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptySource is returned when a zero-value Source is opened.
var ErrEmptySource = errors.New("media: source has no content")

// Source is an immutable audio blob together with the name it was selected
// under. The name carries the file extension the metadata path relies on.
type Source struct {
	Name string

	size int64
	open func() (io.ReadCloser, error)
}

// FromBytes wraps an in-memory blob. The slice is not copied and must not be
// modified while a probe is in flight.
func FromBytes(name string, data []byte) Source {
	return Source{
		Name: name,
		size: int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromFile references a file on disk. The file is opened lazily, once per read.
func FromFile(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to stat source: %w", err)
	}
	if fi.IsDir() {
		return Source{}, fmt.Errorf("source %s is a directory", path)
	}
	return Source{
		Name: filepath.Base(path),
		size: fi.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FromOpener builds a Source from an arbitrary opener, e.g. a multipart file header.
func FromOpener(name string, size int64, open func() (io.ReadCloser, error)) Source {
	return Source{Name: name, size: size, open: open}
}

// Size returns the blob length in bytes as reported when the source was created.
func (s Source) Size() int64 { return s.size }

// Ext returns the lower-cased file extension including the dot.
func (s Source) Ext() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

// Open returns a fresh reader over the blob.
func (s Source) Open() (io.ReadCloser, error) {
	if s.open == nil {
		return nil, ErrEmptySource
	}
	return s.open()
}

// ReadAll reads the entire blob into memory.
func (s Source) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, max(s.size, 0)))
	if _, err := io.Copy(buf, ctxReader{ctx: ctx, r: rc}); err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return buf.Bytes(), nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
