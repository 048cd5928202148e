package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2/wav"
	"github.com/lizc2003/audioduration"
)

var (
	// ErrUnsupportedContainer is returned when no header parser matches the extension.
	ErrUnsupportedContainer = errors.New("media: unsupported container")
	// ErrEmptyMedia is returned for zero-length media.
	ErrEmptyMedia = errors.New("media: empty media")
)

// MetadataLoader reads the duration, in seconds, that a media container
// declares in its headers. Implementations should return promptly once ctx is
// done; the prober stops waiting for them either way.
type MetadataLoader interface {
	LoadMetadata(ctx context.Context, h Handle) (float64, error)
}

// MetadataLoaderFunc adapts a function to MetadataLoader.
type MetadataLoaderFunc func(ctx context.Context, h Handle) (float64, error)

// LoadMetadata calls f(ctx, h).
func (f MetadataLoaderFunc) LoadMetadata(ctx context.Context, h Handle) (float64, error) {
	return f(ctx, h)
}

// HeaderLoader reads container headers from the handle's file without decoding
// any audio.
type HeaderLoader struct{}

// LoadMetadata implements MetadataLoader.
func (HeaderLoader) LoadMetadata(ctx context.Context, h Handle) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := h.Path()
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat media: %w", err)
	}
	if fi.Size() == 0 {
		return 0, ErrEmptyMedia
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return audioduration.Duration(f, audioduration.TypeMp3)
	case ".flac":
		return audioduration.Duration(f, audioduration.TypeFlac)
	case ".m4a", ".mp4", ".aac":
		return audioduration.Duration(f, audioduration.TypeMp4)
	case ".ogg", ".oga", ".opus":
		return audioduration.Duration(f, audioduration.TypeOgg)
	case ".wav", ".wave":
		return wavHeaderDuration(f)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedContainer, filepath.Ext(path))
	}
}

// wavHeaderDuration derives the duration from the data chunk size declared in
// the RIFF header.
func wavHeaderDuration(f *os.File) (float64, error) {
	streamer, format, err := wav.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read wav header: %w", err)
	}
	if format.SampleRate <= 0 {
		return 0, fmt.Errorf("wav header declares sample rate %d", format.SampleRate)
	}
	return format.SampleRate.D(streamer.Len()).Seconds(), nil
}
