package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	tcmp3 "github.com/tcolgate/mp3"
)

var (
	// ErrNoAudio is returned when a buffer decodes to zero samples.
	ErrNoAudio = errors.New("media: no audio decoded")
	// ErrContextClosed is returned when a decode context is used after Close.
	ErrContextClosed = errors.New("media: decode context closed")
)

// Decoder is the optional capability of decoding raw audio bytes without a
// metadata handle. A nil Decoder means the capability is absent.
type Decoder interface {
	NewContext() (DecodeContext, error)
}

// DecodeContext decodes one buffer. Close releases it and must be called
// exactly once.
type DecodeContext interface {
	Decode(ctx context.Context, data []byte) (float64, error)
	Close() error
}

// Decoder names accepted by NewDecoder.
const (
	DecoderBeep   = "beep"
	DecoderFrames = "frames"
	DecoderNone   = "none"
)

// NewDecoder resolves a decoder by name. "none" and "" return a nil Decoder.
func NewDecoder(name string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DecoderBeep:
		return BeepDecoder{}, nil
	case DecoderFrames:
		return FrameDecoder{}, nil
	case DecoderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
}

// decodeChunk is the number of stereo frames pulled from a streamer per step.
const decodeChunk = 4096

// BeepDecoder decodes WAV and MP3 buffers sample by sample with beep.
type BeepDecoder struct{}

// NewContext implements Decoder.
func (BeepDecoder) NewContext() (DecodeContext, error) {
	return &beepContext{}, nil
}

type beepContext struct {
	closed bool
}

func (c *beepContext) Decode(ctx context.Context, data []byte) (float64, error) {
	if c.closed {
		return 0, ErrContextClosed
	}
	if len(data) == 0 {
		return 0, ErrNoAudio
	}

	streamer, format, err := decodeStreamer(data)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()

	if format.SampleRate <= 0 {
		return 0, fmt.Errorf("decoder reported sample rate %d", format.SampleRate)
	}

	samples := make([][2]float64, decodeChunk)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, ok := streamer.Stream(samples)
		total += n
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return 0, fmt.Errorf("decode failed: %w", err)
	}
	if total == 0 {
		return 0, ErrNoAudio
	}
	return format.SampleRate.D(total).Seconds(), nil
}

func (c *beepContext) Close() error {
	if c.closed {
		return ErrContextClosed
	}
	c.closed = true
	return nil
}

// decodeStreamer picks WAV by its RIFF magic and treats everything else as MP3.
func decodeStreamer(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if isWAV(data) {
		streamer, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode wav: %w", err)
		}
		return streamer, format, nil
	}

	streamer, format, err := mp3.Decode(nopSeekCloser{bytes.NewReader(data)})
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to decode mp3: %w", err)
	}
	return streamer, format, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// nopSeekCloser keeps the reader seekable so the mp3 decoder can compute its length.
type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

// FrameDecoder sums the durations of MPEG audio frames.
type FrameDecoder struct{}

// NewContext implements Decoder.
func (FrameDecoder) NewContext() (DecodeContext, error) {
	return &frameContext{}, nil
}

type frameContext struct {
	closed bool
}

func (c *frameContext) Decode(ctx context.Context, data []byte) (float64, error) {
	if c.closed {
		return 0, ErrContextClosed
	}

	d := tcmp3.NewDecoder(bytes.NewReader(data))
	var (
		f       tcmp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := d.Decode(&f, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("frame decode failed: %w", err)
		}
		total += f.Duration()
		frames++
	}
	if frames == 0 {
		return 0, ErrNoAudio
	}
	return total.Seconds(), nil
}

func (c *frameContext) Close() error {
	if c.closed {
		return ErrContextClosed
	}
	c.closed = true
	return nil
}
