package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// countingAllocator hands out handles that record how often they are released.
type countingAllocator struct {
	mu       sync.Mutex
	handles  []*countingHandle
	allocErr error
}

func (a *countingAllocator) Allocate(src Source) (Handle, error) {
	if a.allocErr != nil {
		return nil, a.allocErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := &countingHandle{path: "mem://" + src.Name}
	a.handles = append(a.handles, h)
	return h, nil
}

func (a *countingAllocator) allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// live returns the number of handles not yet released.
func (a *countingAllocator) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, h := range a.handles {
		if h.releases.Load() == 0 {
			n++
		}
	}
	return n
}

// releaseCalls returns the total number of Release calls across handles.
func (a *countingAllocator) releaseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, h := range a.handles {
		n += int(h.releases.Load())
	}
	return n
}

type countingHandle struct {
	path     string
	releases atomic.Int32
}

func (h *countingHandle) Path() string { return h.path }

func (h *countingHandle) Release() error {
	h.releases.Add(1)
	return nil
}

// fixedLoader reports a duration or an error immediately.
func fixedLoader(seconds float64, err error) MetadataLoader {
	return MetadataLoaderFunc(func(ctx context.Context, h Handle) (float64, error) {
		return seconds, err
	})
}

// hangingLoader never reports, even after its context is cancelled, until the
// test finishes.
func hangingLoader(t *testing.T) MetadataLoader {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	return MetadataLoaderFunc(func(ctx context.Context, h Handle) (float64, error) {
		<-stop
		return 99, nil
	})
}

// countingDecoder hands out decode contexts that record Close calls.
type countingDecoder struct {
	seconds float64
	err     error
	panics  bool
	hangs   bool // block until ctx is done

	mu       sync.Mutex
	contexts []*countingContext
}

func (d *countingDecoder) NewContext() (DecodeContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &countingContext{dec: d}
	d.contexts = append(d.contexts, c)
	return c, nil
}

func (d *countingDecoder) created() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

func (d *countingDecoder) closeCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.contexts {
		n += int(c.closes.Load())
	}
	return n
}

type countingContext struct {
	dec    *countingDecoder
	closes atomic.Int32
}

func (c *countingContext) Decode(ctx context.Context, data []byte) (float64, error) {
	if c.dec.panics {
		panic("decoder exploded")
	}
	if c.dec.hangs {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return c.dec.seconds, c.dec.err
}

func (c *countingContext) Close() error {
	c.closes.Add(1)
	return nil
}

var errBroken = errors.New("broken media")

// writeWAV encodes samples of silence at rate Hz into a mono 16-bit WAV file
// and returns its path and contents.
func writeWAV(t *testing.T, dir, name string, rate beep.SampleRate, samples int) (string, []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	format := beep.Format{SampleRate: rate, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Silence(samples), format); err != nil {
		f.Close()
		t.Fatalf("encode wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return path, data
}

// mpegFrames builds n silent MPEG-1 Layer III frames: 128 kbit/s, 44.1 kHz,
// joint stereo, 417 bytes and 1152 samples each.
func mpegFrames(n int) []byte {
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
	return bytes.Repeat(frame, n)
}
