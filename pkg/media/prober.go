package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediaprobe/pkg/logging"
)

// DefaultMetadataTimeout bounds the wait for the metadata path.
const DefaultMetadataTimeout = 4000 * time.Millisecond

var errMetadataTimeout = errors.New("metadata load timed out")

// Prober determines the duration of audio sources. It holds no per-probe
// state, so one Prober serves any number of concurrent probes.
type Prober struct {
	alloc           HandleAllocator
	loader          MetadataLoader
	decoder         Decoder
	metadataTimeout time.Duration
	decodeTimeout   time.Duration
	logger          *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithAllocator sets the temporary handle allocator.
func WithAllocator(a HandleAllocator) Option {
	return func(p *Prober) { p.alloc = a }
}

// WithMetadataLoader sets the metadata path backend.
func WithMetadataLoader(l MetadataLoader) Option {
	return func(p *Prober) { p.loader = l }
}

// WithDecoder sets the decode capability. A nil decoder disables the decode path.
func WithDecoder(d Decoder) Option {
	return func(p *Prober) { p.decoder = d }
}

// WithMetadataTimeout overrides DefaultMetadataTimeout. Non-positive values are ignored.
func WithMetadataTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.metadataTimeout = d
		}
	}
}

// WithDecodeTimeout bounds the decode path. Zero means no bound.
func WithDecodeTimeout(d time.Duration) Option {
	return func(p *Prober) { p.decodeTimeout = d }
}

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProber creates a Prober spooling to temp files, reading container headers
// and decoding with beep unless overridden.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		alloc:           TempFileAllocator{},
		loader:          HeaderLoader{},
		decoder:         BeepDecoder{},
		metadataTimeout: DefaultMetadataTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasDecoder reports whether the decode path is available.
func (p *Prober) HasDecoder() bool { return p.decoder != nil }

// trigger is the terminal event of the metadata path.
type trigger int

const (
	triggerLoaded trigger = iota
	triggerErrored
	triggerTimedOut
	triggerCancelled
)

func (t trigger) String() string {
	switch t {
	case triggerLoaded:
		return "loaded"
	case triggerErrored:
		return "errored"
	case triggerTimedOut:
		return "timed_out"
	case triggerCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type metadataSignal struct {
	seconds float64
	err     error
}

// Probe determines the duration of src in whole seconds. It returns exactly
// once, after the temporary handle and any decode context it created have
// been released.
func (p *Prober) Probe(ctx context.Context, src Source) (res Result) {
	var h Handle
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Probe: recovered from panic", "name", src.Name, "panic", r)
			res = Failure(PathNone, CauseInternal)
		}
		p.release(h, src.Name)
	}()

	cause := CauseMediaError
	h, err := p.alloc.Allocate(src)
	if err != nil {
		p.logger.Debug("Probe: handle allocation failed", "name", src.Name, "error", err)
	} else {
		trig, seconds, err := p.loadMetadata(ctx, h)
		p.release(h, src.Name)
		h = nil

		logging.Trace(p.logger, "Probe: metadata path settled", "name", src.Name, "trigger", trig.String())

		switch trig {
		case triggerLoaded:
			if n, ok := roundSeconds(seconds); ok {
				p.logger.Debug("Probe: resolved from metadata", "name", src.Name, "seconds", n)
				return Success(n, PathMetadata)
			}
			cause = CauseNonFinite
			p.logger.Debug("Probe: metadata reported unusable duration", "name", src.Name, "duration", seconds)
		case triggerErrored:
			cause = CauseMediaError
			p.logger.Debug("Probe: metadata path failed", "name", src.Name, "error", err)
		case triggerTimedOut:
			cause = CauseTimeout
			p.logger.Debug("Probe: metadata path timed out", "name", src.Name, "timeout", p.metadataTimeout)
		case triggerCancelled:
			p.logger.Debug("Probe: cancelled during metadata path", "name", src.Name, "error", err)
			return Failure(PathMetadata, CauseCancelled)
		}
	}

	res = p.decode(ctx, src)
	if !res.OK {
		p.logger.Debug("Probe: decode path failed", "name", src.Name, "metadata_cause", cause, "cause", res.Cause)
	}
	return res
}

// loadMetadata runs the metadata loader against h and waits for whichever
// comes first: loaded, errored, timed out, or caller cancellation.
func (p *Prober) loadMetadata(ctx context.Context, h Handle) (trigger, float64, error) {
	loadCtx, detach := context.WithCancel(ctx)
	defer detach()

	// Subscribe before binding: the channel exists before the loader can signal.
	// It is buffered so a loader that finishes after we stopped waiting never blocks.
	signals := make(chan metadataSignal, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				signals <- metadataSignal{err: fmt.Errorf("metadata loader panic: %v", r)}
			}
		}()
		seconds, err := p.loader.LoadMetadata(loadCtx, h)
		signals <- metadataSignal{seconds: seconds, err: err}
	}()

	timer := time.NewTimer(p.metadataTimeout)
	defer timer.Stop()

	select {
	case sig := <-signals:
		if sig.err != nil {
			return triggerErrored, 0, sig.err
		}
		return triggerLoaded, sig.seconds, nil
	case <-timer.C:
		return triggerTimedOut, 0, errMetadataTimeout
	case <-ctx.Done():
		return triggerCancelled, 0, ctx.Err()
	}
}

// decode reads the whole source and decodes it with a fresh decode context.
func (p *Prober) decode(ctx context.Context, src Source) Result {
	if p.decoder == nil {
		return Failure(PathDecode, CauseNoDecoder)
	}

	if p.decodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.decodeTimeout)
		defer cancel()
	}

	data, err := src.ReadAll(ctx)
	if err != nil {
		p.logger.Debug("Probe: failed to buffer source", "name", src.Name, "error", err)
		return Failure(PathDecode, decodeCause(err))
	}

	dc, err := p.decoder.NewContext()
	if err != nil {
		p.logger.Debug("Probe: failed to create decode context", "name", src.Name, "error", err)
		return Failure(PathDecode, CauseDecodeError)
	}

	seconds, err := decodeAndClose(ctx, dc, data, p.logger)
	if err != nil {
		p.logger.Debug("Probe: decode failed", "name", src.Name, "error", err)
		return Failure(PathDecode, decodeCause(err))
	}

	n, ok := roundSeconds(seconds)
	if !ok {
		return Failure(PathDecode, CauseNonFinite)
	}
	p.logger.Debug("Probe: resolved from decode", "name", src.Name, "seconds", n)
	return Success(n, PathDecode)
}

// decodeAndClose closes dc exactly once, even if Decode panics.
func decodeAndClose(ctx context.Context, dc DecodeContext, data []byte, logger *slog.Logger) (float64, error) {
	defer func() {
		if err := dc.Close(); err != nil {
			logger.Debug("Probe: failed to close decode context", "error", err)
		}
	}()
	return dc.Decode(ctx, data)
}

func decodeCause(err error) Cause {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseCancelled
	default:
		return CauseDecodeError
	}
}

// release frees h. A nil handle is a no-op.
func (p *Prober) release(h Handle, name string) {
	if h == nil {
		return
	}
	if err := h.Release(); err != nil {
		p.logger.Warn("Probe: failed to release media handle", "name", name, "path", h.Path(), "error", err)
	}
}
