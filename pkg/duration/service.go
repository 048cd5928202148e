// Package duration serves duration probes to the API and the CLI: it validates
// sources, deduplicates them through the result cache and records history,
// stats and metrics around the media prober.
package duration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"mediaprobe/pkg/cache"
	"mediaprobe/pkg/config"
	"mediaprobe/pkg/media"
	"mediaprobe/pkg/model"
	"mediaprobe/pkg/observe"
	"mediaprobe/pkg/store"
	"mediaprobe/pkg/tracker"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside probe.allowed_extensions.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrTooLarge is returned for sources larger than probe.max_upload_bytes.
	ErrTooLarge = errors.New("media too large")
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

// Prober is the probing capability the service wraps. *media.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, src media.Source) media.Result
}

// Service probes sources on behalf of callers.
type Service struct {
	prober   Prober
	allowed  map[string]bool
	maxBytes int64

	cache   *cache.ResultCache
	history store.ProbeStore
	tracker *tracker.Tracker
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result deduplication by content digest.
func WithCache(c cache.Cacher) Option {
	return func(s *Service) { s.cache = cache.NewResultCache(c) }
}

// WithHistory persists every resolved probe.
func WithHistory(h store.ProbeStore) Option {
	return func(s *Service) { s.history = h }
}

// WithTracker sets the stats tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service enforcing the limits in cfg.
func New(p Prober, cfg config.ProbeConfig, opts ...Option) *Service {
	s := &Service{
		prober:   p,
		allowed:  make(map[string]bool, len(cfg.AllowedExtensions)),
		maxBytes: int64(cfg.MaxUploadBytes),
		tracker:  tracker.New(),
		logger:   slog.Default(),
	}
	for _, ext := range cfg.AllowedExtensions {
		s.allowed[strings.ToLower(ext)] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Tracker returns the tracker the service reports to.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// MaxBytes returns the size limit for a single source.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Validate checks src against the extension and size limits.
func (s *Service) Validate(src media.Source) error {
	if len(s.allowed) > 0 && !s.allowed[src.Ext()] {
		ext := src.Ext()
		if ext == "" {
			ext = "(none)"
		}
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if s.maxBytes > 0 && src.Size() > s.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, src.Size(), s.maxBytes)
	}
	return nil
}

// Probe probes src on behalf of an anonymous caller.
func (s *Service) Probe(ctx context.Context, src media.Source) (*model.ProbeRecord, error) {
	return s.ProbeFrom(ctx, "direct", src)
}

// ProbeFrom probes src and attributes stats to origin ("upload", "url", "cli").
// A probe that resolves to Failure is not an error: the returned record has OK
// false. Errors are reserved for rejected or unreadable sources.
func (s *Service) ProbeFrom(ctx context.Context, origin string, src media.Source) (*model.ProbeRecord, error) {
	if err := s.Validate(src); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "duration.Probe")
	defer span.End()
	span.SetAttributes(
		attribute.String("media.name", src.Name),
		attribute.Int64("media.size", src.Size()),
		attribute.String("origin", origin),
	)

	s.metrics.ActiveProbes.Add(ctx, 1)
	defer s.metrics.ActiveProbes.Add(ctx, -1)

	start := time.Now()

	data, err := src.ReadAll(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), s.maxBytes)
	}
	sum := sha256.Sum256(data)

	rec := &model.ProbeRecord{
		ID:     uuid.NewString(),
		Name:   src.Name,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}

	res, cached := s.lookup(ctx, origin, rec.SHA256)
	if !cached {
		res = s.prober.Probe(ctx, media.FromBytes(src.Name, data))
		if s.cache != nil {
			if err := s.cache.Put(ctx, rec.SHA256, res); err != nil {
				s.logger.Warn("Duration: failed to cache result", "name", src.Name, "error", err)
			}
		}
	}

	rec.Result = res
	rec.Cached = cached
	rec.SetElapsed(time.Since(start))
	rec.CreatedAt = time.Now()

	s.record(ctx, origin, rec)

	span.SetAttributes(
		attribute.Bool("probe.ok", res.OK),
		attribute.Int("probe.seconds", res.Seconds),
		attribute.String("probe.path", string(res.Path)),
		attribute.Bool("probe.cached", cached),
	)
	if !res.OK {
		span.SetStatus(codes.Error, "probe failed")
	}

	return rec, nil
}

func (s *Service) lookup(ctx context.Context, origin, sha string) (media.Result, bool) {
	if s.cache == nil {
		return media.Result{}, false
	}
	res, hit := s.cache.Get(ctx, sha)
	s.metrics.RecordCacheLookup(ctx, hit)
	if hit {
		s.tracker.TrackCacheHit(origin)
	} else {
		s.tracker.TrackCacheMiss(origin)
	}
	return res, hit
}

// record reports a resolved probe. History failures are logged, never returned.
func (s *Service) record(ctx context.Context, origin string, rec *model.ProbeRecord) {
	if rec.OK {
		s.tracker.TrackSuccess(origin, string(rec.Path))
	} else {
		s.tracker.TrackFailure(origin)
	}
	s.metrics.RecordProbe(ctx, rec.Result, rec.Elapsed, rec.Cached)

	if s.history != nil {
		// Persist even if the caller went away mid-probe
		if err := s.history.SaveProbe(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warn("Duration: failed to save probe history", "id", rec.ID, "error", err)
		}
	}

	s.logger.Info("Duration: probe resolved",
		"name", rec.Name,
		"ok", rec.OK,
		"seconds", rec.Seconds,
		"path", string(rec.Path),
		"cause", string(rec.Cause),
		"cached", rec.Cached,
		"elapsed", rec.Elapsed.Round(time.Millisecond),
	)
}

// Recent lists probe history newest first. Limit is clamped to [1, MaxRecentLimit];
// non-positive limits mean DefaultRecentLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]*model.ProbeRecord, error) {
	if s.history == nil {
		return []*model.ProbeRecord{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	recs, err := s.history.RecentProbes(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list probes: %w", err)
	}
	if recs == nil {
		recs = []*model.ProbeRecord{}
	}
	return recs, nil
}

// Outcome pairs a record with the error that prevented it, for batch probes.
type Outcome struct {
	Source string
	Record *model.ProbeRecord
	Err    error
}

// ProbeAll probes sources concurrently, at most limit at a time, and returns
// outcomes in input order.
func (s *Service) ProbeAll(ctx context.Context, origin string, sources []media.Source, limit int) []Outcome {
	out := make([]Outcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range sources {
		g.Go(func() error {
			rec, err := s.ProbeFrom(gctx, origin, src)
			out[i] = Outcome{Source: src.Name, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
