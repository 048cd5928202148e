package duration

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"mediaprobe/pkg/cache"
	"mediaprobe/pkg/config"
	"mediaprobe/pkg/db"
	"mediaprobe/pkg/media"
	"mediaprobe/pkg/model"
	"mediaprobe/pkg/observe"
	"mediaprobe/pkg/store"
)

// stubProber returns a fixed result and counts calls.
type stubProber struct {
	res   media.Result
	calls atomic.Int32
}

func (p *stubProber) Probe(ctx context.Context, src media.Source) media.Result {
	p.calls.Add(1)
	return p.res
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

func testProbeConfig() config.ProbeConfig {
	cfg := config.DefaultConfig().Probe
	cfg.MaxUploadBytes = 64
	return cfg
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return store.NewSQLiteStore(d)
}

func TestService_Validate(t *testing.T) {
	svc := New(&stubProber{}, testProbeConfig(), WithMetrics(testMetrics(t)))

	tests := []struct {
		name    string
		src     media.Source
		wantErr error
	}{
		{"Allowed", media.FromBytes("a.MP3", []byte("x")), nil},
		{"BadExtension", media.FromBytes("notes.txt", []byte("x")), ErrUnsupportedFormat},
		{"NoExtension", media.FromBytes("README", []byte("x")), ErrUnsupportedFormat},
		{"TooLarge", media.FromBytes("a.wav", make([]byte, 65)), ErrTooLarge},
		{"AtLimit", media.FromBytes("a.wav", make([]byte, 64)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Validate(tt.src)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestService_ProbeRejectsBeforeProbing(t *testing.T) {
	p := &stubProber{res: media.Success(1, media.PathMetadata)}
	svc := New(p, testProbeConfig(), WithMetrics(testMetrics(t)))

	_, err := svc.Probe(context.Background(), media.FromBytes("x.exe", []byte("MZ")))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestService_CachesSuccesses(t *testing.T) {
	p := &stubProber{res: media.Success(30, media.PathMetadata)}
	st := newTestStore(t)
	svc := New(p, testProbeConfig(),
		WithCache(cache.NewMemory()),
		WithHistory(st),
		WithMetrics(testMetrics(t)),
	)
	ctx := context.Background()

	first, err := svc.ProbeFrom(ctx, "upload", media.FromBytes("a.mp3", []byte("same bytes")))
	require.NoError(t, err)
	second, err := svc.ProbeFrom(ctx, "upload", media.FromBytes("renamed.mp3", []byte("same bytes")))
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load(), "identical content must be probed once")
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, media.Success(30, media.PathMetadata), second.Result)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.SHA256, 64)
	assert.Equal(t, int64(len("same bytes")), first.Size)

	stats := svc.Tracker().Snapshot()["upload"]
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(2), stats.Successes)
	assert.Equal(t, int64(2), stats.MetadataPath)

	recent, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	ids := []string{recent[0].ID, recent[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestService_DoesNotCacheFailures(t *testing.T) {
	p := &stubProber{res: media.Failure(media.PathDecode, media.CauseDecodeError)}
	svc := New(p, testProbeConfig(), WithCache(cache.NewMemory()), WithMetrics(testMetrics(t)))
	ctx := context.Background()

	for range 2 {
		rec, err := svc.ProbeFrom(ctx, "cli", media.FromBytes("bad.mp3", []byte("junk")))
		require.NoError(t, err, "a failed probe is a result, not an error")
		assert.False(t, rec.OK)
		assert.Equal(t, 0, rec.Seconds)
	}
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, int64(2), svc.Tracker().Snapshot()["cli"].Failures)
}

type failingHistory struct{ store.ProbeStore }

func (failingHistory) SaveProbe(ctx context.Context, r *model.ProbeRecord) error {
	return errors.New("disk full")
}

func TestService_HistoryFailureDoesNotFailProbe(t *testing.T) {
	p := &stubProber{res: media.Success(5, media.PathDecode)}
	svc := New(p, testProbeConfig(), WithHistory(failingHistory{}), WithMetrics(testMetrics(t)))

	rec, err := svc.Probe(context.Background(), media.FromBytes("a.wav", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, media.Success(5, media.PathDecode), rec.Result)
}

func TestService_RecentWithoutHistory(t *testing.T) {
	svc := New(&stubProber{}, testProbeConfig(), WithMetrics(testMetrics(t)))
	recs, err := svc.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestService_RecentClampsLimit(t *testing.T) {
	st := newTestStore(t)
	p := &stubProber{res: media.Success(1, media.PathMetadata)}
	svc := New(p, testProbeConfig(), WithHistory(st), WithMetrics(testMetrics(t)))
	ctx := context.Background()

	for i := range DefaultRecentLimit + 5 {
		_, err := svc.Probe(ctx, media.FromBytes("a.mp3", []byte{byte(i)}))
		require.NoError(t, err)
	}

	recs, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, DefaultRecentLimit)

	recs, err = svc.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestService_ProbeAll(t *testing.T) {
	p := &stubProber{res: media.Success(7, media.PathMetadata)}
	svc := New(p, testProbeConfig(), WithMetrics(testMetrics(t)))

	sources := []media.Source{
		media.FromBytes("a.mp3", []byte("a")),
		media.FromBytes("b.txt", []byte("b")),
		media.FromBytes("c.wav", []byte("c")),
	}
	out := svc.ProbeAll(context.Background(), "cli", sources, 2)

	require.Len(t, out, 3)
	assert.Equal(t, "a.mp3", out[0].Source)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, 7, out[0].Record.Seconds)
	assert.ErrorIs(t, out[1].Err, ErrUnsupportedFormat)
	assert.Nil(t, out[1].Record)
	assert.NoError(t, out[2].Err)
}

func TestService_EndToEndWithRealProber(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig().Probe
	prober := media.NewProber(media.WithAllocator(media.TempFileAllocator{Dir: dir}))
	svc := New(prober, cfg, WithMetrics(testMetrics(t)))

	rec, err := svc.Probe(context.Background(), media.FromBytes("empty.mp3", nil))
	require.NoError(t, err)
	assert.False(t, rec.OK, "a 0-byte blob resolves to Failure")
}
