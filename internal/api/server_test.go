package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaprobe/pkg/version"
)

func newTestServer(t *testing.T, shutdown func()) *httptest.Server {
	t.Helper()
	svc := newTestService(t)
	metricsH := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# HELP mediaprobe_probes_total\n")
	})
	srv := NewServer("", NewMediaHandler(svc, nil), NewStatsHandler(svc.Tracker()), metricsH, testMetrics(t), shutdown)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Routes(t *testing.T) {
	ts := newTestServer(t, func() {})

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{http.MethodGet, "/health", http.StatusOK, "OK"},
		{http.MethodGet, "/api/version", http.StatusOK, version.Version},
		{http.MethodGet, "/api/stats", http.StatusOK, `"sources"`},
		{http.MethodGet, "/api/probes/recent", http.StatusOK, `"probes"`},
		{http.MethodGet, "/api/log/latest", http.StatusOK, `"log"`},
		{http.MethodGet, "/metrics", http.StatusOK, "mediaprobe_probes_total"},
		{http.MethodGet, "/api/media/duration", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, http.NoBody)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestServer_Shutdown(t *testing.T) {
	called := make(chan struct{})
	ts := newTestServer(t, func() { close(called) })

	resp, err := http.Post(ts.URL+"/api/shutdown", "text/plain", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown func was not called")
	}
}

func TestStatsHandler(t *testing.T) {
	svc := newTestService(t)
	h := NewStatsHandler(svc.Tracker())

	media := NewMediaHandler(svc, nil)
	for range 2 {
		media.HandleUpload(httptest.NewRecorder(), uploadRequest(t, "file", "same.mp3", []byte("same")))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	upload := resp.Sources["upload"]
	assert.Equal(t, int64(1), upload.CacheHits)
	assert.Equal(t, int64(1), upload.CacheMisses)
	assert.Equal(t, int64(50), upload.HitRate)
	assert.Equal(t, int64(2), upload.Successes)
	assert.Positive(t, resp.Diagnostics.Goroutines)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
}
