package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaprobe/pkg/config"
	"mediaprobe/pkg/tracker"
)

func testConfig() config.RequestConfig {
	return config.RequestConfig{
		Retries: 3,
		Timeout: config.Duration(5 * time.Second),
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(5 * time.Millisecond),
			MaxDelay:  config.Duration(20 * time.Millisecond),
		},
	}
}

func TestGet_Sequential(t *testing.T) {
	var conc int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		if current > 1 {
			t.Errorf("Concurrency detected! Expected sequential.")
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := New(testConfig(), 0, tracker.New())

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Get(context.Background(), svr.URL); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestGet_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	client := New(testConfig(), 0, tracker.New())

	body, err := client.Get(context.Background(), svr.URL)
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}
	if string(body) != "success" {
		t.Errorf("Expected 'success', got '%s'", string(body))
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestGet_RetriesExhausted(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(testConfig(), 0, tr)

	if _, err := client.Get(context.Background(), svr.URL); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	host := normalizeHost(strings.TrimPrefix(svr.URL, "http://"))
	if fc, _ := client.backoff.GetState(host); fc != 1 {
		t.Errorf("expected host backoff to record 1 failure, got %d", fc)
	}
	if tr.Snapshot()["remote:"+host].Failures != 1 {
		t.Error("tracker did not record the failure")
	}
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer svr.Close()

	client := New(testConfig(), 0, tracker.New())

	_, err := client.Get(context.Background(), svr.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
}

func TestFetch(t *testing.T) {
	uaCh := make(chan string, 1)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("RIFF-ish audio"))
	}))
	defer svr.Close()

	client := New(testConfig(), 1024, tracker.New())

	src, err := client.Fetch(context.Background(), svr.URL+"/podcasts/Episode%201.MP3")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if src.Name != "Episode 1.MP3" {
		t.Errorf("unexpected name %q", src.Name)
	}
	if src.Ext() != ".mp3" {
		t.Errorf("unexpected ext %q", src.Ext())
	}
	if src.Size() != int64(len("RIFF-ish audio")) {
		t.Errorf("unexpected size %d", src.Size())
	}
	if ua := <-uaCh; !strings.HasPrefix(ua, "mediaprobe/") {
		t.Errorf("unexpected user agent %q", ua)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer svr.Close()

	client := New(testConfig(), 16, tracker.New())

	_, err := client.Fetch(context.Background(), svr.URL+"/big.mp3")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetch_BadURL(t *testing.T) {
	client := New(testConfig(), 0, tracker.New())

	tests := []string{"ftp://example.com/a.mp3", "file:///etc/passwd", "http://", "::not a url"}
	for _, u := range tests {
		if _, err := client.Fetch(context.Background(), u); err == nil {
			t.Errorf("Fetch(%q) expected error", u)
		}
	}
	if _, err := client.Fetch(context.Background(), "ftp://example.com/a.mp3"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := client.Fetch(context.Background(), "http://"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestGet_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer svr.Close()
	defer close(release)

	client := New(testConfig(), 0, tracker.New())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, svr.URL); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
