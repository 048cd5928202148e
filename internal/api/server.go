package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mediaprobe/pkg/logging"
	"mediaprobe/pkg/observe"
	"mediaprobe/pkg/version"
)

// NewServer creates and configures the HTTP server.
// metricsH may be nil when metrics are disabled. shutdown is called once a
// shutdown request has been answered.
func NewServer(addr string, mediaH *MediaHandler, stats *StatsHandler, metricsH http.Handler, m *observe.Metrics, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 3. Duration Endpoints
	mux.HandleFunc("POST /api/media/duration", mediaH.HandleUpload)
	mux.HandleFunc("POST /api/media/duration/url", mediaH.HandleURL)
	mux.HandleFunc("GET /api/probes/recent", mediaH.HandleRecent)

	// 4. Stats & Logs
	mux.Handle("GET /api/stats", stats)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 5. Metrics
	if metricsH != nil {
		mux.Handle("GET /metrics", metricsH)
	}

	// 6. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Server: graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Server: failed to write shutdown response", "error", err)
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(m, logging.RequestLogger)(mux),
		// Uploads and the decode fallback both take a while on large files
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Server: failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Server: failed to write version response", "error", err)
	}
}
