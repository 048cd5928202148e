package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"mediaprobe/pkg/logging"
)

// handleLatestLog serves a condensed copy of the last INFO+ server log line.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	line := logging.Summarize(logging.GlobalLogCapture.GetLastLine())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"log": line}); err != nil {
		slog.Error("API: failed to write log response", "error", err)
	}
}
