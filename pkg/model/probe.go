package model

import (
	"time"

	"mediaprobe/pkg/media"
)

// ProbeRecord is one resolved duration probe as served by the API and kept in history.
type ProbeRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`

	media.Result

	Cached    bool          `json:"cached"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
	CreatedAt time.Time     `json:"created_at"`
}

// SetElapsed records the wall time spent resolving the probe.
func (r *ProbeRecord) SetElapsed(d time.Duration) {
	r.Elapsed = d
	r.ElapsedMS = d.Milliseconds()
}
