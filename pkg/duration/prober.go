package duration

import (
	"fmt"
	"log/slog"
	"time"

	"mediaprobe/pkg/config"
	"mediaprobe/pkg/media"
)

// NewProber builds a media prober from the probe section of the configuration.
func NewProber(cfg config.ProbeConfig, logger *slog.Logger) (*media.Prober, error) {
	dec, err := media.NewDecoder(cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return media.NewProber(
		media.WithAllocator(media.TempFileAllocator{Dir: cfg.TempDir}),
		media.WithMetadataLoader(media.HeaderLoader{}),
		media.WithDecoder(dec),
		media.WithMetadataTimeout(time.Duration(cfg.MetadataTimeout)),
		media.WithDecodeTimeout(time.Duration(cfg.DecodeTimeout)),
		media.WithLogger(logger),
	), nil
}
