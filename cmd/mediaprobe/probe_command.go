package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediaprobe/pkg/cache"
	"mediaprobe/pkg/config"
	"mediaprobe/pkg/duration"
	"mediaprobe/pkg/media"
	"mediaprobe/pkg/request"
	"mediaprobe/pkg/tracker"
)

var errProbesFailed = errors.New("one or more probes failed")

// probeRow is one line of probe output.
type probeRow struct {
	Input   string `json:"input"`
	Name    string `json:"name,omitempty"`
	OK      bool   `json:"ok"`
	Seconds int    `json:"seconds"`
	Path    string `json:"path,omitempty"`
	Cause   string `json:"cause,omitempty"`
	Cached  bool   `json:"cached,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newProbeCommand(configPath *string) *cobra.Command {
	var jsonOut bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "probe <file|url>...",
		Short: "Probe the duration of local files or remote URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigReadOnly(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			rows, err := runProbes(cmd.Context(), cfg, args, logger)
			if err != nil {
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd, rows); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderProbeTable(rows))
			}

			for _, r := range rows {
				if !r.OK {
					return errProbesFailed
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log probe diagnostics to stderr")

	return cmd
}

// runProbes resolves every input to a source, probes them concurrently and
// returns one row per input in input order.
func runProbes(ctx context.Context, cfg *config.Config, inputs []string, logger *slog.Logger) ([]probeRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	prober, err := duration.NewProber(cfg.Probe, logger)
	if err != nil {
		return nil, err
	}
	tr := tracker.New()
	svc := duration.New(prober, cfg.Probe,
		duration.WithCache(cache.NewMemory()),
		duration.WithTracker(tr),
		duration.WithLogger(logger),
	)
	fetcher := request.New(cfg.Request, svc.MaxBytes(), tr)

	rows := make([]probeRow, len(inputs))
	sources := make([]media.Source, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Probe.Concurrency, 1))
	for i, in := range inputs {
		rows[i].Input = in
		g.Go(func() error {
			src, err := openInput(gctx, fetcher, in)
			if err != nil {
				rows[i].Error = err.Error()
				return nil
			}
			sources[i] = src
			return nil
		})
	}
	_ = g.Wait()

	// Probe only the inputs that resolved, keeping their positions
	var idx []int
	var pending []media.Source
	for i := range inputs {
		if rows[i].Error == "" {
			idx = append(idx, i)
			pending = append(pending, sources[i])
		}
	}

	for k, out := range svc.ProbeAll(ctx, "cli", pending, cfg.Probe.Concurrency) {
		row := &rows[idx[k]]
		row.Name = out.Source
		if out.Err != nil {
			row.Error = out.Err.Error()
			continue
		}
		row.OK = out.Record.OK
		row.Seconds = out.Record.Seconds
		row.Path = string(out.Record.Path)
		row.Cause = string(out.Record.Cause)
		row.Cached = out.Record.Cached
	}

	return rows, nil
}

func openInput(ctx context.Context, fetcher *request.Client, in string) (media.Source, error) {
	if isURL(in) {
		return fetcher.Fetch(ctx, in)
	}
	return media.FromFile(in)
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func renderProbeTable(rows []probeRow) string {
	headers := []string{"Input", "Seconds", "Path", "Result"}
	aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}

	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		seconds := "-"
		result := "ok"
		switch {
		case r.Error != "":
			result = r.Error
		case !r.OK:
			result = "failed"
			if r.Cause != "" {
				result += " (" + r.Cause + ")"
			}
		default:
			seconds = strconv.Itoa(r.Seconds)
			if r.Cached {
				result += " (cached)"
			}
		}
		body = append(body, []string{r.Input, seconds, r.Path, result})
	}
	return renderTable(headers, body, aligns)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
