// Package startup runs the checks `mediaprobe serve` performs before accepting requests.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil if the check passes.
type CheckFunc func(ctx context.Context) error

// Check is a single named startup check.
type Check struct {
	Name     string
	Run      CheckFunc
	Critical bool // a failure prevents startup
}

// Result holds the outcome of a single check.
type Result struct {
	Check    Check
	Error    error
	Duration time.Duration
}

// Run executes the checks in order, each bounded by timeout.
func Run(ctx context.Context, checks []Check, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	results := make([]Result, len(checks))

	for i, c := range checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := runOne(checkCtx, c)
		cancel()

		results[i] = Result{
			Check:    c,
			Error:    err,
			Duration: time.Since(start),
		}
	}
	return results
}

// runOne returns when the check finishes or its context expires, whichever is first.
func runOne(ctx context.Context, c Check) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- c.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("check timed out: %w", ctx.Err())
	}
}

// AnalyzeResults logs a summary and returns the joined errors of failed critical checks.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup: checks summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Check.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Check.Critical:
			slog.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Check.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}

// TempDirWritable checks that probe handles can be spooled into dir. Empty dir means os.TempDir().
func TempDirWritable(dir string) Check {
	return Check{
		Name:     "Temp directory",
		Critical: true,
		Run: func(ctx context.Context) error {
			f, err := os.CreateTemp(dir, "mediaprobe-check-*")
			if err != nil {
				return err
			}
			name := f.Name()
			_, werr := f.Write([]byte("ok"))
			cerr := f.Close()
			rerr := os.Remove(name)
			return errors.Join(werr, cerr, rerr)
		},
	}
}

// Pinger is satisfied by *sql.DB and *db.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseReachable checks the database connection.
func DatabaseReachable(p Pinger) Check {
	return Check{
		Name:     "Database",
		Critical: true,
		Run:      p.PingContext,
	}
}

// DecoderPresent warns when the decode fallback is disabled.
func DecoderPresent(hasDecoder bool) Check {
	return Check{
		Name:     "Decoder",
		Critical: false,
		Run: func(ctx context.Context) error {
			if !hasDecoder {
				return errors.New("no decoder configured, probes that miss container metadata will fail")
			}
			return nil
		},
	}
}
