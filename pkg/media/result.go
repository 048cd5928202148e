package media

import (
	"fmt"
	"math"
)

// Path identifies which stage of a probe produced its result.
type Path string

const (
	PathNone     Path = ""
	PathMetadata Path = "metadata"
	PathDecode   Path = "decode"
)

// Cause records why a probe failed. It is diagnostic only: callers branch on
// Result.OK and never on the cause.
type Cause string

const (
	CauseNone        Cause = ""
	CauseNonFinite   Cause = "non_finite"
	CauseMediaError  Cause = "media_error"
	CauseTimeout     Cause = "timeout"
	CauseNoDecoder   Cause = "no_decoder"
	CauseDecodeError Cause = "decode_error"
	CauseCancelled   Cause = "cancelled"
	CauseInternal    Cause = "internal"
)

// Result is the outcome of one probe: either a whole, non-negative number of
// seconds or a failure.
type Result struct {
	Seconds int   `json:"seconds"`
	OK      bool  `json:"ok"`
	Path    Path  `json:"path,omitempty"`
	Cause   Cause `json:"cause,omitempty"`
}

// Success builds a successful result.
func Success(seconds int, p Path) Result {
	return Result{Seconds: seconds, OK: true, Path: p}
}

// Failure builds a failed result.
func Failure(p Path, c Cause) Result {
	return Result{Path: p, Cause: c}
}

func (r Result) String() string {
	if r.OK {
		return fmt.Sprintf("Success(%d)", r.Seconds)
	}
	return "Failure"
}

// roundSeconds rounds a duration in seconds to the nearest whole second
// (halves away from zero). NaN, infinities and negative values are rejected.
func roundSeconds(d float64) (int, bool) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, false
	}
	r := math.Round(d)
	if r > math.MaxInt32 {
		return 0, false
	}
	return int(r), true
}
