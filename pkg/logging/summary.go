package logging

import (
	"strconv"
	"strings"
	"time"
)

// Summary condenses a text-handler log line for display.
type Summary struct {
	// MaxValue clips attribute values to this many bytes. Zero keeps them whole.
	MaxValue int
	// Omit lists attribute keys left out of the summary.
	Omit []string
}

// DefaultSummary is used by Summarize.
var DefaultSummary = Summary{MaxValue: 24, Omit: []string{"trace_id"}}

// Summarize condenses raw with DefaultSummary.
func Summarize(raw string) string {
	return DefaultSummary.Line(raw)
}

// Line renders raw as "15:04:05 msg (key=value, ...)" with attributes in the
// order they were logged. Lines that are not key=value pairs, or carry no msg,
// come back unchanged.
func (s Summary) Line(raw string) string {
	pairs, ok := splitPairs(raw)
	if !ok {
		return raw
	}

	var clock, msg string
	attrs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		switch {
		case p.key == "time":
			if t, err := time.Parse(time.RFC3339Nano, p.val); err == nil {
				clock = t.Format(time.TimeOnly)
			}
		case p.key == "level":
		case p.key == "msg":
			msg = p.val
		case s.omits(p.key):
		default:
			attrs = append(attrs, p.key+"="+s.clip(p.val))
		}
	}
	if msg == "" {
		return raw
	}

	var b strings.Builder
	if clock != "" {
		b.WriteString(clock)
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	if len(attrs) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

func (s Summary) omits(key string) bool {
	for _, k := range s.Omit {
		if k == key {
			return true
		}
	}
	return false
}

func (s Summary) clip(v string) string {
	if s.MaxValue <= 0 || len(v) <= s.MaxValue {
		return v
	}
	return v[:s.MaxValue] + "..."
}

type pair struct{ key, val string }

// splitPairs tokenizes the key=value output of slog.TextHandler. Quoted values
// use Go string syntax.
func splitPairs(line string) ([]pair, bool) {
	var pairs []pair
	rest := strings.TrimSpace(line)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 || strings.ContainsAny(rest[:eq], " \"") {
			return nil, false
		}
		key := rest[:eq]
		rest = rest[eq+1:]

		var val string
		if strings.HasPrefix(rest, `"`) {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, false
			}
			if val, err = strconv.Unquote(quoted); err != nil {
				return nil, false
			}
			rest = rest[len(quoted):]
		} else if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			val, rest = rest[:sp], rest[sp:]
		} else {
			val, rest = rest, ""
		}
		pairs = append(pairs, pair{key, val})
		rest = strings.TrimLeft(rest, " ")
	}
	return pairs, len(pairs) > 0
}
