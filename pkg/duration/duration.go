// Package duration parses and formats durations with calendar-scale units
// on top of Go's standard format. Retention windows and schedule horizons
// in configuration read better as "7d" or "2w" than as "168h".
//
// Supported beyond time.ParseDuration:
//   - d: days (24 hours)
//   - w: weeks (7 days)
//
// Units compose largest-first: "1w2d12h" is one week, two days, twelve
// hours. Plain Go strings ("90m", "720h") parse unchanged.
package duration

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// Parse converts a duration string to a time.Duration. Leading week and
// day components are consumed first; whatever remains is handed to
// time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
	}

	var total time.Duration
	consumed := false

	// Peel off "<digits>w" and "<digits>d" prefixes. Fractions are left to
	// the standard parser, which rejects them for our custom units anyway.
	for len(s) > 0 {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(s) {
			break
		}
		unit := s[i]
		if unit != 'w' && unit != 'd' {
			break
		}
		var n int64
		for _, c := range s[:i] {
			n = n*10 + int64(c-'0')
		}
		if unit == 'w' {
			total += time.Duration(n) * Week
		} else {
			total += time.Duration(n) * Day
		}
		s = s[i+1:]
		consumed = true
	}

	if s != "" {
		rest, err := time.ParseDuration(s)
		if err != nil {
			if consumed {
				return 0, fmt.Errorf("invalid duration remainder %q: %w", s, err)
			}
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += rest
	} else if !consumed {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	if negative {
		total = -total
	}
	return total, nil
}

// Format renders a duration using the largest applicable units, e.g.
// "1w2d12h0m0s" or "45m30s". Sub-day durations fall back to Go's own format.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	if weeks := d / Week; weeks > 0 {
		fmt.Fprintf(&b, "%dw", weeks)
		d -= weeks * Week
	}
	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if d > 0 {
		b.WriteString(d.String())
	}

	return b.String()
}
