package correlator

import (
	"fmt"
	"time"
)

// FormatDuration renders a millisecond span as "42s", "3m 05s" or
// "1h 02m 03s". Non-positive spans render as "0s".
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	secs := ms / 1000
	h, rem := secs/3600, secs%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// span returns to-from, or 0 when either end is missing or the difference
// is negative (capture agents with skewed clocks).
func span(from, to int64) int64 {
	if from == 0 || to == 0 || to < from {
		return 0
	}
	return to - from
}

const timeDisplayLayout = "01/02/2006 15:04:05.000"

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(timeDisplayLayout)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
