package verify

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxDiagnosticBytes = 8000
	truncatedMarker           = "\n... [truncated]"
)

// Clean strips runtime backtrace noise from compiler or test output and
// bounds its size. A max of zero or less disables truncation.
func Clean(s string, max int) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "stack backtrace:") {
			break
		}
		if strings.HasPrefix(trimmed, "note: run with `RUST_BACKTRACE") ||
			strings.HasPrefix(trimmed, "note: run with RUST_BACKTRACE") {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if max <= 0 || len(out) <= max {
		return out
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + truncatedMarker
}
