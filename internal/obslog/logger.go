// Package obslog provides the subsystem-tagged logging convention used
// throughout barnabeenet.
package obslog

import (
	"log"
	"os"
	"strings"
)

var debugEnabled = os.Getenv("DEBUG") == "true"

// Info logs an informational message (always shown).
func Info(subsystem, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
}

// Debug logs a debug message, shown only when DEBUG=true.
func Debug(subsystem, format string, args ...any) {
	if debugEnabled {
		log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
	}
}

// Error logs an error-level message (always shown).
func Error(subsystem, format string, args ...any) {
	log.Printf("[%s] ERROR: "+format, append([]any{subsystem}, args...)...)
}

// Truncate shortens s to maxLen for one-line, log-safe previews.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
