// Package security provides validation, sanitization, and limits for the
// scheduler packages.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/timberbase/prodsched/pkg/core"
)

// Limits for identifiers and stored audit text.
const (
	// MaxJobIDLength is the maximum length for job identifiers
	MaxJobIDLength = 64

	// MaxRunLogMessageLength is the maximum length for stored run-log messages
	MaxRunLogMessageLength = 4096

	// MaxWorkerSlots is the hard limit for simultaneously running jobs
	MaxWorkerSlots = 16
)

// validJobID matches alphanumeric, hyphens, underscores, and dots
var validJobID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobID validates a job identifier
func ValidateJobID(id string) error {
	if id == "" {
		return core.ErrInvalidJobID
	}
	if len(id) > MaxJobIDLength {
		return core.ErrJobIDTooLong
	}
	if !validJobID.MatchString(id) {
		return core.ErrInvalidJobID
	}
	return nil
}

// SanitizeRunLogMessage truncates and sanitizes free-text messages before
// they hit the audit log
func SanitizeRunLogMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxRunLogMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxRunLogMessageLength-3]) + "..."
	}

	return result
}

// ClampWorkerSlots ensures the scheduler worker-slot count is within limits
func ClampWorkerSlots(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkerSlots {
		return MaxWorkerSlots
	}
	return n
}
