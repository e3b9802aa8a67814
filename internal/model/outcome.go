package model

import (
	"fmt"
	"strings"
)

// Outcome tags prefix every user-facing result so transports can
// pattern-match the outcome class.
const (
	TagWarn         = "[WARN]"
	TagError        = "[ERROR]"
	TagAborted      = "[ABORTED]"
	TagUnauthorized = "[UNAUTHORIZED]"
)

// Unauthorized is returned verbatim for messages from a non-authorized principal.
const Unauthorized = TagUnauthorized

// Warn renders a configuration warning.
func Warn(format string, args ...any) string {
	return TagWarn + " " + fmt.Sprintf(format, args...)
}

// Error renders a runtime failure.
func Error(err error) string {
	if err == nil {
		return TagError + " unknown error"
	}
	return TagError + " " + err.Error()
}

// Aborted renders a cancelled operation.
func Aborted(msg string) string {
	return TagAborted + " " + msg
}

// HasTag reports whether a result string carries the given outcome tag.
func HasTag(result, tag string) bool {
	return strings.HasPrefix(result, tag)
}
