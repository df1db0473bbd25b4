package helpers

import (
	"strings"
	"unicode/utf8"
)

// LoggerInterface defines the logging surface the worker and retry loop need
type LoggerInterface interface {
	LogError(name string, err error)
	LogInfo(format string, args ...interface{})
}

// CollapseSpaces trims s and folds every whitespace run into a single space
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes cuts s to at most max runes
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
