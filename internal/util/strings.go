// Package util holds small string helpers shared by the command line and
// the reporting code.
package util

import (
	"strings"
	"unicode/utf8"
)

// SplitCSV splits a comma-separated list, trimming whitespace and dropping
// empty and repeated entries. First occurrences keep their order. Returns
// nil for an empty list.
func SplitCSV(s string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		result = append(result, part)
	}
	return result
}

// Truncate shortens s to at most max bytes, ending in "..." when cut. The
// cut never splits a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	suffix := "..."
	if max <= len(suffix) {
		suffix = ""
	}
	cut := max - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
