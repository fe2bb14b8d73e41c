// Package textutil holds small string helpers shared by tools and tracing.
package textutil

import "unicode/utf8"

// Truncate shortens s to at most n bytes and appends "..." when it cut
// anything. The cut never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 0 {
		n = 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
