package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s. Used when logging
// token and code prefixes, where the full value must never reach the log. A
// negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so URLs that differ only in a trailing
// slash compare equal, as redirect URI and issuer comparisons expect.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
