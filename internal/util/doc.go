// Package util provides small helpers shared across hubauth packages.
//
// Key utilities:
//   - SafeTruncate: truncates strings so logs only ever carry token prefixes
//   - NormalizeURL: trailing-slash-insensitive URL comparison
package util
