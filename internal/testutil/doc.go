// Package testutil provides shared test helpers for hubauth packages: fixture
// generators for storage records, assertion helpers, a mock time source, and
// an HTTP request builder for handler tests.
package testutil
