// Package memory provides an in-memory implementation of all storage
// interfaces, backed by maps under a sync.RWMutex.
//
// It is suitable for development, tests, and single-instance deployments that
// do not need persistence across restarts; for durable storage use
// storage/sqlite. A background loop prunes expired authorization codes and
// retired token pairs; call Stop to shut it down.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
package memory
