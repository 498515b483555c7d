// Package storage defines the persistence interfaces and record types for
// hubauth: registered clients, provisioned users, groups and memberships,
// access grants, authorization codes, and issued token pairs.
//
// The Store interface composes the per-concern interfaces (ClientStore,
// UserStore, GroupStore, GrantStore, CodeStore, TokenStore). The two
// operations with atomicity requirements are ConsumeAuthorizationCode and
// RotateTokenPair: backends must guarantee exactly one winner among
// concurrent callers.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqlite: SQLite-backed storage for single-node production use
package storage
