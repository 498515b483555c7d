// Package sqlite provides a SQLite-backed implementation of all storage
// interfaces, suitable for single-node production deployments. The database
// runs in WAL mode; the two atomicity-critical operations
// (ConsumeAuthorizationCode and RotateTokenPair) rely on conditional UPDATEs
// so exactly one concurrent caller wins.
package sqlite
