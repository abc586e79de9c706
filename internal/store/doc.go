// Package store persists finished analysis runs.
//
// NewStore returns a PostgresStore when a database URL is configured and a
// MemoryStore otherwise. Both keep findings in the order the run reported
// them.
package store
