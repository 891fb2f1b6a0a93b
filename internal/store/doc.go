// Package store persists pipeline documents, series, prompts, and generated
// files in SQLite and exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, status
// transitions that mirror the public pipeline enum, stale-work scans, and the
// lock table backing the distributed mutex. Documents capture extraction and
// classification artifacts so stages can resume without re-running earlier
// work.
//
// Treat this package as the single source of truth for pipeline state
// semantics; when you add new statuses or columns, update schema.sql and bump
// schemaVersion.
package store
