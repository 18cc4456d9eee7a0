// Package store persists units, the StageRun ledger, artifacts and segments
// in SQLite.
//
// The Store owns connection setup (WAL, foreign keys, busy retry), schema
// initialization from the embedded schema.sql, and the full-text index over
// segments (an FTS5 table ranked with bm25). Unit ordering between statuses
// is not known here; the pipeline package owns it per version.
//
// A single writer is assumed. Callers route writes through the job runner
// and hold the process lock; readers may open the database concurrently.
//
// Schema changes bump schemaVersion in schema.go, which lives in the
// database header as PRAGMA user_version.
package store
