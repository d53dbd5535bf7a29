// Package store provides SQLite-backed durable storage for caps journals.
//
// A journal database holds:
//   - Sessions: one per Problem run, keyed by a UUIDv7 id, carrying the
//     hash of the problem description it was recorded against
//   - Records: the append-only call log of a session, one row per
//     journaled operation
//   - Checkpoints: journal positions covered by a restart snapshot
//
// Records are sealed before they are written: each carries a content id
// and a CRC-32 of its canonical body. Reads verify the checksum and report
// a damaged row as JournalCorrupt.
//
// All reads are ordered by seq, the per-session logical position. Wall
// time is never used for ordering.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records and checkpoints must name a known session
package store
