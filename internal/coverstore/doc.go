// Package coverstore persists cover state in SQLite.
//
// Two tables back it (see migrations/):
//   - cover_state: the last snapshot of each cover, read at startup so a
//     cover can show open/closed before its first live poll
//   - cover_state_history: an append-only log of changes, bounded by
//     PruneHistory
//
// All timestamps are stored as RFC 3339 UTC strings.
package coverstore
