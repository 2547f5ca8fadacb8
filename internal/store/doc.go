// Package store provides the SQLite session catalog.
//
// The catalog lives next to the durable records (<durable_root>/catalog.db)
// and holds one row per recording session: identity, timing, outcome
// counts, sync quality and where the data ended up. It is written once at
// session end and updated when a preserved staging session is migrated
// later by the operator.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while the recorder writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait up to 5s for locks
//   - Schema versioned with PRAGMA user_version
//
// # Ordering
//
// ListSessions orders by started_at, then id, so listings are stable even
// for sessions started within the same second.
package store
