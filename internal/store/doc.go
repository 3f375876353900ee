// Package store provides durable SQLite storage for vigil's monitoring
// state: per-subject snapshots, the processed-item ledger, and notes.
//
// Three tables, keyed as the data model requires:
//
//   - snapshots: one row per subject, canonical-JSON payload of the last
//     successfully completed evaluation cycle.
//   - ledger: one row per externally numbered stream item (mail id,
//     contract id, wallet entry id). Globally unique - the same item may be
//     visible to multiple subjects' collectors but is judged once
//     system-wide.
//   - notes: the persisted explanation for a claimed, hostile stream item.
//     Append-mostly; read back every cycle so historical explanations
//     survive process restarts and snapshot resets.
//
// The ledger claim is a true atomic claim (INSERT ... ON CONFLICT DO
// NOTHING), never check-then-write, so concurrent evaluations cannot
// double-claim an item.
package store
