// Package journal records intent transitions in PostgreSQL.
//
// The Writer implements txn.Recorder. Recording never blocks the
// orchestrator: transitions are queued in memory and written in batches to
// the append-only intent_events table. A transition that is already present
// is skipped, so replays are harmless.
package journal
