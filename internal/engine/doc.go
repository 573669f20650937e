// Package engine wires the client together.
//
// An Engine owns the snapshot store, the game watcher, the poll scheduler and
// the transaction orchestrator for one account. Poll jobs are the only writers
// of authoritative snapshots; actions go through the orchestrator, and a
// confirmed action forces the jobs for the views it touched to run at once.
package engine
