// Package txn implements the transaction orchestrator.
//
// Every user action becomes a PendingIntent that moves strictly through
// created → submitted → confirming → {confirmed, failed}. The orchestrator
// checks funds and allowance before anything reaches the wallet, refuses to
// submit an identical intent twice while one is in flight, applies optimistic
// overlays once a transaction confirms and forces the affected poll jobs to
// refresh.
//
// Two-step actions (approve then act) go out as one atomic batch when the
// wallet supports it. Otherwise the steps are submitted one after another and
// the second is only submitted once the first has confirmed.
package txn
