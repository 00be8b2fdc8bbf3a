// Package syncer implements the reconciliation protocol the offline scanner
// app uses to stay consistent with the central store.
//
// The protocol has three operations, each stateless with respect to any
// individual client:
//
//   - Baseline: a full current-state snapshot plus a cursor, used for
//     first-time bootstrap or resynchronization.
//   - Deltas: the append-only event feed strictly after a client-held
//     sequence number.
//   - Push: durable application of a client batch, idempotent by client
//     mutation id, rejected as stale when it conflicts with server-side
//     changes the client hasn't seen.
//
// Each scope (inventory, tickets) has its own sequence space; events in
// different scopes are never ordered relative to each other. Within a scope,
// server sequence numbers are strictly increasing and assigned at commit
// time, so the numbers a client observes never move backwards.
//
// The event log is append-only and kept forever by this package; pruning, if
// a deployment wants it, is an operator concern outside the sync core.
package syncer
