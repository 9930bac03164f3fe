// Package syncer implements the record synchronization core of a
// zonesync replica: the sync coordinator, the outbound send cycle, and
// the inbound change applier.
//
// # Architecture
//
// The coordinator owns the replica's mutable state and serializes every
// mutation behind a single-writer boundary:
//
//	Application / CLI
//	     │ SaveRecords / DeleteRecords
//	     ↓
//	SyncCoordinator ── owns ──┬── record table (id → Record)
//	     │                    ├── pending change queue
//	     │                    └── fetch cursor
//	     │ SendChanges / FetchChanges
//	     ↓
//	Transport (remote record store)
//
// Local mutations upsert the record table and push an intent into the
// pending change queue. SendChanges drains the queue in per-zone
// batches, interprets the per-record outcomes, and corrects local state
// on failure (merge on conflict, metadata invalidation on structural
// errors, re-enqueue where the remote store demands a retry). FetchChanges applies a batch of remote creates, updates, and
// deletes behind the persisted cursor.
//
// # Conflict resolution
//
// Write-write conflicts are resolved by application intent time: the
// copy with the later user modification timestamp wins in full (see the
// merge package). The remote store's compare-and-swap versioning is
// what detects conflicts; this package decides them.
//
// # Durability
//
// Every public operation persists the record table, queue, and cursor
// through the Persistence collaborator before returning. Persistence is
// the last step of outcome reconciliation, so a crash or cancellation
// leaves the replica with either the previous durable state or the new
// one, never a half-applied batch.
//
// # Error handling
//
// One record's failure never blocks processing of the others in a
// batch. A sync round that leaves work pending (conflicts requeued,
// transient failures, unclassified failures) reports ErrSyncIncomplete
// to the caller; per-record detail is available on the result for
// logging.
package syncer
