// Package queue provides the durable pending change queue for a
// zonesync replica.
//
// The queue holds outbound intents (record saves/deletes, zone
// creates/deletes) that have not yet been acknowledged by the remote
// store. Intents are deduplicated by identity: a new intent for the
// same record or zone replaces the existing one, so the queue reflects
// the latest local intent rather than the full edit history.
//
// The queue itself is in-memory; its owner persists it through the
// local store whenever Dirty reports unsaved mutations.
package queue

import "github.com/zonesync/zonesync/internal/record"

// Queue is a deduplicated set of pending changes keyed by record or
// zone identity.
//
// Queue is not safe for concurrent use; the sync coordinator serializes
// all access behind its single-writer boundary.
type Queue struct {
	changes map[string]record.PendingChange
	dirty   bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{changes: make(map[string]record.PendingChange)}
}

// Load creates a queue pre-populated from persisted changes. The
// resulting queue is clean (no unsaved mutations).
func Load(changes []record.PendingChange) *Queue {
	q := New()
	for _, c := range changes {
		q.changes[c.Key()] = c
	}
	return q
}

// Add upserts the given changes. An intent for an identity that is
// already pending replaces the existing intent: the latest local intent
// wins, independent of how content conflicts resolve later.
func (q *Queue) Add(changes ...record.PendingChange) {
	for _, c := range changes {
		q.changes[c.Key()] = c
		q.dirty = true
	}
}

// Remove deletes exact matches from the queue. Removing a change that
// is absent, or that was superseded by a different intent for the same
// identity, is a no-op.
func (q *Queue) Remove(changes ...record.PendingChange) {
	for _, c := range changes {
		existing, ok := q.changes[c.Key()]
		if !ok || existing != c {
			continue
		}
		delete(q.changes, c.Key())
		q.dirty = true
	}
}

// Snapshot returns the current pending changes restricted to the given
// zones, without mutating the queue. With no zones it returns every
// pending change. No ordering is guaranteed among different identities.
func (q *Queue) Snapshot(zoneIDs ...string) []record.PendingChange {
	var filter map[string]bool
	if len(zoneIDs) > 0 {
		filter = make(map[string]bool, len(zoneIDs))
		for _, z := range zoneIDs {
			filter[z] = true
		}
	}

	var out []record.PendingChange
	for _, c := range q.changes {
		if filter != nil && !filter[c.ZoneID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Get returns the pending change for the given key, if any.
func (q *Queue) Get(key string) (record.PendingChange, bool) {
	c, ok := q.changes[key]
	return c, ok
}

// Len returns the number of pending changes.
func (q *Queue) Len() int {
	return len(q.changes)
}

// Clear drops every pending change.
func (q *Queue) Clear() {
	if len(q.changes) == 0 {
		return
	}
	q.changes = make(map[string]record.PendingChange)
	q.dirty = true
}

// Dirty reports whether the queue has mutations not yet persisted.
func (q *Queue) Dirty() bool {
	return q.dirty
}

// MarkClean records that the current state has been persisted.
func (q *Queue) MarkClean() {
	q.dirty = false
}
