package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/zonesync/zonesync/internal/merge"
	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/transport"
)

// FetchChanges pulls the remote changes recorded after the persisted
// cursor, applies them to local state, and advances the cursor. A
// transport failure leaves local state and the cursor untouched.
//
// Application is idempotent: re-delivery of an already-applied page
// (after a crash between apply and cursor persistence, or a server-side
// cursor reset) converges to the same state, because remote copies only
// win by metadata newness and deletes of absent records are no-ops.
func (c *Coordinator) FetchChanges(ctx context.Context) (FetchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cursor, batch, err := c.transport.Fetch(ctx, c.cursor)
	if err != nil {
		c.stats.Errors++
		c.publishLocked()
		return FetchResult{}, fmt.Errorf("failed to fetch changes: %w", err)
	}

	res := c.applyChangesLocked(batch)
	res.Cursor = cursor

	moved := cursor != c.cursor
	c.cursor = cursor
	if moved || !batch.Empty() {
		if err := c.persistLocked(); err != nil {
			return res, err
		}
	}

	c.stats.FetchRounds++
	c.stats.Downloaded += res.Applied + res.Removed
	c.stats.LastFetchAt = time.Now()
	c.publishLocked()
	c.observer.FetchComplete(res)
	return res, nil
}

// applyChangesLocked folds a batch of remote changes into the record
// table. Zone deletions cascade first, then record deletions, then
// upserts; a remote delete always wins over local state, while a remote
// upsert wins content by user modification time and metadata by token
// newness.
func (c *Coordinator) applyChangesLocked(batch transport.ChangeBatch) FetchResult {
	var res FetchResult

	for _, zoneID := range batch.DeletedZoneIDs {
		res.ZonesRemoved++
		for id, rec := range c.records {
			if rec.ZoneID != zoneID {
				continue
			}
			delete(c.records, id)
			c.queue.Remove(record.SaveRecordChange(id, zoneID))
			c.queue.Remove(record.DeleteRecordChange(id, zoneID))
			c.observer.RecordRemoved(id, zoneID)
			res.Removed++
		}
	}

	for _, id := range batch.DeletedRecordIDs {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		delete(c.records, id)
		c.queue.Remove(record.SaveRecordChange(id, rec.ZoneID))
		c.observer.RecordRemoved(id, rec.ZoneID)
		res.Removed++
	}

	for _, remote := range batch.Records {
		local, ok := c.records[remote.ID]
		if !ok {
			local = record.Record{ID: remote.ID, ZoneID: remote.ZoneID}
		}
		merged := merge.Records(local, remote)
		if remote.Meta.Newer(merged.Meta) {
			merged.Meta = remote.Meta
		}
		if ok && merged.Equal(local) && !remote.Meta.Newer(local.Meta) {
			continue
		}
		c.records[remote.ID] = merged
		c.observer.RecordUpserted(merged)
		res.Applied++
	}

	return res
}
