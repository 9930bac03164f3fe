package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zonesync/zonesync/internal/merge"
	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/transport"
)

// SendChanges drains the pending change queue: zone operations first,
// then the queued record intents as one batch per zone. Per-record
// outcomes are reconciled into local state, and the whole snapshot is
// persisted as the final step of the cycle.
//
// A nil error means the queue fully drained. ErrSyncIncomplete means
// the cycle finished its pass but left work behind (requeued conflicts,
// transient or unclassified failures); local corrections have already
// been applied and persisted, so the caller simply runs another cycle.
// Any other error is a wholesale failure of a transport call, and the
// intents of that batch remain queued untouched.
func (c *Coordinator) SendChanges(ctx context.Context) (SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendChangesLocked(ctx)
}

func (c *Coordinator) sendChangesLocked(ctx context.Context) (SendResult, error) {
	var res SendResult

	pending := c.queue.Snapshot()
	if len(pending) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Zone operations run before record batches so that a queued zone
	// creation exists by the time its records upload.
	var zoneOps []record.PendingChange
	recordOps := make(map[string][]record.PendingChange)
	for _, ch := range pending {
		if ch.IsZoneChange() {
			zoneOps = append(zoneOps, ch)
		} else {
			recordOps[ch.ZoneID] = append(recordOps[ch.ZoneID], ch)
		}
	}

	for _, ch := range zoneOps {
		if err := ctx.Err(); err != nil {
			return res, c.finishSendLocked(res, err)
		}
		if err := c.applyZoneOpLocked(ctx, ch, &res); err != nil {
			return res, c.finishSendLocked(res, err)
		}
	}

	// Deterministic zone order keeps multi-zone rounds reproducible.
	zoneIDs := make([]string, 0, len(recordOps))
	for zoneID := range recordOps {
		zoneIDs = append(zoneIDs, zoneID)
	}
	sort.Strings(zoneIDs)

	for _, zoneID := range zoneIDs {
		outbound, sent := c.materializeBatchLocked(zoneID, recordOps[zoneID])
		if len(outbound) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, c.finishSendLocked(res, err)
		}

		outcomes, err := c.transport.SendBatch(ctx, zoneID, outbound)
		if err != nil {
			// Wholesale failure: nothing in this batch was applied, so
			// every intent stays queued for the next cycle.
			return res, c.finishSendLocked(res,
				fmt.Errorf("failed to send batch for zone %s: %w", zoneID, err))
		}
		for _, out := range outcomes {
			c.reconcileOutcomeLocked(zoneID, out, sent, &res)
		}
	}

	return res, c.finishSendLocked(res, nil)
}

// finishSendLocked persists the cycle's corrections, updates stats, and
// folds the incomplete-queue condition into the returned error.
func (c *Coordinator) finishSendLocked(res SendResult, err error) error {
	if perr := c.persistLocked(); perr != nil {
		if err != nil {
			return errors.Join(err, perr)
		}
		err = perr
	}

	c.stats.SendRounds++
	c.stats.Uploaded += res.Saved
	c.stats.LastSendAt = time.Now()
	if err == nil && res.Incomplete() {
		err = fmt.Errorf("%w: %d requeued, %d remaining, %d failed",
			ErrSyncIncomplete, res.Requeued, res.Remaining, res.Failed)
	}
	if err != nil {
		c.stats.Errors++
	}
	c.publishLocked()
	c.observer.SendComplete(res)
	return err
}

// applyZoneOpLocked executes a single queued zone creation or deletion.
// Transient transport errors leave the intent queued and count against
// the round; only a wholesale context error aborts the cycle.
func (c *Coordinator) applyZoneOpLocked(ctx context.Context, ch record.PendingChange, res *SendResult) error {
	switch ch.Kind {
	case record.SaveZone:
		if err := c.transport.SaveZone(ctx, ch.ZoneID); err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.logger.Printf("Warning: failed to create zone %s: %v", ch.ZoneID, err)
			res.Remaining++
			return nil
		}
	case record.DeleteZone:
		err := c.transport.DeleteZone(ctx, ch.ZoneID)
		if err != nil && !errors.Is(err, transport.ErrZoneNotFound) {
			if ctx.Err() != nil {
				return err
			}
			c.logger.Printf("Warning: failed to delete zone %s: %v", ch.ZoneID, err)
			res.Remaining++
			return nil
		}
	default:
		c.logger.Printf("Warning: ignoring unrecognized zone intent %s", ch)
		c.queue.Remove(ch)
		return nil
	}
	c.queue.Remove(ch)
	res.Saved++
	return nil
}

// materializeBatchLocked turns queued intents into the wire batch for
// one zone. Save intents whose record no longer exists locally are
// dropped on the spot. sent maps record id back to the intent it
// travelled under, for exact removal during reconciliation.
func (c *Coordinator) materializeBatchLocked(zoneID string, changes []record.PendingChange) ([]transport.OutboundRecord, map[string]record.PendingChange) {
	outbound := make([]transport.OutboundRecord, 0, len(changes))
	sent := make(map[string]record.PendingChange, len(changes))

	for _, ch := range changes {
		switch ch.Kind {
		case record.SaveRecord:
			rec, ok := c.records[ch.RecordID]
			if !ok {
				c.queue.Remove(ch)
				continue
			}
			outbound = append(outbound, transport.OutboundRecord{
				ID:             rec.ID,
				ZoneID:         zoneID,
				Name:           rec.Name,
				UserModifiedAt: rec.UserModifiedAt,
				Meta:           rec.Meta,
			})
		case record.DeleteRecord:
			outbound = append(outbound, transport.OutboundRecord{
				ID:     ch.RecordID,
				ZoneID: zoneID,
				Delete: true,
			})
		default:
			c.logger.Printf("Warning: ignoring unrecognized record intent %s", ch)
			c.queue.Remove(ch)
			continue
		}
		sent[ch.RecordID] = ch
	}
	return outbound, sent
}

// reconcileOutcomeLocked folds one per-record outcome back into local
// state. This is where the send cycle's error taxonomy lives: each
// outcome kind either retires the intent, corrects local state and
// requeues, or leaves the intent for a later round.
func (c *Coordinator) reconcileOutcomeLocked(zoneID string, out transport.Outcome, sent map[string]record.PendingChange, res *SendResult) {
	intent, ok := sent[out.RecordID]
	if !ok {
		c.logger.Printf("Warning: outcome for record %s not in batch, ignoring", out.RecordID)
		return
	}

	switch out.Kind {
	case transport.OutcomeSaved:
		if intent.Kind == record.SaveRecord {
			if rec, exists := c.records[out.RecordID]; exists && out.Meta.Newer(rec.Meta) {
				rec.Meta = out.Meta
				c.records[out.RecordID] = rec
			}
		}
		c.queue.Remove(intent)
		res.Saved++

	case transport.OutcomeConflict:
		if out.ServerRecord == nil {
			c.logger.Printf("Warning: conflict for record %s carried no server copy", out.RecordID)
			res.Failed++
			res.Errors = append(res.Errors, RecordError{out.RecordID, out.Err})
			return
		}
		local, exists := c.records[out.RecordID]
		if !exists {
			// Conflicting delete: the server holds a copy this replica
			// no longer wants. Adopt the server copy; the user's delete
			// already lost by timestamp authority on the server side.
			local = record.Record{ID: out.RecordID, ZoneID: zoneID}
		}
		winner := merge.Records(local, *out.ServerRecord)
		winner.Meta = out.ServerRecord.Meta
		c.records[out.RecordID] = winner
		c.queue.Add(record.SaveRecordChange(out.RecordID, zoneID))
		c.stats.Conflicts++
		c.observer.ConflictResolved(winner)
		res.Requeued++

	case transport.OutcomeZoneMissing:
		if intent.Kind == record.DeleteRecord {
			// The zone is gone, so the record is too. Goal state holds.
			c.queue.Remove(intent)
			res.Saved++
			return
		}
		if rec, exists := c.records[out.RecordID]; exists {
			rec.Meta = record.MetadataToken{}
			c.records[out.RecordID] = rec
		}
		c.queue.Add(record.SaveZoneChange(zoneID))
		c.queue.Add(record.SaveRecordChange(out.RecordID, zoneID))
		res.Requeued++

	case transport.OutcomeRecordGone:
		if intent.Kind == record.DeleteRecord {
			c.queue.Remove(intent)
			res.Saved++
			return
		}
		// The server copy we held a token for vanished. Drop the stale
		// token and upload as a fresh creation next round.
		if rec, exists := c.records[out.RecordID]; exists {
			rec.Meta = record.MetadataToken{}
			c.records[out.RecordID] = rec
		}
		c.queue.Add(record.SaveRecordChange(out.RecordID, zoneID))
		res.Requeued++

	case transport.OutcomeTransient:
		c.logger.Printf("Transient failure for record %s, will retry: %v", out.RecordID, out.Err)
		res.Remaining++

	case transport.OutcomeFailed:
		c.logger.Printf("Warning: record %s failed: %v", out.RecordID, out.Err)
		res.Failed++
		res.Errors = append(res.Errors, RecordError{out.RecordID, out.Err})

	default:
		c.logger.Printf("Warning: unrecognized outcome %d for record %s, leaving intent queued", out.Kind, out.RecordID)
		res.Remaining++
	}
}
