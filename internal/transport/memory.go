package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zonesync/zonesync/internal/record"
)

// Memory is an in-process remote record store shared by any number of
// replicas. It implements the full Transport contract: compare-and-swap
// versioning with per-record change tags, a sequence-numbered change
// log behind opaque cursors, zone lifecycle, and account events.
//
// Tests use it to exercise multi-replica convergence; the failure
// injection hooks simulate network faults and out-of-band server
// mutations.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	zones map[string]map[string]*serverRecord
	log   []logEntry
	seq   uint64

	// epoch anchors the store's logical clock; server modification
	// times are epoch + seq so freshness comparisons are deterministic.
	epoch time.Time

	events chan AccountEvent

	nextSendErr  error
	nextFetchErr error
	forced       map[string]Outcome
}

type serverRecord struct {
	rec       record.Record
	changeTag uint64
	createdAt time.Time
	updatedAt time.Time
}

type logEntry struct {
	seq      uint64
	zoneID   string
	recordID string // empty for zone deletions
	deleted  bool
}

// serverMeta is the structure of the opaque metadata token payload.
// Only the transport interprets it; replicas treat the token as bytes.
type serverMeta struct {
	RecordName string    `json:"record_name"`
	ChangeTag  uint64    `json:"change_tag"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewMemory creates an empty in-process remote store.
func NewMemory() *Memory {
	return &Memory{
		zones:  make(map[string]map[string]*serverRecord),
		epoch:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		events: make(chan AccountEvent, 16),
		forced: make(map[string]Outcome),
	}
}

// SendBatch implements Transport.SendBatch.
//
// Each record is processed independently; one record's failure never
// blocks the others. A wholesale error (injected via FailNextSend)
// returns no per-record outcomes.
func (m *Memory) SendBatch(ctx context.Context, zoneID string, records []OutboundRecord) ([]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextSendErr != nil {
		err := m.nextSendErr
		m.nextSendErr = nil
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(records))
	for _, out := range records {
		outcomes = append(outcomes, m.apply(zoneID, out))
	}
	return outcomes, nil
}

// apply processes a single outbound record against the store.
// Caller holds the lock.
func (m *Memory) apply(zoneID string, out OutboundRecord) Outcome {
	if forced, ok := m.forced[out.ID]; ok {
		delete(m.forced, out.ID)
		forced.RecordID = out.ID
		return forced
	}

	zone, ok := m.zones[zoneID]
	if !ok {
		return Outcome{RecordID: out.ID, Kind: OutcomeZoneMissing}
	}

	if out.Delete {
		if _, exists := zone[out.ID]; exists {
			delete(zone, out.ID)
			m.append(zoneID, out.ID, true)
		}
		// Deleting an absent record is acknowledged: the goal state holds.
		return Outcome{RecordID: out.ID, Kind: OutcomeSaved}
	}

	existing, exists := zone[out.ID]

	if out.Meta.IsZero() {
		if exists {
			// First-time upload racing an existing server copy.
			server := existing.rec
			return Outcome{RecordID: out.ID, Kind: OutcomeConflict, ServerRecord: &server}
		}
		return m.store(zone, zoneID, out, 1, m.nextTime())
	}

	sentTag, err := changeTagOf(out.Meta)
	if err != nil {
		return Outcome{RecordID: out.ID, Kind: OutcomeFailed, Err: fmt.Errorf("bad metadata token: %w", err)}
	}

	if !exists {
		// The caller holds metadata for a record the server no longer has.
		return Outcome{RecordID: out.ID, Kind: OutcomeRecordGone}
	}

	if existing.changeTag != sentTag {
		server := existing.rec
		return Outcome{RecordID: out.ID, Kind: OutcomeConflict, ServerRecord: &server}
	}

	return m.store(zone, zoneID, out, existing.changeTag+1, existing.createdAt)
}

// store writes the record and returns a saved outcome with fresh
// metadata. Caller holds the lock.
func (m *Memory) store(zone map[string]*serverRecord, zoneID string, out OutboundRecord, tag uint64, createdAt time.Time) Outcome {
	modifiedAt := m.nextTime()
	m.append(zoneID, out.ID, false)

	meta := encodeMeta(serverMeta{
		RecordName: out.ID,
		ChangeTag:  tag,
		CreatedAt:  createdAt,
		ModifiedAt: modifiedAt,
	})

	rec := record.Record{
		ID:             out.ID,
		ZoneID:         zoneID,
		Name:           out.Name,
		UserModifiedAt: out.UserModifiedAt,
		Meta:           meta,
	}
	zone[out.ID] = &serverRecord{
		rec:       rec,
		changeTag: tag,
		createdAt: createdAt,
		updatedAt: modifiedAt,
	}

	return Outcome{RecordID: out.ID, Kind: OutcomeSaved, Meta: meta}
}

// SaveZone implements Transport.SaveZone. Creating an existing zone is
// a no-op.
func (m *Memory) SaveZone(ctx context.Context, zoneID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.zones[zoneID]; !ok {
		m.zones[zoneID] = make(map[string]*serverRecord)
	}
	return nil
}

// DeleteZone implements Transport.DeleteZone. The deletion is recorded
// in the change log so every replica learns that the zone's records are
// gone.
func (m *Memory) DeleteZone(ctx context.Context, zoneID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.zones[zoneID]; !ok {
		return ErrZoneNotFound
	}
	delete(m.zones, zoneID)
	m.append(zoneID, "", true)
	return nil
}

// Fetch implements Transport.Fetch.
//
// The cursor is a decimal change sequence number; Fetch returns every
// change after it, collapsed to the latest state per record, plus the
// new cursor. Re-fetching with an old cursor re-delivers the same
// changes, so applying a batch must be idempotent on the replica side.
func (m *Memory) Fetch(ctx context.Context, cursor record.Cursor) (record.Cursor, ChangeBatch, error) {
	if err := ctx.Err(); err != nil {
		return cursor, ChangeBatch{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextFetchErr != nil {
		err := m.nextFetchErr
		m.nextFetchErr = nil
		return cursor, ChangeBatch{}, err
	}

	since, err := parseCursor(cursor)
	if err != nil {
		return cursor, ChangeBatch{}, fmt.Errorf("bad cursor %q: %w", cursor, err)
	}

	var batch ChangeBatch
	seenRecords := make(map[string]bool)
	seenZones := make(map[string]bool)

	// Walk newest-first so only the latest state per identity is kept.
	for i := len(m.log) - 1; i >= 0; i-- {
		entry := m.log[i]
		if entry.seq <= since {
			break
		}

		if entry.recordID == "" {
			if !seenZones[entry.zoneID] {
				seenZones[entry.zoneID] = true
				batch.DeletedZoneIDs = append(batch.DeletedZoneIDs, entry.zoneID)
			}
			continue
		}

		if seenRecords[entry.recordID] {
			continue
		}
		seenRecords[entry.recordID] = true

		zone, zoneOK := m.zones[entry.zoneID]
		if entry.deleted || !zoneOK {
			if zoneOK || !seenZones[entry.zoneID] {
				batch.DeletedRecordIDs = append(batch.DeletedRecordIDs, entry.recordID)
			}
			continue
		}
		if sr, ok := zone[entry.recordID]; ok {
			batch.Records = append(batch.Records, sr.rec)
		} else {
			batch.DeletedRecordIDs = append(batch.DeletedRecordIDs, entry.recordID)
		}
	}

	return record.Cursor(strconv.FormatUint(m.seq, 10)), batch, nil
}

// AccountEvents implements Transport.AccountEvents.
func (m *Memory) AccountEvents() <-chan AccountEvent {
	return m.events
}

// EmitAccountEvent delivers an account lifecycle notification to the
// replica, as the platform would on sign-in or sign-out.
func (m *Memory) EmitAccountEvent(ev AccountEvent) {
	m.events <- ev
}

// FailNextSend makes the next SendBatch fail wholesale with err,
// returning no per-record outcomes.
func (m *Memory) FailNextSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSendErr = err
}

// FailNextFetch makes the next Fetch fail with err.
func (m *Memory) FailNextFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFetchErr = err
}

// ForceOutcome makes the next send of recordID produce the given
// outcome instead of being applied. Used to simulate transient and
// unclassified per-record failures.
func (m *Memory) ForceOutcome(recordID string, kind OutcomeKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced[recordID] = Outcome{Kind: kind, Err: err}
}

// DeleteRecordOutOfBand removes a record server-side without any
// replica's involvement, as another actor or an admin tool would.
func (m *Memory) DeleteRecordOutOfBand(zoneID, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, ok := m.zones[zoneID]
	if !ok {
		return ErrZoneNotFound
	}
	if _, ok := zone[recordID]; !ok {
		return fmt.Errorf("record %s not found in zone %s", recordID, zoneID)
	}
	delete(zone, recordID)
	m.append(zoneID, recordID, true)
	return nil
}

// DeleteZoneOutOfBand removes a zone server-side without any replica's
// involvement.
func (m *Memory) DeleteZoneOutOfBand(zoneID string) error {
	return m.DeleteZone(context.Background(), zoneID)
}

// RecordCount returns the number of records currently stored in the
// given zone. Returns 0 for a missing zone.
func (m *Memory) RecordCount(zoneID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zones[zoneID])
}

// HasZone reports whether the zone exists.
func (m *Memory) HasZone(zoneID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.zones[zoneID]
	return ok
}

// append records a change log entry. Caller holds the lock.
func (m *Memory) append(zoneID, recordID string, deleted bool) {
	m.seq++
	m.log = append(m.log, logEntry{
		seq:      m.seq,
		zoneID:   zoneID,
		recordID: recordID,
		deleted:  deleted,
	})
}

// nextTime advances the logical clock. Caller holds the lock.
func (m *Memory) nextTime() time.Time {
	return m.epoch.Add(time.Duration(m.seq+1) * time.Millisecond)
}

func parseCursor(c record.Cursor) (uint64, error) {
	if c.IsZero() {
		return 0, nil
	}
	return strconv.ParseUint(string(c), 10, 64)
}

func encodeMeta(sm serverMeta) record.MetadataToken {
	raw, _ := json.Marshal(sm)
	return record.MetadataToken{Raw: raw, ServerModifiedAt: sm.ModifiedAt}
}

func changeTagOf(t record.MetadataToken) (uint64, error) {
	var sm serverMeta
	if err := json.Unmarshal(t.Raw, &sm); err != nil {
		return 0, err
	}
	return sm.ChangeTag, nil
}
