package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zonesync/zonesync/internal/queue"
	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/transport"
)

// ErrSyncIncomplete reports a sync round that completed its pass over
// the pending queue but left work behind: requeued conflicts, transient
// failures awaiting retry, or unclassified per-record failures. Local
// state has already been corrected and persisted; the caller should run
// another round.
var ErrSyncIncomplete = errors.New("sync incomplete: changes still pending")

// Persistence stores and restores a replica snapshot. The syncer writes
// the whole snapshot (records, pending queue, cursor) in one call so an
// implementation can make it atomic.
type Persistence interface {
	Load() (map[string]record.Record, []record.PendingChange, record.Cursor, error)
	Save(records map[string]record.Record, pending []record.PendingChange, cursor record.Cursor) error
}

// Observer receives notifications about record and sync activity.
// Implementations must not call back into the Coordinator; they run
// while its internal lock is held. All methods are optional behavior
// hooks and errors cannot be returned.
type Observer interface {
	// RecordUpserted fires when a record is created or updated, whether
	// by a local save, an inbound remote change, or conflict resolution.
	RecordUpserted(rec record.Record)

	// RecordRemoved fires when a record leaves the local store.
	RecordRemoved(id, zoneID string)

	// ConflictResolved fires when a write-write conflict has been
	// merged. winner is the record as stored after resolution.
	ConflictResolved(winner record.Record)

	// SendComplete and FetchComplete fire at the end of each cycle,
	// after persistence.
	SendComplete(res SendResult)
	FetchComplete(res FetchResult)
}

// Stats counts sync activity since the coordinator was created.
type Stats struct {
	SendRounds  int
	FetchRounds int

	Uploaded   int // records and zone operations acknowledged by the remote store
	Downloaded int // inbound changes applied locally
	Conflicts  int // write-write conflicts resolved
	Errors     int // failed rounds, wholesale or partial

	LastSendAt  time.Time
	LastFetchAt time.Time
}

// SendResult summarizes one outbound send cycle.
type SendResult struct {
	Saved     int // intents acknowledged by the remote store and removed
	Requeued  int // intents corrected locally and queued for another round
	Remaining int // intents left untouched after a transient failure
	Failed    int // intents left untouched after an unclassified failure

	Errors []RecordError // per-record detail for Failed intents
}

// Incomplete reports whether the cycle left work pending.
func (r SendResult) Incomplete() bool {
	return r.Requeued > 0 || r.Remaining > 0 || r.Failed > 0
}

// FetchResult summarizes one inbound fetch cycle.
type FetchResult struct {
	Applied      int // records created or updated from remote changes
	Removed      int // records dropped by remote deletes
	ZonesRemoved int // zones dropped remotely, cascading into Removed
	Cursor       record.Cursor
}

// RecordError carries the failure of a single record within a batch.
type RecordError struct {
	RecordID string
	Err      error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.RecordID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Config configures a Coordinator. Transport and Persistence are
// required; everything else has a usable default.
type Config struct {
	Transport   transport.Transport
	Persistence Persistence

	// ZoneID is the zone new records are placed in when the caller does
	// not name one. Defaults to record.DefaultZoneID.
	ZoneID string

	// Observer receives activity notifications. Optional.
	Observer Observer

	// Logger for diagnostics. Defaults to stderr.
	Logger *log.Logger
}

// Coordinator is the single writer for a replica's record table,
// pending change queue, and fetch cursor. All public methods are safe
// for concurrent use; mutations are serialized internally, and the read
// accessors (Records, Record, Stats, PendingCount) serve from a
// lock-free snapshot so they never wait on an in-flight sync cycle.
type Coordinator struct {
	mu sync.Mutex

	transport transport.Transport
	persist   Persistence
	zoneID    string
	observer  Observer
	logger    *log.Logger

	records map[string]record.Record
	queue   *queue.Queue
	cursor  record.Cursor
	stats   Stats

	view atomic.Value // *snapshot
}

// snapshot is the read-only state published to accessor methods.
type snapshot struct {
	records map[string]record.Record
	pending int
	cursor  record.Cursor
	stats   Stats
}

// New restores a replica from persistence and returns a coordinator
// ready to accept mutations.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dir, "zonesync.db"))
//	if err != nil {
//		return err
//	}
//	coord, err := syncer.New(syncer.Config{
//		Transport:   remote,
//		Persistence: st,
//	})
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("syncer: Transport is required")
	}
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("syncer: Persistence is required")
	}
	if cfg.ZoneID == "" {
		cfg.ZoneID = record.DefaultZoneID
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	records, pending, cursor, err := cfg.Persistence.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load replica state: %w", err)
	}
	if records == nil {
		records = make(map[string]record.Record)
	}

	c := &Coordinator{
		transport: cfg.Transport,
		persist:   cfg.Persistence,
		zoneID:    cfg.ZoneID,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		records:   records,
		queue:     queue.Load(pending),
		cursor:    cursor,
	}
	c.publishLocked()
	return c, nil
}

// ZoneID returns the default zone for records saved without one.
func (c *Coordinator) ZoneID() string { return c.zoneID }

// SaveRecords upserts records into the local store and enqueues a Save
// intent for each. A record saved repeatedly before the next send cycle
// produces a single upload. Metadata from a previously synced copy of
// the same record is carried forward unless the incoming copy holds a
// newer token.
//
// All records are validated before any is applied: a validation failure
// leaves local state, the queue, and observers untouched.
func (c *Coordinator) SaveRecords(recs ...record.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	normalized := make([]record.Record, len(recs))
	for i, rec := range recs {
		if rec.ZoneID == "" {
			rec.ZoneID = c.zoneID
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}
		normalized[i] = rec
	}

	for _, rec := range normalized {
		if existing, ok := c.records[rec.ID]; ok && !rec.Meta.Newer(existing.Meta) {
			rec.Meta = existing.Meta
		}
		c.records[rec.ID] = rec
		c.queue.Add(record.SaveRecordChange(rec.ID, rec.ZoneID))
		c.observer.RecordUpserted(rec)
	}
	return c.persistLocked()
}

// DeleteRecords removes records from the local store and enqueues a
// Delete intent for each id. Ids unknown locally still produce a Delete
// intent in the default zone, since the remote store may hold a copy
// this replica never fetched.
func (c *Coordinator) DeleteRecords(ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		zoneID := c.zoneID
		if rec, ok := c.records[id]; ok {
			zoneID = rec.ZoneID
			delete(c.records, id)
			c.observer.RecordRemoved(id, zoneID)
		}
		c.queue.Add(record.DeleteRecordChange(id, zoneID))
	}
	return c.persistLocked()
}

// Record returns the record with the given id from the current
// published snapshot.
func (c *Coordinator) Record(id string) (record.Record, bool) {
	rec, ok := c.view.Load().(*snapshot).records[id]
	return rec, ok
}

// Records returns all local records ordered by id.
func (c *Coordinator) Records() []record.Record {
	v := c.view.Load().(*snapshot)
	recs := make([]record.Record, 0, len(v.records))
	for _, rec := range v.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

// PendingCount returns the number of coalesced intents awaiting upload.
func (c *Coordinator) PendingCount() int {
	return c.view.Load().(*snapshot).pending
}

// Cursor returns the persisted fetch cursor.
func (c *Coordinator) Cursor() record.Cursor {
	return c.view.Load().(*snapshot).cursor
}

// Stats returns accumulated sync statistics.
func (c *Coordinator) Stats() Stats {
	return c.view.Load().(*snapshot).stats
}

// Sync runs one fetch cycle followed by send cycles until the queue
// drains or stops making progress. It is the convenience entry point
// for periodic sync; callers that need per-cycle control use
// SendChanges and FetchChanges directly.
func (c *Coordinator) Sync(ctx context.Context) error {
	if _, err := c.FetchChanges(ctx); err != nil {
		return err
	}

	// Structural recovery (zone creation, metadata invalidation) can
	// legitimately take one extra round. Stop as soon as a round leaves
	// only hard failures behind.
	for attempt := 0; attempt < 3; attempt++ {
		res, err := c.SendChanges(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSyncIncomplete) || res.Requeued == 0 {
			return err
		}
	}
	return fmt.Errorf("%w after repeated rounds", ErrSyncIncomplete)
}

// DeleteLocalData discards all local records, pending intents, and the
// fetch cursor. The remote store is untouched. Used when the replica's
// account is no longer the one the local data belongs to.
func (c *Coordinator) DeleteLocalData() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocalDataLocked()
}

func (c *Coordinator) deleteLocalDataLocked() error {
	for id, rec := range c.records {
		c.observer.RecordRemoved(id, rec.ZoneID)
	}
	c.records = make(map[string]record.Record)
	c.queue.Clear()
	c.cursor = ""
	return c.persistLocked()
}

// DeleteRemoteData enqueues deletion of the default zone and runs a
// send cycle to carry it out. Local records are kept; a later fetch
// observes the zone deletion and removes them.
func (c *Coordinator) DeleteRemoteData(ctx context.Context) (SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Add(record.DeleteZoneChange(c.zoneID))
	return c.sendChangesLocked(ctx)
}

// HandleAccountEvent adjusts local state for an account transition
// reported by the transport.
//
// A sign-in keeps local data: every record and zone is re-enqueued for
// upload with its sync metadata cleared, and the cursor is reset, so
// the replica reconciles against whatever the new account's store
// holds. An account switch or sign-out discards local data outright.
// Unrecognized events are logged and ignored.
func (c *Coordinator) HandleAccountEvent(ev transport.AccountEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev {
	case transport.AccountSignIn:
		zones := make(map[string]bool)
		for id, rec := range c.records {
			rec.Meta = record.MetadataToken{}
			c.records[id] = rec
			zones[rec.ZoneID] = true
			c.queue.Add(record.SaveRecordChange(id, rec.ZoneID))
		}
		for zoneID := range zones {
			c.queue.Add(record.SaveZoneChange(zoneID))
		}
		c.cursor = ""
		return c.persistLocked()

	case transport.AccountSwitch, transport.AccountSignOut:
		return c.deleteLocalDataLocked()

	default:
		c.logger.Printf("Warning: ignoring unrecognized account event %d", ev)
		return nil
	}
}

// persistLocked writes the full snapshot through persistence, marks the
// queue clean, and publishes the new read view. Callers hold c.mu.
func (c *Coordinator) persistLocked() error {
	if err := c.persist.Save(c.records, c.queue.Snapshot(), c.cursor); err != nil {
		// In-memory state is already applied and stays visible; the
		// queue stays dirty so the next successful cycle persists it.
		c.publishLocked()
		return fmt.Errorf("failed to persist replica state: %w", err)
	}
	c.queue.MarkClean()
	c.publishLocked()
	return nil
}

func (c *Coordinator) publishLocked() {
	recs := make(map[string]record.Record, len(c.records))
	for id, rec := range c.records {
		recs[id] = rec
	}
	c.view.Store(&snapshot{
		records: recs,
		pending: c.queue.Len(),
		cursor:  c.cursor,
		stats:   c.stats,
	})
}

type noopObserver struct{}

func (noopObserver) RecordUpserted(record.Record)   {}
func (noopObserver) RecordRemoved(string, string)   {}
func (noopObserver) ConflictResolved(record.Record) {}
func (noopObserver) SendComplete(SendResult)        {}
func (noopObserver) FetchComplete(FetchResult)      {}
