package syncer

import (
	"io"
	"log"
	"testing"

	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/transport"
)

// memPersist is an in-memory Persistence for tests. It deep-copies on
// both sides so coordinator state and persisted state cannot alias.
type memPersist struct {
	records  map[string]record.Record
	pending  []record.PendingChange
	cursor   record.Cursor
	saves    int
	failNext error
}

func (p *memPersist) Load() (map[string]record.Record, []record.PendingChange, record.Cursor, error) {
	records := make(map[string]record.Record, len(p.records))
	for id, rec := range p.records {
		records[id] = rec
	}
	pending := append([]record.PendingChange(nil), p.pending...)
	return records, pending, p.cursor, nil
}

func (p *memPersist) Save(records map[string]record.Record, pending []record.PendingChange, cursor record.Cursor) error {
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	p.records = make(map[string]record.Record, len(records))
	for id, rec := range records {
		p.records[id] = rec
	}
	p.pending = append([]record.PendingChange(nil), pending...)
	p.cursor = cursor
	p.saves++
	return nil
}

func newTestCoordinator(t *testing.T, tr transport.Transport) (*Coordinator, *memPersist) {
	t.Helper()
	return newTestCoordinatorFrom(t, tr, &memPersist{})
}

func newTestCoordinatorFrom(t *testing.T, tr transport.Transport, p *memPersist) (*Coordinator, *memPersist) {
	t.Helper()
	c, err := New(Config{
		Transport:   tr,
		Persistence: p,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c, p
}

// countingObserver records notification counts for assertions.
type countingObserver struct {
	upserts   int
	removals  int
	conflicts int
	sends     int
	fetches   int
}

func (o *countingObserver) RecordUpserted(record.Record)   { o.upserts++ }
func (o *countingObserver) RecordRemoved(string, string)   { o.removals++ }
func (o *countingObserver) ConflictResolved(record.Record) { o.conflicts++ }
func (o *countingObserver) SendComplete(SendResult)        { o.sends++ }
func (o *countingObserver) FetchComplete(FetchResult)      { o.fetches++ }
