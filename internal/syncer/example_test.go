package syncer_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/syncer"
	"github.com/zonesync/zonesync/internal/transport"
)

// memPersist is a throwaway in-memory Persistence for the example.
type memPersist struct {
	records map[string]record.Record
	pending []record.PendingChange
	cursor  record.Cursor
}

func (p *memPersist) Load() (map[string]record.Record, []record.PendingChange, record.Cursor, error) {
	return p.records, p.pending, p.cursor, nil
}

func (p *memPersist) Save(records map[string]record.Record, pending []record.PendingChange, cursor record.Cursor) error {
	p.records, p.pending, p.cursor = records, pending, cursor
	return nil
}

func Example() {
	ctx := context.Background()
	remote := transport.NewMemory()

	coord, err := syncer.New(syncer.Config{
		Transport:   remote,
		Persistence: &memPersist{},
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		log.Fatal(err)
	}

	err = coord.SaveRecords(record.Record{
		ID:             "shopping-list",
		Name:           "Groceries",
		UserModifiedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		log.Fatal(err)
	}

	// The first sync round creates the zone, the second lands the
	// record; Sync drives rounds until the queue drains.
	if err := coord.Sync(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("pending:", coord.PendingCount())
	fmt.Println("remote records:", remote.RecordCount(coord.ZoneID()))
	// Output:
	// pending: 0
	// remote records: 1
}
