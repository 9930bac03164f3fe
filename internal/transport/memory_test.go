package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zonesync/zonesync/internal/record"
)

func setupZone(t *testing.T, m *Memory, zoneID string) {
	t.Helper()
	if err := m.SaveZone(context.Background(), zoneID); err != nil {
		t.Fatalf("SaveZone failed: %v", err)
	}
}

func sendOne(t *testing.T, m *Memory, zoneID string, out OutboundRecord) Outcome {
	t.Helper()
	outcomes, err := m.SendBatch(context.Background(), zoneID, []OutboundRecord{out})
	if err != nil {
		t.Fatalf("SendBatch failed: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	return outcomes[0]
}

func TestFirstTimeUpload(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	outcome := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID:             "r1",
		ZoneID:         record.DefaultZoneID,
		Name:           "First",
		UserModifiedAt: time.Now(),
	})

	if outcome.Kind != OutcomeSaved {
		t.Fatalf("expected saved, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.Meta.IsZero() {
		t.Error("saved outcome should carry fresh server metadata")
	}
	if m.RecordCount(record.DefaultZoneID) != 1 {
		t.Errorf("expected 1 record stored, got %d", m.RecordCount(record.DefaultZoneID))
	}
}

func TestStaleTokenConflicts(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	first := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})

	// Another replica updates the record; the first token is now stale.
	second := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v2", Meta: first.Meta,
	})
	if second.Kind != OutcomeSaved {
		t.Fatalf("expected second save to succeed, got %v", second.Kind)
	}

	stale := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v3", Meta: first.Meta,
	})
	if stale.Kind != OutcomeConflict {
		t.Fatalf("expected conflict for stale token, got %v", stale.Kind)
	}
	if stale.ServerRecord == nil || stale.ServerRecord.Name != "v2" {
		t.Errorf("conflict should carry the current server record, got %+v", stale.ServerRecord)
	}
}

func TestZeroTokenAgainstExistingRecordConflicts(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "theirs",
	})

	outcome := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "mine",
	})
	if outcome.Kind != OutcomeConflict {
		t.Fatalf("expected conflict for blind overwrite, got %v", outcome.Kind)
	}
}

func TestRecordGone(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	saved := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})

	if err := m.DeleteRecordOutOfBand(record.DefaultZoneID, "r1"); err != nil {
		t.Fatalf("DeleteRecordOutOfBand failed: %v", err)
	}

	outcome := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v2", Meta: saved.Meta,
	})
	if outcome.Kind != OutcomeRecordGone {
		t.Fatalf("expected record-gone, got %v", outcome.Kind)
	}
}

func TestZoneMissing(t *testing.T) {
	m := NewMemory()

	outcome := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})
	if outcome.Kind != OutcomeZoneMissing {
		t.Fatalf("expected zone-missing, got %v", outcome.Kind)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})

	del := OutboundRecord{ID: "r1", ZoneID: record.DefaultZoneID, Delete: true}
	if outcome := sendOne(t, m, record.DefaultZoneID, del); outcome.Kind != OutcomeSaved {
		t.Fatalf("expected delete acknowledged, got %v", outcome.Kind)
	}
	if outcome := sendOne(t, m, record.DefaultZoneID, del); outcome.Kind != OutcomeSaved {
		t.Fatalf("expected repeat delete acknowledged, got %v", outcome.Kind)
	}
	if m.RecordCount(record.DefaultZoneID) != 0 {
		t.Errorf("expected empty zone after delete, got %d records", m.RecordCount(record.DefaultZoneID))
	}
}

func TestFetchCursorAdvancesAndResumes(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)
	ctx := context.Background()

	sendOne(t, m, record.DefaultZoneID, OutboundRecord{ID: "r1", ZoneID: record.DefaultZoneID, Name: "one"})

	cursor, batch, err := m.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(batch.Records) != 1 || batch.Records[0].ID != "r1" {
		t.Fatalf("expected r1 in first fetch, got %+v", batch.Records)
	}

	// Up to date: nothing new behind the cursor.
	_, batch, err = m.Fetch(ctx, cursor)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !batch.Empty() {
		t.Errorf("expected empty batch at cursor, got %+v", batch)
	}

	sendOne(t, m, record.DefaultZoneID, OutboundRecord{ID: "r2", ZoneID: record.DefaultZoneID, Name: "two"})

	_, batch, err = m.Fetch(ctx, cursor)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(batch.Records) != 1 || batch.Records[0].ID != "r2" {
		t.Errorf("expected only r2 after cursor, got %+v", batch.Records)
	}
}

func TestFetchCollapsesToLatestState(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)
	ctx := context.Background()

	saved := sendOne(t, m, record.DefaultZoneID, OutboundRecord{ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1"})
	sendOne(t, m, record.DefaultZoneID, OutboundRecord{ID: "r1", ZoneID: record.DefaultZoneID, Name: "v2", Meta: saved.Meta})

	_, batch, err := m.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(batch.Records) != 1 {
		t.Fatalf("expected collapsed single record, got %d", len(batch.Records))
	}
	if batch.Records[0].Name != "v2" {
		t.Errorf("expected latest state v2, got %q", batch.Records[0].Name)
	}
}

func TestFetchReportsDeletedZone(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)
	ctx := context.Background()

	sendOne(t, m, record.DefaultZoneID, OutboundRecord{ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1"})
	if err := m.DeleteZone(ctx, record.DefaultZoneID); err != nil {
		t.Fatalf("DeleteZone failed: %v", err)
	}

	_, batch, err := m.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(batch.DeletedZoneIDs) != 1 || batch.DeletedZoneIDs[0] != record.DefaultZoneID {
		t.Errorf("expected deleted zone reported, got %+v", batch.DeletedZoneIDs)
	}
}

func TestWholesaleSendFailure(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	netErr := errors.New("connection reset")
	m.FailNextSend(netErr)

	_, err := m.SendBatch(context.Background(), record.DefaultZoneID, []OutboundRecord{
		{ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1"},
	})
	if !errors.Is(err, netErr) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if m.RecordCount(record.DefaultZoneID) != 0 {
		t.Error("wholesale failure must not mutate the store")
	}
}

func TestForcedOutcome(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	m.ForceOutcome("r1", OutcomeTransient, errors.New("rate limited"))
	outcome := sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})
	if outcome.Kind != OutcomeTransient {
		t.Fatalf("expected forced transient outcome, got %v", outcome.Kind)
	}

	// Forced outcomes are one-shot.
	outcome = sendOne(t, m, record.DefaultZoneID, OutboundRecord{
		ID: "r1", ZoneID: record.DefaultZoneID, Name: "v1",
	})
	if outcome.Kind != OutcomeSaved {
		t.Fatalf("expected save after forced outcome consumed, got %v", outcome.Kind)
	}
}

func TestCancelledContext(t *testing.T) {
	m := NewMemory()
	setupZone(t, m, record.DefaultZoneID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.SendBatch(ctx, record.DefaultZoneID, nil); err == nil {
		t.Error("expected error from cancelled SendBatch")
	}
	if _, _, err := m.Fetch(ctx, ""); err == nil {
		t.Error("expected error from cancelled Fetch")
	}
}
