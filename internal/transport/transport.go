// Package transport defines the contract between a zonesync replica and
// the remote record store, along with an in-process implementation used
// for tests and loopback operation.
//
// The replica core never speaks a wire protocol itself; it is handed a
// Transport capability that sends batches of outbound records, fetches
// change batches behind a resume cursor, and surfaces account lifecycle
// events. Per-record results come back as a closed set of Outcome
// variants which the sync driver handles exhaustively.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/zonesync/zonesync/internal/record"
)

// ErrZoneNotFound is returned by zone-scoped operations when the target
// zone does not exist in the remote store.
var ErrZoneNotFound = errors.New("zone not found")

// OutboundRecord is the transmittable form of a local record.
//
// Meta carries the cached server metadata token as the expected version
// for the write; a zero token marks a first-time upload. Delete is set
// for deletion intents, in which case Name and UserModifiedAt are
// ignored.
type OutboundRecord struct {
	ID             string               `json:"id"`
	ZoneID         string               `json:"zone_id"`
	Name           string               `json:"name,omitempty"`
	UserModifiedAt time.Time            `json:"user_modified_at,omitempty"`
	Meta           record.MetadataToken `json:"meta,omitempty"`
	Delete         bool                 `json:"delete,omitempty"`
}

// OutcomeKind classifies the per-record result of a batch send.
type OutcomeKind int

const (
	// OutcomeSaved means the remote store accepted the write; fresh
	// server metadata accompanies the outcome.
	OutcomeSaved OutcomeKind = iota

	// OutcomeConflict means the remote store holds a version the caller
	// didn't know about; the current server record accompanies the
	// outcome.
	OutcomeConflict

	// OutcomeZoneMissing means the destination zone no longer exists.
	OutcomeZoneMissing

	// OutcomeRecordGone means the record once existed remotely but was
	// deleted out-of-band while the caller still holds metadata for it.
	OutcomeRecordGone

	// OutcomeTransient covers connectivity, throttling, auth, and
	// cancellation failures; the write may simply be retried.
	OutcomeTransient

	// OutcomeFailed covers unclassified failures that automatic retry
	// will not fix.
	OutcomeFailed
)

// String returns a human-readable representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSaved:
		return "saved"
	case OutcomeConflict:
		return "conflict"
	case OutcomeZoneMissing:
		return "zone-missing"
	case OutcomeRecordGone:
		return "record-gone"
	case OutcomeTransient:
		return "transient"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the per-record result of a batch send.
type Outcome struct {
	RecordID string
	Kind     OutcomeKind

	// Meta is the fresh server metadata for OutcomeSaved.
	Meta record.MetadataToken

	// ServerRecord is the remote store's current copy for
	// OutcomeConflict, including its metadata token.
	ServerRecord *record.Record

	// Err carries failure detail for OutcomeTransient and OutcomeFailed.
	Err error
}

// ChangeBatch is one page of remote changes delivered by Fetch.
type ChangeBatch struct {
	// Records are records created or modified remotely, each carrying
	// its current server metadata token.
	Records []record.Record

	// DeletedRecordIDs are records deleted remotely.
	DeletedRecordIDs []string

	// DeletedZoneIDs are zones deleted remotely; every record in them
	// is gone.
	DeletedZoneIDs []string
}

// Empty reports whether the batch carries no changes.
func (b ChangeBatch) Empty() bool {
	return len(b.Records) == 0 && len(b.DeletedRecordIDs) == 0 && len(b.DeletedZoneIDs) == 0
}

// AccountEvent is an asynchronous account lifecycle notification from
// the transport layer.
type AccountEvent int

const (
	// AccountSignIn means a user signed in on this replica.
	AccountSignIn AccountEvent = iota
	// AccountSwitch means the signed-in account changed.
	AccountSwitch
	// AccountSignOut means the user signed out.
	AccountSignOut
)

// String returns a human-readable representation of the account event.
func (e AccountEvent) String() string {
	switch e {
	case AccountSignIn:
		return "sign-in"
	case AccountSwitch:
		return "switch-accounts"
	case AccountSignOut:
		return "sign-out"
	default:
		return "unknown"
	}
}

// Transport is the capability a replica uses to talk to the remote
// record store.
//
// SendBatch returns one Outcome per submitted record unless the whole
// batch fails, in which case it returns an error and the caller retries
// the entire pending set on a later cycle. Fetch returns the next
// cursor alongside the change batch; an unchanged cursor with an empty
// batch means the replica is up to date.
type Transport interface {
	SendBatch(ctx context.Context, zoneID string, records []OutboundRecord) ([]Outcome, error)
	SaveZone(ctx context.Context, zoneID string) error
	DeleteZone(ctx context.Context, zoneID string) error
	Fetch(ctx context.Context, cursor record.Cursor) (record.Cursor, ChangeBatch, error)
	AccountEvents() <-chan AccountEvent
}
