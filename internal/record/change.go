package record

import "fmt"

// ChangeKind identifies the intent of a pending change.
type ChangeKind int

const (
	// SaveRecord uploads the current local copy of a record.
	SaveRecord ChangeKind = iota
	// DeleteRecord removes a record from the remote store.
	DeleteRecord
	// SaveZone creates (or re-creates) a zone in the remote store.
	SaveZone
	// DeleteZone removes a zone and everything in it from the remote store.
	DeleteZone
)

// String returns a human-readable representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case SaveRecord:
		return "save-record"
	case DeleteRecord:
		return "delete-record"
	case SaveZone:
		return "save-zone"
	case DeleteZone:
		return "delete-zone"
	default:
		return "unknown"
	}
}

// PendingChange is a queued, not-yet-acknowledged local intent to save
// or delete a specific record or zone.
//
// For record changes RecordID is set; zone changes carry only ZoneID.
// At most one pending change exists per record (or per zone) at a time;
// a newer intent for the same identity replaces the older one.
type PendingChange struct {
	Kind     ChangeKind `json:"kind"`
	RecordID string     `json:"record_id,omitempty"`
	ZoneID   string     `json:"zone_id"`
}

// SaveRecordChange returns a save intent for the given record.
func SaveRecordChange(recordID, zoneID string) PendingChange {
	return PendingChange{Kind: SaveRecord, RecordID: recordID, ZoneID: zoneID}
}

// DeleteRecordChange returns a delete intent for the given record.
func DeleteRecordChange(recordID, zoneID string) PendingChange {
	return PendingChange{Kind: DeleteRecord, RecordID: recordID, ZoneID: zoneID}
}

// SaveZoneChange returns a zone-create intent.
func SaveZoneChange(zoneID string) PendingChange {
	return PendingChange{Kind: SaveZone, ZoneID: zoneID}
}

// DeleteZoneChange returns a zone-delete intent.
func DeleteZoneChange(zoneID string) PendingChange {
	return PendingChange{Kind: DeleteZone, ZoneID: zoneID}
}

// IsZoneChange reports whether the change targets a whole zone rather
// than a single record.
func (c PendingChange) IsZoneChange() bool {
	return c.Kind == SaveZone || c.Kind == DeleteZone
}

// Key returns the coalescing identity of the change: record changes
// coalesce per record, zone changes per zone.
func (c PendingChange) Key() string {
	if c.IsZoneChange() {
		return "zone/" + c.ZoneID
	}
	return "record/" + c.RecordID
}

// String returns a human-readable representation of the change.
func (c PendingChange) String() string {
	if c.IsZoneChange() {
		return fmt.Sprintf("%s %s", c.Kind, c.ZoneID)
	}
	return fmt.Sprintf("%s %s (zone %s)", c.Kind, c.RecordID, c.ZoneID)
}
