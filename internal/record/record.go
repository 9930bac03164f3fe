// Package record provides the data model for zonesync replicas.
//
// A Record is the versioned domain object each replica mutates locally
// and reconciles against the shared remote store. Alongside its payload
// it carries a user modification timestamp (the single source of truth
// for conflict ordering) and an opaque cache of the server's system
// metadata for the record (MetadataToken).
package record

import (
	"fmt"
	"time"
)

// DefaultZoneID is the zone all records belong to unless configured
// otherwise. Zones partition the remote store and are the unit of bulk
// creation and deletion, independent of individual record lifecycle.
const DefaultZoneID = "records"

// Record is a single synchronizable record plus its locally cached
// remote metadata.
//
// ID is globally unique and immutable for the record's lifetime; it is
// also the record's name in the remote store. Two Records with equal ID
// denote the same logical entity on every replica.
//
// UserModifiedAt is set by the authoring replica at the moment of a
// user-visible edit. A zero value means the record was never edited and
// loses against any edited copy.
type Record struct {
	ID     string `json:"id"`
	ZoneID string `json:"zone_id"`

	// Name is the application payload.
	Name string `json:"name"`

	UserModifiedAt time.Time `json:"user_modified_at"`

	// Meta caches the last server-side system metadata known for this
	// record. Zero if the record was never synced, or after the cache
	// was invalidated by a structural server error.
	Meta MetadataToken `json:"meta,omitempty"`
}

// Validate checks that the Record has valid field values.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.ZoneID == "" {
		return fmt.Errorf("zone_id is required")
	}
	return nil
}

// Equal reports whether two records are the same for business purposes.
// The metadata token is sync bookkeeping and excluded from equality.
func (r Record) Equal(other Record) bool {
	return r.ID == other.ID &&
		r.Name == other.Name &&
		r.UserModifiedAt.Equal(other.UserModifiedAt)
}

// MetadataToken is an opaque, replica-local cache of the remote store's
// system metadata for one record (creation time, change tag, server
// modification time).
//
// The token supports exactly two operations: comparing freshness by the
// embedded server modification time (Newer), and being attached to an
// outgoing write as the expected version. Its Raw payload is never
// interpreted by this module.
type MetadataToken struct {
	Raw []byte `json:"raw,omitempty"`

	// ServerModifiedAt is the server-side modification time embedded in
	// the token. Used only for newness comparisons.
	ServerModifiedAt time.Time `json:"server_modified_at,omitempty"`
}

// IsZero reports whether the token is absent.
func (t MetadataToken) IsZero() bool {
	return len(t.Raw) == 0 && t.ServerModifiedAt.IsZero()
}

// Newer reports whether t is strictly fresher than other. A zero token
// is never newer than anything; any non-zero token is newer than a zero
// token.
func (t MetadataToken) Newer(other MetadataToken) bool {
	if t.IsZero() {
		return false
	}
	if other.IsZero() {
		return true
	}
	return t.ServerModifiedAt.After(other.ServerModifiedAt)
}

// Cursor is the opaque, server-issued resume token marking fetch
// progress against the remote store. Empty means "never fetched".
type Cursor string

// IsZero reports whether the cursor has no fetch progress.
func (c Cursor) IsZero() bool {
	return c == ""
}
