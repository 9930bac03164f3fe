// Package merge implements conflict resolution between a locally-held
// record and a server-supplied record.
//
// The policy is whole-record last-writer-wins keyed on the user
// modification timestamp, which captures application intent time rather
// than server arrival order. Merging is pure: it never touches the
// cached metadata token, which is the caller's responsibility.
package merge

import "github.com/zonesync/zonesync/internal/record"

// Records merges local and remote copies of the same record.
//
// The copy with the strictly later UserModifiedAt wins in full: its
// payload and timestamp replace the loser's. On equal timestamps the
// local copy is retained unchanged, so merging a record with itself is
// a no-op and byte-identical payloads never manufacture a change
// signal. A zero remote timestamp (missing or unparseable upstream) is
// the minimum value and never wins against an edited local record.
//
// The result always carries the local record's metadata token.
func Records(local, remote record.Record) record.Record {
	if remote.UserModifiedAt.After(local.UserModifiedAt) {
		merged := local
		merged.Name = remote.Name
		merged.UserModifiedAt = remote.UserModifiedAt
		return merged
	}
	return local
}
