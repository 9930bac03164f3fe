package record

import (
	"testing"
	"time"
)

func TestRecordValidate(t *testing.T) {
	rec := Record{ID: "r1", ZoneID: DefaultZoneID, Name: "First"}
	if err := rec.Validate(); err != nil {
		t.Errorf("valid record failed validation: %v", err)
	}

	rec = Record{ZoneID: DefaultZoneID}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for missing id")
	}

	rec = Record{ID: "r1"}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for missing zone_id")
	}
}

func TestRecordEqualIgnoresMetadata(t *testing.T) {
	now := time.Now()
	a := Record{ID: "r1", ZoneID: DefaultZoneID, Name: "First", UserModifiedAt: now}
	b := a
	b.Meta = MetadataToken{Raw: []byte("server-state"), ServerModifiedAt: now}

	if !a.Equal(b) {
		t.Error("records differing only in metadata token should be equal")
	}

	b.Name = "Second"
	if a.Equal(b) {
		t.Error("records with different names should not be equal")
	}
}

func TestMetadataTokenNewer(t *testing.T) {
	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	older := MetadataToken{Raw: []byte("a"), ServerModifiedAt: t1}
	newer := MetadataToken{Raw: []byte("b"), ServerModifiedAt: t2}
	var zero MetadataToken

	tests := []struct {
		name string
		a, b MetadataToken
		want bool
	}{
		{"newer beats older", newer, older, true},
		{"older loses to newer", older, newer, false},
		{"equal times are not newer", older, older, false},
		{"zero never wins", zero, older, false},
		{"non-zero beats zero", older, zero, true},
		{"zero vs zero", zero, zero, false},
	}

	for _, tt := range tests {
		if got := tt.a.Newer(tt.b); got != tt.want {
			t.Errorf("%s: Newer() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPendingChangeKey(t *testing.T) {
	save := SaveRecordChange("r1", DefaultZoneID)
	del := DeleteRecordChange("r1", DefaultZoneID)
	if save.Key() != del.Key() {
		t.Error("save and delete for the same record should share a coalescing key")
	}

	zoneSave := SaveZoneChange(DefaultZoneID)
	zoneDel := DeleteZoneChange(DefaultZoneID)
	if zoneSave.Key() != zoneDel.Key() {
		t.Error("zone intents for the same zone should share a coalescing key")
	}

	if save.Key() == zoneSave.Key() {
		t.Error("record and zone changes must not collide on keys")
	}
}
