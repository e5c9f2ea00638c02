package cmd

import (
	"testing"

	"github.com/blacktop/krkw/pkg/xnu/profile"
)

func TestProfileRows(t *testing.T) {
	rows := profileRows(profile.Supported)
	if len(rows) != len(profile.Supported) {
		t.Fatalf("%d rows", len(rows))
	}
	seenPlaceholder := false
	for i, r := range rows {
		if r.version == nil {
			seenPlaceholder = true
			continue
		}
		if seenPlaceholder {
			t.Errorf("row %d (%s) sorted after a row without a version", i, r.Name)
		}
		if i > 0 && rows[i-1].version != nil && r.version.LessThan(rows[i-1].version) {
			t.Errorf("row %d (%s) out of order", i, r.Name)
		}
	}
	if !seenPlaceholder {
		t.Error("expected the placeholder row")
	}
}
