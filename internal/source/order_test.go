package source

import (
	"testing"
	"time"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
)

func TestApply(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	refs := []models.MessageRef{
		{UID: 5, ArrivedAt: base.Add(3 * time.Hour)},
		{UID: 2, ArrivedAt: base.Add(-time.Hour)},
		{UID: 4, ArrivedAt: base.Add(time.Hour)},
		{UID: 3, ArrivedAt: base.Add(time.Hour)},
		{UID: 1, ArrivedAt: base},
	}

	tests := []struct {
		name string
		sel  policy.Selection
		want []uint32
	}{
		{name: "No bounds sorts by arrival then UID", sel: policy.Selection{}, want: []uint32{2, 1, 3, 4, 5}},
		{name: "Since is inclusive", sel: policy.Selection{Since: base}, want: []uint32{1, 3, 4, 5}},
		{name: "Limit keeps the oldest", sel: policy.Selection{Since: base, Limit: 2}, want: []uint32{1, 3}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(refs, tt.sel)
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() returned %d refs, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].UID != tt.want[i] {
					t.Errorf("Apply()[%d].UID = %d, want %d", i, got[i].UID, tt.want[i])
				}
			}
		})
	}
}
