package policy

import (
	"testing"
	"time"

	"emails-sync/internal/models"
)

func TestParseDisposition(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Disposition
		wantErr bool
	}{
		{name: "Delete", input: "delete", want: Disposition{Action: ActionDelete}},
		{name: "None", input: "none", want: Disposition{Action: ActionNone}},
		{name: "Move", input: "move:[Gmail]/Trash", want: Disposition{Action: ActionMove, Target: "[Gmail]/Trash"}},
		{name: "Flag with spaces", input: " flag: \\Seen ", want: Disposition{Action: ActionFlag, Target: "\\Seen"}},
		{name: "Upper case action", input: "DELETE", want: Disposition{Action: ActionDelete}},
		{name: "Move without target", input: "move", wantErr: true},
		{name: "Flag with empty target", input: "flag:", wantErr: true},
		{name: "Delete with target", input: "delete:Trash", wantErr: true},
		{name: "Unknown", input: "archive", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDisposition(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDisposition(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDisposition(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDispositionString(t *testing.T) {
	if got := (Disposition{Action: ActionMove, Target: "Archive"}).String(); got != "move:Archive" {
		t.Errorf("String() = %q, want move:Archive", got)
	}
	if got := (Disposition{Action: ActionDelete}).String(); got != "delete" {
		t.Errorf("String() = %q, want delete", got)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"since-watermark", "explicit-ids", "full-scan-capped", " Explicit-IDs "} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseMode("everything"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestSelection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := models.Watermark{
		Timestamp:   now.Add(-2 * time.Hour),
		UID:         42,
		UIDValidity: 7,
	}

	tests := []struct {
		name   string
		policy Policy
		w      models.Watermark
		want   Selection
	}{
		{
			name:   "Since watermark without stored cursor uses lookback",
			policy: Policy{Mode: ModeSinceWatermark, Disposition: Disposition{Action: ActionDelete}, InitialLookback: 24 * time.Hour},
			want:   Selection{Since: now.Add(-24 * time.Hour), Limit: DefaultMaxPerPass, Drains: true},
		},
		{
			name:   "Since watermark with stored cursor",
			policy: Policy{Mode: ModeSinceWatermark, Disposition: Disposition{Action: ActionDelete}, MaxPerPass: 10},
			w:      stored,
			want:   Selection{Since: stored.Timestamp, Limit: 10, Drains: true},
		},
		{
			name:   "Since watermark with flag keeps messages a reader already flagged",
			policy: Policy{Mode: ModeSinceWatermark, Disposition: Disposition{Action: ActionFlag, Target: "\\Seen"}, MaxPerPass: 10},
			w:      stored,
			want:   Selection{Since: stored.Timestamp, Limit: 10},
		},
		{
			name:   "Explicit ids carry the UID cursor",
			policy: Policy{Mode: ModeExplicitIDs, Disposition: Disposition{Action: ActionFlag, Target: "\\Seen"}},
			w:      stored,
			want: Selection{
				Since:       stored.Timestamp,
				AfterUID:    42,
				UIDValidity: 7,
				ExcludeFlag: "\\Seen",
				Limit:       DefaultMaxPerPass,
			},
		},
		{
			name:   "Full scan with flag excludes flagged messages",
			policy: Policy{Mode: ModeFullScan, Disposition: Disposition{Action: ActionFlag, Target: "Synced"}, MaxPerPass: 5},
			w:      stored,
			want:   Selection{ExcludeFlag: "Synced", Limit: 5},
		},
		{
			name:   "Full scan ignores the watermark",
			policy: Policy{Mode: ModeFullScan, Disposition: Disposition{Action: ActionMove, Target: "Archive"}, MaxPerPass: 5},
			w:      stored,
			want:   Selection{Limit: 5, Drains: true},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Selection(tt.w, now)
			if got != tt.want {
				t.Errorf("Selection() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGuarantee(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   string
	}{
		{"Since with delete", Policy{Mode: ModeSinceWatermark, Disposition: Disposition{Action: ActionDelete}}, GuaranteeAtLeastOnce},
		{"Full scan with move", Policy{Mode: ModeFullScan, Disposition: Disposition{Action: ActionMove, Target: "Trash"}}, GuaranteeAtLeastOnce},
		{"Since with flag", Policy{Mode: ModeSinceWatermark, Disposition: Disposition{Action: ActionFlag, Target: "\\Seen"}}, GuaranteeIdempotent},
		{"Explicit ids with delete", Policy{Mode: ModeExplicitIDs, Disposition: Disposition{Action: ActionDelete}}, GuaranteeIdempotent},
	}

	for _, tt := range tests {
		if got := tt.policy.Guarantee(); got != tt.want {
			t.Errorf("%s: Guarantee() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAdvance(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	t.Run("Empty keeps watermark", func(t *testing.T) {
		w := models.Watermark{Timestamp: t2, UID: 3, UIDValidity: 1}
		if got := Advance(w, nil); got != w {
			t.Errorf("Advance() = %+v, want %+v", got, w)
		}
	})

	t.Run("Moves to the maximum persisted timestamp and UID", func(t *testing.T) {
		got := Advance(models.Watermark{}, []models.MessageRef{
			{UID: 1, UIDValidity: 9, ArrivedAt: t1},
			{UID: 3, UIDValidity: 9, ArrivedAt: t3},
		})
		if !got.Timestamp.Equal(t3) || got.UID != 3 || got.UIDValidity != 9 {
			t.Errorf("Advance() = %+v, want ts=%v uid=3 validity=9", got, t3)
		}
	})

	t.Run("Never moves backwards", func(t *testing.T) {
		w := models.Watermark{Timestamp: t3, UID: 10, UIDValidity: 9}
		got := Advance(w, []models.MessageRef{{UID: 4, UIDValidity: 9, ArrivedAt: t1}})
		if !got.Timestamp.Equal(t3) || got.UID != 10 {
			t.Errorf("Advance() = %+v, want unchanged %+v", got, w)
		}
	})

	t.Run("New UIDVALIDITY resets the UID cursor", func(t *testing.T) {
		w := models.Watermark{Timestamp: t1, UID: 100, UIDValidity: 1}
		got := Advance(w, []models.MessageRef{
			{UID: 2, UIDValidity: 2, ArrivedAt: t2},
			{UID: 5, UIDValidity: 2, ArrivedAt: t3},
		})
		if got.UIDValidity != 2 || got.UID != 5 || !got.Timestamp.Equal(t3) {
			t.Errorf("Advance() = %+v, want uid=5 validity=2 ts=%v", got, t3)
		}
	})

	t.Run("Timestamp-only refs leave UID untouched", func(t *testing.T) {
		w := models.Watermark{Timestamp: t1}
		got := Advance(w, []models.MessageRef{{Key: "pop-uidl-1", ArrivedAt: t2}})
		if got.UID != 0 || !got.Timestamp.Equal(t2) {
			t.Errorf("Advance() = %+v, want ts=%v uid=0", got, t2)
		}
	})
}
