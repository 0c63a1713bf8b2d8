// Package policy decides which messages a pass selects and what happens to a
// message once its record is stored. Together those two choices fix the
// delivery guarantee of the pipeline, which Guarantee reports.
package policy

import (
	"fmt"
	"strings"
	"time"

	"emails-sync/internal/models"
)

// Mode is the selection predicate handed to the message source
type Mode string

const (
	ModeSinceWatermark Mode = "since-watermark"
	ModeExplicitIDs    Mode = "explicit-ids"
	ModeFullScan       Mode = "full-scan-capped"
)

// Action is what happens to a source message after its record landed
type Action string

const (
	ActionNone   Action = "none"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
	ActionFlag   Action = "flag"
)

const (
	GuaranteeAtLeastOnce = "at-least-once"
	GuaranteeIdempotent  = "idempotent"
)

// DefaultMaxPerPass bounds a pass when no cap is configured
const DefaultMaxPerPass = 50

// Disposition is a parsed disposition action with its optional target
type Disposition struct {
	Action Action
	Target string
}

func (d Disposition) String() string {
	if d.Target == "" {
		return string(d.Action)
	}
	return string(d.Action) + ":" + d.Target
}

// ParseDisposition parses "delete", "none", "move:<mailbox>" or "flag:<name>"
func ParseDisposition(s string) (Disposition, error) {
	s = strings.TrimSpace(s)
	action, target, _ := strings.Cut(s, ":")
	action = strings.ToLower(strings.TrimSpace(action))
	target = strings.TrimSpace(target)

	switch Action(action) {
	case ActionNone, ActionDelete:
		if target != "" {
			return Disposition{}, fmt.Errorf("disposition %q takes no target", action)
		}
		return Disposition{Action: Action(action)}, nil
	case ActionMove, ActionFlag:
		if target == "" {
			return Disposition{}, fmt.Errorf("disposition %q needs a target, e.g. %s:<name>", action, action)
		}
		return Disposition{Action: Action(action), Target: target}, nil
	}

	return Disposition{}, fmt.Errorf("unknown disposition %q (want delete, move:<mailbox> or flag:<name>)", s)
}

// ParseMode parses a selection mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSinceWatermark, ModeExplicitIDs, ModeFullScan:
		return m, nil
	}
	return "", fmt.Errorf("unknown selection mode %q", s)
}

// Selection is the predicate a MessageSource applies when listing.
// Since is inclusive; a zero Since means no lower bound.
type Selection struct {
	Since       time.Time
	AfterUID    uint32
	UIDValidity uint32
	ExcludeFlag string
	Limit       int

	// Drains is set when disposal removes processed messages from the listing
	// (delete, move). A source without a trustworthy arrival time may then ignore Since.
	Drains bool
}

// Policy combines the selection mode and the disposition action
type Policy struct {
	Mode            Mode
	Disposition     Disposition
	MaxPerPass      int
	InitialLookback time.Duration
}

// Selection builds the listing predicate for watermark w.
// An absent watermark never selects the whole mailbox except in full-scan mode,
// which is bounded by the per-pass cap instead.
func (p Policy) Selection(w models.Watermark, now time.Time) Selection {
	sel := Selection{Limit: p.limit()}
	switch p.Disposition.Action {
	case ActionDelete, ActionMove:
		sel.Drains = true
	case ActionFlag:
		// in since-watermark mode the flag may come from a reader rather than from a pass
		if p.Mode != ModeSinceWatermark {
			sel.ExcludeFlag = p.Disposition.Target
		}
	}

	if p.Mode == ModeFullScan {
		return sel
	}

	if w.IsZero() {
		sel.Since = now.Add(-p.InitialLookback)
		return sel
	}

	sel.Since = w.Timestamp
	if p.Mode == ModeExplicitIDs && w.UID > 0 {
		sel.AfterUID = w.UID
		sel.UIDValidity = w.UIDValidity
	}

	return sel
}

// Guarantee describes the delivery guarantee of this combination
func (p Policy) Guarantee() string {
	if p.Mode == ModeExplicitIDs || p.Disposition.Action == ActionFlag {
		return GuaranteeIdempotent
	}
	return GuaranteeAtLeastOnce
}

func (p Policy) limit() int {
	if p.MaxPerPass <= 0 {
		return DefaultMaxPerPass
	}
	return p.MaxPerPass
}

// Advance returns w moved forward over the persisted refs. It never moves backwards
// in time; UIDs only compare inside the same UIDVALIDITY.
func Advance(w models.Watermark, persisted []models.MessageRef) models.Watermark {
	next := w
	for _, ref := range persisted {
		if ref.ArrivedAt.After(next.Timestamp) {
			next.Timestamp = ref.ArrivedAt
		}

		if ref.UID == 0 {
			continue
		}
		// a new UIDVALIDITY means the mailbox was recreated and old UIDs are void
		if ref.UIDValidity != next.UIDValidity {
			next.UIDValidity = ref.UIDValidity
			next.UID = ref.UID
			continue
		}
		if ref.UID > next.UID {
			next.UID = ref.UID
		}
	}

	return next
}
