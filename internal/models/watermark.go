package models

import "time"

// Watermark is the persisted cursor between processed and unprocessed mail.
// A zero value means no watermark was ever stored.
type Watermark struct {
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	UID         uint32    `db:"uid" json:"uid"`
	UIDValidity uint32    `db:"uid_validity" json:"uidValidity"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

func (w Watermark) IsZero() bool {
	return w.Timestamp.IsZero() && w.UID == 0
}

// Max merges two watermarks without ever moving backwards. The UID cursor is
// only comparable inside one UIDVALIDITY; a different non-zero validity in
// other replaces it.
func (w Watermark) Max(other Watermark) Watermark {
	out := w
	if other.Timestamp.After(out.Timestamp) {
		out.Timestamp = other.Timestamp
	}
	if other.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = other.UpdatedAt
	}

	switch {
	case other.UID == 0:
	case other.UIDValidity != out.UIDValidity:
		out.UIDValidity = other.UIDValidity
		out.UID = other.UID
	case other.UID > out.UID:
		out.UID = other.UID
	}

	return out
}

// Equal reports whether both watermarks point at the same position
func (w Watermark) Equal(other Watermark) bool {
	return w.Timestamp.Equal(other.Timestamp) && w.UID == other.UID && w.UIDValidity == other.UIDValidity
}
