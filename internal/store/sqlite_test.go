package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"emails-sync/internal/models"
)

// newTestStore creates an in-memory SQLiteStore with all migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func testRecord(id, key string, received time.Time) models.EmailRecord {
	return models.EmailRecord{
		ID:         id,
		MessageKey: key,
		Sender:     "alice@example.com",
		Subject:    "subject " + id,
		Body:       "body",
		Source:     models.SourceIMAP,
		Status:     models.StatusNew,
		ReceivedAt: received,
		CreatedAt:  received.Add(time.Second),
	}
}

func TestInsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, key := range []string{"k1", "k2", "k3"} {
		rec := testRecord(key+"-id", key, base.Add(time.Duration(i)*time.Minute))
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) error: %v", key, err)
		}
	}

	records, err := s.ListRecords(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListRecords() returned %d records, want 2", len(records))
	}
	if records[0].MessageKey != "k3" || records[1].MessageKey != "k2" {
		t.Errorf("ListRecords() order = %s,%s, want k3,k2", records[0].MessageKey, records[1].MessageKey)
	}
	if !records[0].ReceivedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("ReceivedAt = %v", records[0].ReceivedAt)
	}
	if records[0].Status != models.StatusNew || records[0].Sender != "alice@example.com" {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Insert(ctx, testRecord("a", "same-key", base)); err != nil {
		t.Fatalf("first Insert() error: %v", err)
	}

	err := s.Insert(ctx, testRecord("b", "same-key", base))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Insert() = %v, want ErrDuplicate", err)
	}

	// same key from another source is a different message
	other := testRecord("c", "same-key", base)
	other.Source = models.SourcePOP3
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("Insert() from another source error: %v", err)
	}

	n, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() error: %v", err)
	}
	if n != 2 {
		t.Errorf("CountRecords() = %d, want 2", n)
	}
}

func TestWatermark_AbsentReadsZero(t *testing.T) {
	s := newTestStore(t)

	w, err := s.Watermarks("inbox").Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !w.IsZero() {
		t.Errorf("Read() = %+v, want zero watermark", w)
	}
}

func TestWatermark_AdvanceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wm := s.Watermarks("inbox")
	t2 := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)

	if err := wm.Advance(ctx, models.Watermark{Timestamp: t2, UID: 12, UIDValidity: 7}); err != nil {
		t.Fatalf("Advance() error: %v", err)
	}

	// an older candidate must not move it back
	if err := wm.Advance(ctx, models.Watermark{Timestamp: t2.Add(-time.Hour), UID: 3, UIDValidity: 7}); err != nil {
		t.Fatalf("Advance() error: %v", err)
	}

	w, err := wm.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !w.Timestamp.Equal(t2) || w.UID != 12 || w.UIDValidity != 7 {
		t.Errorf("Read() = %+v, want ts=%v uid=12 validity=7", w, t2)
	}
	if w.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	// keys are independent
	other, err := s.Watermarks("archive").Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !other.IsZero() {
		t.Errorf("Expected an independent watermark per key, got %+v", other)
	}
}

func TestWatermark_UIDValidityChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wm := s.Watermarks("inbox")
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = wm.Advance(ctx, models.Watermark{Timestamp: ts, UID: 900, UIDValidity: 1})
	if err := wm.Advance(ctx, models.Watermark{Timestamp: ts, UID: 4, UIDValidity: 2}); err != nil {
		t.Fatalf("Advance() error: %v", err)
	}

	w, _ := wm.Read(ctx)
	if w.UID != 4 || w.UIDValidity != 2 {
		t.Errorf("Read() = uid %d validity %d, want 4/2", w.UID, w.UIDValidity)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	if err := s.Insert(context.Background(), testRecord("a", "k", time.Now().UTC())); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	var version int
	if err := reopened.db.Get(&version, "SELECT MAX(version) FROM schema_version"); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}

	n, _ := reopened.CountRecords(context.Background())
	if n != 1 {
		t.Errorf("CountRecords() after reopen = %d, want 1", n)
	}
}
