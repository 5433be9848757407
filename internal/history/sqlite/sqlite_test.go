package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/craftctl/internal/history"
)

func TestSQLiteSinkFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		history.New(history.ActionStart, "pid 4321", true),
		history.New(history.ActionBackup, "20240301120001.tar.gz", true),
		history.New(history.ActionStop, "", false),
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Action, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM craftctl_history`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != len(events) {
		t.Fatalf("stored rows = %d, want %d", count, len(events))
	}

	var gotID string
	var gotOK bool
	err = sink.db.QueryRowContext(ctx,
		`SELECT id, ok FROM craftctl_history WHERE action = ?`, string(history.ActionStop)).
		Scan(&gotID, &gotOK)
	if err != nil {
		t.Fatalf("select stop row: %v", err)
	}
	if gotID != events[2].ID.String() {
		t.Fatalf("stored id = %s, want %s", gotID, events[2].ID)
	}
	if gotOK {
		t.Fatalf("stored ok = true for a failed stop")
	}
}

func TestSQLiteSinkInMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Send(context.Background(), history.New(history.ActionRestart, "", true)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSinkRejectsEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
