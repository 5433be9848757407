package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/craftctl/internal/history"
)

// Sink writes journal events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite journal sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table, no primary key beyond the event id.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS craftctl_history(
			id TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			action TEXT NOT NULL,
			detail TEXT,
			ok BOOLEAN NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_craftctl_history_action ON craftctl_history(action);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO craftctl_history(id, occurred_at, action, detail, ok)
		VALUES(?, ?, ?, ?, ?);`,
		e.ID.String(), e.OccurredAt.UTC(), string(e.Action), e.Detail, e.OK)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
