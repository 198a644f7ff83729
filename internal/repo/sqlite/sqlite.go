// Package sqlite keeps the appointment event log in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // driver registration

	"github.com/hamed0406/slotwatch/internal/domain"
	"github.com/hamed0406/slotwatch/internal/repo"
	"github.com/hamed0406/slotwatch/internal/repo/sqlite/migrations"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// New opens dsn (a file path or ":memory:") and runs pending migrations.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctxPing); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite_ready", zap.String("dsn", dsn))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ---- EventStore ----

func (s *Store) AppendEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, date, message, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Date, ev.Message, formatTime(ev.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) RecentEvents(ctx context.Context, n int) ([]domain.AppointmentEvent, error) {
	if n <= 0 {
		n = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, date, message, created_at
		   FROM events
		  ORDER BY seq DESC
		  LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.AppointmentEvent
	for rows.Next() {
		var (
			ev        domain.AppointmentEvent
			typ       string
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Date, &ev.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Timestamp, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
