// Package sqlite persists telemetry events to the local database. All
// writes are enqueued on the single-writer worker without waiting for
// the commit, so a slow or failing disk can never stall the door.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	dbpkg "github.com/canmetro/turnstiled/internal/db"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
	logger *log.Logger
}

func NewStore(db *sql.DB, writer *dbpkg.Worker, logger *log.Logger) *Store {
	return &Store{db: db, writer: writer, logger: logger}
}

func (s *Store) AccessGranted(_ context.Context, ev telemetry.AccessEvent) error {
	ev.Granted = true
	return s.insertAccess(ev)
}

func (s *Store) AccessDenied(_ context.Context, ev telemetry.AccessEvent) error {
	ev.Granted = false
	return s.insertAccess(ev)
}

func (s *Store) insertAccess(ev telemetry.AccessEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return s.enqueue("access_event", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO access_events(user, door_id, granted, access_seq, occurred_at_ms)
VALUES (?, ?, ?, ?, ?);`,
			ev.User, ev.DoorID, boolInt(ev.Granted), ev.AccessSeq, ev.OccurredAt.UTC().UnixMilli(),
		)
		return err
	})
}

func (s *Store) Login(_ context.Context, ev telemetry.LoginEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return s.enqueue("login_event", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO login_events(username, success, occurred_at_ms)
VALUES (?, ?, ?);`,
			ev.Username, boolInt(ev.Success), ev.OccurredAt.UTC().UnixMilli(),
		)
		return err
	})
}

func (s *Store) DoorStatus(_ context.Context, sample telemetry.StatusSample) error {
	if sample.OccurredAt.IsZero() {
		sample.OccurredAt = time.Now().UTC()
	}
	return s.enqueue("door_status", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO door_status(position, crossing, sensor_a, sensor_b, occurred_at_ms)
VALUES (?, ?, ?, ?, ?);`,
			string(sample.Position), boolInt(sample.CrossingInProgress),
			boolInt(sample.SensorABlocked), boolInt(sample.SensorBBlocked),
			sample.OccurredAt.UTC().UnixMilli(),
		)
		return err
	})
}

// enqueue hands the insert to the writer without waiting for the
// commit. Insert failures are logged here since no caller will ever
// look at them; a full queue is reported as backpressure.
func (s *Store) enqueue(what string, fn dbpkg.TxFn) error {
	wrapped := func(ctx context.Context, tx *sql.Tx) error {
		if err := fn(ctx, tx); err != nil {
			s.logger.Printf("telemetry: %s insert failed: %v", what, err)
			return err
		}
		return nil
	}
	// Background context: the write must survive the caller's
	// (possibly already-cancelled) request or shutdown context.
	if err := s.writer.TryDo(context.Background(), wrapped); err != nil {
		return fmt.Errorf("telemetry %s: %w", what, err)
	}
	return nil
}

// Flush waits for every previously enqueued write to commit. Tests and
// shutdown use it; the control path never does.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Do(ctx, func(context.Context, *sql.Tx) error { return nil })
}

func (s *Store) RecentAccess(ctx context.Context, since time.Time) ([]telemetry.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user, door_id, granted, access_seq, occurred_at_ms
FROM access_events
WHERE occurred_at_ms >= ?
ORDER BY occurred_at_ms ASC;`, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("RecentAccess query: %w", err)
	}
	defer rows.Close()

	var out []telemetry.AccessEvent
	for rows.Next() {
		var (
			ev      telemetry.AccessEvent
			granted int
			ms      int64
		)
		if err := rows.Scan(&ev.User, &ev.DoorID, &granted, &ev.AccessSeq, &ms); err != nil {
			return nil, fmt.Errorf("RecentAccess scan: %w", err)
		}
		ev.Granted = granted != 0
		ev.OccurredAt = time.UnixMilli(ms).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context, since time.Time) (telemetry.AccessStats, error) {
	var st telemetry.AccessStats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(granted), 0)
FROM access_events
WHERE occurred_at_ms >= ?;`, since.UTC().UnixMilli()).Scan(&st.Total, &st.Granted)
	if err != nil {
		return telemetry.AccessStats{}, fmt.Errorf("Stats query: %w", err)
	}
	st.Denied = st.Total - st.Granted
	return st, nil
}

// LatestStatus returns the most recent door-status sample, if any.
func (s *Store) LatestStatus(ctx context.Context) (*telemetry.StatusSample, error) {
	var (
		sample   telemetry.StatusSample
		position string
		crossing, sa, sb int
		ms       int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT position, crossing, sensor_a, sensor_b, occurred_at_ms
FROM door_status
ORDER BY occurred_at_ms DESC, id DESC
LIMIT 1;`).Scan(&position, &crossing, &sa, &sb, &ms)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestStatus query: %w", err)
	}
	sample.Position = types.DoorPosition(position)
	sample.CrossingInProgress = crossing != 0
	sample.SensorABlocked = sa != 0
	sample.SensorBBlocked = sb != 0
	sample.OccurredAt = time.UnixMilli(ms).UTC()
	return &sample, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
