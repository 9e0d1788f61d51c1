package coverstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// History source values.
const (
	SourcePoll    = "poll"
	SourceRestore = "restore"
)

// ErrNotFound is returned when no state has been saved for a cover.
var ErrNotFound = errors.New("coverstore: not found")

// Record is the persisted last state of a cover.
type Record struct {
	CoverID    string       `json:"cover_id"`
	Display    string       `json:"display_state"`
	Position   int          `json:"position"`
	Setpoint   int          `json:"setpoint"`
	Motion     cover.Motion `json:"motion"`
	LastMotion cover.Motion `json:"last_motion"`
	Available  bool         `json:"available"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	ID         int64        `json:"id"`
	CoverID    string       `json:"cover_id"`
	Display    string       `json:"display_state"`
	Position   int          `json:"position"`
	Setpoint   int          `json:"setpoint"`
	Motion     cover.Motion `json:"motion"`
	Available  bool         `json:"available"`
	Source     string       `json:"source"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Store reads and writes cover state.
//
// Thread Safety: safe for concurrent use; *sql.DB serialises access.
type Store struct {
	db *sql.DB
}

// New creates a store on an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot upserts the last known state of a cover.
func (s *Store) SaveSnapshot(ctx context.Context, snap cover.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("cover id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cover_state
			(cover_id, display_state, position, setpoint, motion, last_motion, available, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cover_id) DO UPDATE SET
			display_state = excluded.display_state,
			position      = excluded.position,
			setpoint      = excluded.setpoint,
			motion        = excluded.motion,
			last_motion   = excluded.last_motion,
			available     = excluded.available,
			updated_at    = excluded.updated_at`,
		snap.ID,
		snap.Display,
		snap.State.Position,
		snap.State.Setpoint,
		snap.State.Motion.String(),
		snap.State.LastMotion.String(),
		boolToInt(snap.State.Available),
		formatTime(snap.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("saving cover state: %w", err)
	}
	return nil
}

// Get returns the saved state of a cover, or ErrNotFound.
func (s *Store) Get(ctx context.Context, coverID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cover_id, display_state, position, setpoint, motion, last_motion, available, updated_at
		FROM cover_state
		WHERE cover_id = ?`,
		coverID,
	)

	var (
		rec                Record
		motion, lastMotion string
		available          int
		updatedAt          string
	)
	err := row.Scan(&rec.CoverID, &rec.Display, &rec.Position, &rec.Setpoint, &motion, &lastMotion, &available, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cover state: %w", err)
	}

	rec.Motion, _ = cover.MotionFromDisplay(motion)
	rec.LastMotion, _ = cover.MotionFromDisplay(lastMotion)
	rec.Available = available != 0
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LastDisplayState returns the display state saved for a cover, suitable
// for cover.Controller.Restore. It returns ErrNotFound for unknown covers.
func (s *Store) LastDisplayState(ctx context.Context, coverID string) (string, error) {
	var display string
	err := s.db.QueryRowContext(ctx,
		"SELECT display_state FROM cover_state WHERE cover_id = ?",
		coverID,
	).Scan(&display)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying display state: %w", err)
	}
	return display, nil
}

// RecordStateChange appends a snapshot to the history log.
// An empty source is recorded as SourcePoll.
func (s *Store) RecordStateChange(ctx context.Context, snap cover.Snapshot, source string) error {
	if snap.ID == "" {
		return fmt.Errorf("cover id is required")
	}
	if source == "" {
		source = SourcePoll
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cover_state_history
			(cover_id, display_state, position, setpoint, motion, available, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.Display,
		snap.State.Position,
		snap.State.Setpoint,
		snap.State.Motion.String(),
		boolToInt(snap.State.Available),
		source,
		formatTime(snap.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent state changes for a cover, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - coverID: Cover unique id
//   - limit: Maximum entries (default 50, max 200)
//   - since: Only entries recorded after since; zero means no bound.
//     The limit applies after this filter.
//
// Returns:
//   - []HistoryEntry: entries ordered newest first (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *Store) GetHistory(ctx context.Context, coverID string, limit int, since time.Time) ([]HistoryEntry, error) {
	if coverID == "" {
		return nil, fmt.Errorf("cover id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT id, cover_id, display_state, position, setpoint, motion, available, source, recorded_at
		FROM cover_state_history
		WHERE cover_id = ?`
	args := []any{coverID}
	if !since.IsZero() {
		query += ` AND recorded_at > ?`
		args = append(args, formatTime(since))
	}
	query += `
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e          HistoryEntry
			motion     string
			available  int
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.CoverID, &e.Display, &e.Position, &e.Setpoint, &motion, &available, &e.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.Motion, _ = cover.MotionFromDisplay(motion)
		e.Available = available != 0
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than olderThan.
//
// Returns:
//   - int64: number of rows deleted
//   - error: nil on success
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cover_state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// formatTime stores t in UTC with a fixed-width fraction so that string
// comparison matches time order.
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
