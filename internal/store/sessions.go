package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/duofusion/internal/engine"
)

// ErrNotFound is returned when a session id is not in the catalog.
var ErrNotFound = errors.New("session not found")

// Quality is the sync-quality block stored with a session.
type Quality struct {
	Samples           int64   `json:"samples"`
	MeanDeltaMS       float64 `json:"mean_delta_ms"`
	WorstDeltaMS      float64 `json:"worst_delta_ms"`
	MeanSchedErrorMS  float64 `json:"mean_sched_error_ms"`
	WorstSchedErrorMS float64 `json:"worst_sched_error_ms"`
	Class             string  `json:"class"`
}

// Session is one catalog row.
type Session struct {
	ID           string        `json:"id"`
	RunToken     string        `json:"run_token"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	TargetRate   int           `json:"target_rate"`
	Status       string        `json:"status"`
	Frames       engine.Counts `json:"frames"`
	Quality      Quality       `json:"quality"`
	StagingDir   string        `json:"staging_dir"`
	Location     string        `json:"location"`
	Migrated     bool          `json:"migrated"`
	FailureCause string        `json:"failure_cause,omitempty"`
}

const sessionColumns = `
	id, run_token, started_at, ended_at, target_rate, status,
	frames_total, frames_on_time, frames_late, frames_dropped, frames_failed,
	quality_class, quality, staging_dir, location, migrated, failure_cause`

// RecordSession inserts or replaces the catalog row for sess.ID.
func (s *Store) RecordSession(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("record session: empty id")
	}
	q, err := marshalQuality(sess.Quality)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	class := sess.Quality.Class
	if class == "" {
		class = "unknown"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_token = excluded.run_token,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			target_rate = excluded.target_rate,
			status = excluded.status,
			frames_total = excluded.frames_total,
			frames_on_time = excluded.frames_on_time,
			frames_late = excluded.frames_late,
			frames_dropped = excluded.frames_dropped,
			frames_failed = excluded.frames_failed,
			quality_class = excluded.quality_class,
			quality = excluded.quality,
			staging_dir = excluded.staging_dir,
			location = excluded.location,
			migrated = excluded.migrated,
			failure_cause = excluded.failure_cause
	`,
		sess.ID,
		sess.RunToken,
		unixNano(sess.StartedAt),
		unixNano(sess.EndedAt),
		sess.TargetRate,
		sess.Status,
		sess.Frames.Total,
		sess.Frames.OnTime,
		sess.Frames.Late,
		sess.Frames.Dropped,
		sess.Frames.Failed,
		class,
		q,
		normalize(sess.StagingDir),
		normalize(sess.Location),
		boolToInt(sess.Migrated),
		normalize(sess.FailureCause),
	)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// GetSession returns the row for id or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns every session ordered by start time, then id.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// MarkMigrated records that a session now lives at location.
func (s *Store) MarkMigrated(ctx context.Context, id, location string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET migrated = 1, location = ? WHERE id = ?
	`, normalize(location), id)
	if err != nil {
		return fmt.Errorf("mark migrated %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark migrated %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark migrated %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess             Session
		started, ended   int64
		class, qualityJS string
		migrated         int
	)
	err := sc.Scan(
		&sess.ID,
		&sess.RunToken,
		&started,
		&ended,
		&sess.TargetRate,
		&sess.Status,
		&sess.Frames.Total,
		&sess.Frames.OnTime,
		&sess.Frames.Late,
		&sess.Frames.Dropped,
		&sess.Frames.Failed,
		&class,
		&qualityJS,
		&sess.StagingDir,
		&sess.Location,
		&migrated,
		&sess.FailureCause,
	)
	if err != nil {
		return Session{}, err
	}

	q, err := unmarshalQuality(qualityJS)
	if err != nil {
		return Session{}, err
	}
	if q.Class == "" {
		q.Class = class
	}
	sess.Quality = q
	sess.StartedAt = fromUnixNano(started)
	sess.EndedAt = fromUnixNano(ended)
	sess.Migrated = migrated != 0
	return sess, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
