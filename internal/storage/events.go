package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertEvent stores e and returns its new id. A missing user surfaces as
// ErrNotFound, a name or job id clash as ErrDuplicate.
func (s *sqliteStore) InsertEvent(ctx context.Context, e EventRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events(
			name, text, created_by, addressed_to, chat_id, state, status, type,
			day, month, birth_year, scheduled_to, job_id, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.Name, e.Text, e.CreatedBy, e.AddressedTo, e.ChatID, e.State, e.Status, e.Type,
		e.Day, e.Month, e.BirthYear, nullTime(e.ScheduledTo), nullStr(e.JobID), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrReferenced) {
			return 0, fmt.Errorf("%w: user", ErrNotFound)
		}
		return 0, err
	}
	return res.LastInsertId()
}

const eventCols = `id, name, text, created_by, addressed_to, chat_id, state, status, type,
	day, month, birth_year, scheduled_to, job_id, created_at`

func scanEvent(row interface{ Scan(...any) error }) (EventRecord, error) {
	var (
		e         EventRecord
		scheduled sql.NullInt64
		jobID     sql.NullString
		created   int64
	)
	err := row.Scan(&e.ID, &e.Name, &e.Text, &e.CreatedBy, &e.AddressedTo, &e.ChatID,
		&e.State, &e.Status, &e.Type, &e.Day, &e.Month, &e.BirthYear,
		&scheduled, &jobID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventRecord{}, ErrNotFound
		}
		return EventRecord{}, err
	}
	e.ScheduledTo = fromNullTime(scheduled)
	e.JobID = jobID.String
	e.CreatedAt = time.UnixMilli(created).UTC()
	return e, nil
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (EventRecord, error) {
	if s == nil || s.db == nil {
		return EventRecord{}, ErrDisabled
	}
	return scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id))
}

// ListEvents returns matching events, newest first.
func (s *sqliteStore) ListEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	query := `SELECT ` + eventCols + ` FROM events`
	var args []any
	if f.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateEventState(ctx context.Context, id int64, state string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `UPDATE events SET state = ? WHERE id = ?`, state, id))
}

func (s *sqliteStore) UpdateEventStatus(ctx context.Context, id int64, status string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, status, id))
}

// UpdateEventSchedule writes the job id, instant and status in one statement.
func (s *sqliteStore) UpdateEventSchedule(ctx context.Context, id int64, jobID string, at time.Time, status string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE events SET job_id = ?, scheduled_to = ?, status = ? WHERE id = ?`,
		nullStr(jobID), nullTime(at), status, id,
	))
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id))
}
