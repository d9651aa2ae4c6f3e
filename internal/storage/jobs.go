package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *sqliteStore) InsertJob(ctx context.Context, j JobRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, run_at, payload, paused, created_at) VALUES(?,?,?,?,?,?)`,
		j.ID, j.Name, j.RunAt.UnixMilli(), j.Payload, boolToInt(j.Paused), j.CreatedAt.UnixMilli(),
	)
	return classify(err)
}

const jobCols = `id, name, run_at, payload, paused, created_at`

func scanJob(row interface{ Scan(...any) error }) (JobRecord, error) {
	var (
		j       JobRecord
		runAt   int64
		paused  int
		created int64
	)
	if err := row.Scan(&j.ID, &j.Name, &runAt, &j.Payload, &paused, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRecord{}, ErrNotFound
		}
		return JobRecord{}, err
	}
	j.RunAt = time.UnixMilli(runAt).UTC()
	j.Paused = paused != 0
	j.CreatedAt = time.UnixMilli(created).UTC()
	return j, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (JobRecord, error) {
	if s == nil || s.db == nil {
		return JobRecord{}, ErrDisabled
	}
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
}

// ListJobs returns every persisted job ordered by run time.
func (s *sqliteStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs ORDER BY run_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetJobPaused(ctx context.Context, id string, paused bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `UPDATE jobs SET paused = ? WHERE id = ?`, boolToInt(paused), id))
}

// DeleteJob reports whether a row was removed. Absent is not an error.
func (s *sqliteStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
