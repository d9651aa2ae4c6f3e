package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PutUser inserts the user or refreshes its username. An existing status is kept.
func (s *sqliteStore) PutUser(ctx context.Context, u UserRecord) (UserRecord, error) {
	if s == nil || s.db == nil {
		return UserRecord{}, ErrDisabled
	}
	if u.Status == "" {
		u.Status = "active"
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, status, created_at) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		u.ID, nullStr(u.Username), u.Status, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return UserRecord{}, classify(err)
	}
	return s.GetUser(ctx, u.ID)
}

const userCols = `id, username, status, created_at`

func scanUser(row interface{ Scan(...any) error }) (UserRecord, error) {
	var (
		u        UserRecord
		username sql.NullString
		created  int64
	)
	if err := row.Scan(&u.ID, &username, &u.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRecord{}, ErrNotFound
		}
		return UserRecord{}, err
	}
	u.Username = username.String
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	if s == nil || s.db == nil {
		return UserRecord{}, ErrDisabled
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
}

func (s *sqliteStore) SetUserStatus(ctx context.Context, id int64, status string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, id))
}

// DeleteUser fails with ErrReferenced while any event still points at the user.
func (s *sqliteStore) DeleteUser(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return mustAffect(s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id))
}
