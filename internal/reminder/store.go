package reminder

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/storage"
)

// Store maps reminder operations onto storage.Store. Every error is wrapped
// in ErrStore; ErrNotFound and ErrDuplicate stay visible to errors.Is.
type Store struct {
	db storage.Store
}

func NewStore(db storage.Store) *Store { return &Store{db: db} }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func toRecord(e Event) storage.EventRecord {
	return storage.EventRecord{
		ID:          e.ID,
		Name:        e.Name,
		Text:        e.Text,
		CreatedBy:   e.CreatedBy,
		AddressedTo: e.AddressedTo,
		ChatID:      e.ChatID,
		State:       string(e.State),
		Status:      string(e.Status),
		Type:        string(e.Type),
		Day:         e.Day,
		Month:       e.Month,
		BirthYear:   e.BirthYear,
		ScheduledTo: e.ScheduledTo,
		JobID:       e.JobID,
		CreatedAt:   e.CreatedAt,
	}
}

func fromRecord(r storage.EventRecord) Event {
	return Event{
		ID:          r.ID,
		Name:        r.Name,
		Text:        r.Text,
		CreatedBy:   r.CreatedBy,
		AddressedTo: r.AddressedTo,
		ChatID:      r.ChatID,
		State:       State(r.State),
		Status:      Status(r.Status),
		Type:        Type(r.Type),
		Day:         r.Day,
		Month:       r.Month,
		BirthYear:   r.BirthYear,
		ScheduledTo: r.ScheduledTo,
		JobID:       r.JobID,
		CreatedAt:   r.CreatedAt,
	}
}

// Insert stores e and returns it with its new id.
func (s *Store) Insert(ctx context.Context, e Event) (Event, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	id, err := s.db.InsertEvent(ctx, toRecord(e))
	if err != nil {
		return Event{}, storeErr("insert event", err)
	}
	e.ID = id
	return e, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Event, error) {
	r, err := s.db.GetEvent(ctx, id)
	if err != nil {
		return Event{}, storeErr(fmt.Sprintf("get event %d", id), err)
	}
	return fromRecord(r), nil
}

// ListByType returns events newest first. An empty type lists every event.
func (s *Store) ListByType(ctx context.Context, typ Type) ([]Event, error) {
	recs, err := s.db.ListEvents(ctx, storage.EventFilter{Type: string(typ)})
	if err != nil {
		return nil, storeErr("list events", err)
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func (s *Store) UpdateState(ctx context.Context, id int64, st State) error {
	return storeErr(fmt.Sprintf("update state of %d", id), s.db.UpdateEventState(ctx, id, string(st)))
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, st Status) error {
	return storeErr(fmt.Sprintf("update status of %d", id), s.db.UpdateEventStatus(ctx, id, string(st)))
}

// UpdateSchedule writes job id, instant and status in one statement.
func (s *Store) UpdateSchedule(ctx context.Context, id int64, jobID string, at time.Time, st Status) error {
	return storeErr(fmt.Sprintf("update schedule of %d", id), s.db.UpdateEventSchedule(ctx, id, jobID, at, string(st)))
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	return storeErr(fmt.Sprintf("delete event %d", id), s.db.DeleteEvent(ctx, id))
}

// User returns the user with the given external id.
func (s *Store) User(ctx context.Context, id int64) (User, error) {
	r, err := s.db.GetUser(ctx, id)
	if err != nil {
		return User{}, storeErr(fmt.Sprintf("get user %d", id), err)
	}
	return User{ID: r.ID, Username: r.Username, Status: UserStatus(r.Status), CreatedAt: r.CreatedAt}, nil
}

// PutUser creates u or refreshes its username. An existing status is kept.
func (s *Store) PutUser(ctx context.Context, u User) (User, error) {
	r, err := s.db.PutUser(ctx, storage.UserRecord{ID: u.ID, Username: u.Username, Status: string(u.Status)})
	if err != nil {
		return User{}, storeErr(fmt.Sprintf("put user %d", u.ID), err)
	}
	return User{ID: r.ID, Username: r.Username, Status: UserStatus(r.Status), CreatedAt: r.CreatedAt}, nil
}
