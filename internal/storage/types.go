package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled   = errors.New("storage disabled")
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate")
	ErrReferenced = errors.New("still referenced")
)

// Config configures the SQLite database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type UserRecord struct {
	ID        int64
	Username  string
	Status    string
	CreatedAt time.Time
}

// EventRecord is the persisted form of a reminder event.
// ScheduledTo is zero and JobID empty until the event is scheduled.
type EventRecord struct {
	ID          int64
	Name        string
	Text        string
	CreatedBy   int64
	AddressedTo int64
	ChatID      int64
	State       string
	Status      string
	Type        string
	Day         int
	Month       int
	BirthYear   int
	ScheduledTo time.Time
	JobID       string
	CreatedAt   time.Time
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type string
}

// JobRecord is a durable one-shot job.
type JobRecord struct {
	ID        string
	Name      string
	RunAt     time.Time
	Payload   []byte
	Paused    bool
	CreatedAt time.Time
}
