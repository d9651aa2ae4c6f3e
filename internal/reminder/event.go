package reminder

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"remindbot/internal/storage"
)

var (
	ErrParse          = errors.New("parse error")
	ErrUnknownUser    = errors.New("unknown user")
	ErrInvalidDate    = errors.New("invalid date")
	ErrValidation     = errors.New("validation error")
	ErrScheduling     = errors.New("scheduling error")
	ErrStore          = errors.New("store error")
	ErrBadTransition  = errors.New("invalid status transition")
	ErrNotFound       = storage.ErrNotFound
	ErrDuplicate      = storage.ErrDuplicate
	errMalformedEvent = errors.New("malformed schedule data")
)

// State says whether an event may fire.
type State string

const (
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

// Status is where an event is in its execution lifecycle.
type Status string

const (
	StatusCreated   Status = "created"
	StatusScheduled Status = "scheduled"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// Terminal reports whether no further firing is expected.
func (s Status) Terminal() bool { return s == StatusExpired || s == StatusDeleted }

// CanTransition reports whether s may move to next. Statuses only move
// forward; scheduled→scheduled is the loop of a recurring event.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusScheduled || next == StatusExpired || next == StatusDeleted
	case StatusScheduled:
		return next == StatusScheduled || next == StatusExpired || next == StatusDeleted
	default:
		return false
	}
}

// Type decides recurrence.
type Type string

const (
	TypeBirthday Type = "birthday"
	TypeCustom   Type = "custom"
)

func (t Type) Recurring() bool { return t == TypeBirthday }

type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
	UserDeleted UserStatus = "deleted"
)

type User struct {
	ID        int64
	Username  string
	Status    UserStatus
	CreatedAt time.Time
}

// Event is one reminder. Day, Month and BirthYear keep the data the next
// occurrence is derived from; ScheduledTo and JobID describe the pending
// firing.
type Event struct {
	ID          int64
	Name        string
	Text        string
	CreatedBy   int64
	AddressedTo int64
	ChatID      int64
	State       State
	Status      Status
	Type        Type
	Day         int
	Month       int
	BirthYear   int
	ScheduledTo time.Time
	JobID       string
	CreatedAt   time.Time
}

const (
	minTextLen = 2
	maxTextLen = 1024
	maxNameLen = 256
)

// Validate checks the fields every persisted event must carry.
func (e Event) Validate() error {
	var errs []error
	if e.Name == "" || utf8.RuneCountInString(e.Name) > maxNameLen {
		errs = append(errs, fmt.Errorf("name must be 1..%d characters", maxNameLen))
	}
	if n := utf8.RuneCountInString(e.Text); n < minTextLen || n > maxTextLen {
		errs = append(errs, fmt.Errorf("text must be %d..%d characters, got %d", minTextLen, maxTextLen, n))
	}
	if e.CreatedBy == 0 || e.AddressedTo == 0 {
		errs = append(errs, errors.New("created_by and addressed_to are required"))
	}
	if e.JobID == "" {
		errs = append(errs, errors.New("job_id is required"))
	}
	switch e.Type {
	case TypeBirthday:
		if e.Day == 0 || e.Month == 0 {
			errs = append(errs, errors.New("birthday needs day and month"))
		}
	case TypeCustom:
	default:
		errs = append(errs, fmt.Errorf("unknown type %q", e.Type))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}
