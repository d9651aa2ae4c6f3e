package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

const (
	reminderPrefix      = "Reminder! "
	rescheduleFailedMsg = "Unable to schedule reminder"
)

// Sender delivers text to a chat. key identifies the delivery so a repeated
// firing of the same job can be suppressed.
type Sender interface {
	Send(ctx context.Context, chatID int64, text, key string) error
}

type Config struct {
	// Location for occurrence computation. Nil means time.Local.
	Location *time.Location
	Now      func() time.Time
	NewJobID func() string
}

// Service is the lifecycle orchestrator. It is the only writer of events
// besides the Reconciler.
type Service struct {
	store *Store
	jobs  JobScheduler
	send  Sender
	log   logx.Logger
	now   func() time.Time
	newID func() string

	mu  sync.RWMutex
	loc *time.Location
}

func NewService(cfg Config, store *Store, jobs JobScheduler, send Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewJobID == nil {
		cfg.NewJobID = NewJobID
	}
	return &Service{
		store: store,
		jobs:  jobs,
		send:  send,
		log:   log.With(logx.String("comp", "reminder")),
		now:   cfg.Now,
		newID: cfg.NewJobID,
		loc:   cfg.Location,
	}
}

// SetLocation switches the zone used for new occurrences.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

func (s *Service) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

func (s *Service) clock() time.Time { return s.now().In(s.Location()) }

// Register records the user on first contact, refreshing the username of a
// known one.
func (s *Service) Register(ctx context.Context, id int64, username string) (User, error) {
	if id == 0 {
		return User{}, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	u, err := s.store.PutUser(ctx, User{ID: id, Username: strings.TrimSpace(username), Status: UserActive})
	if err != nil {
		return User{}, err
	}
	s.log.Debug("user registered", logx.Int64("user_id", u.ID), logx.String("username", u.Username))
	return u, nil
}

// Birthday is the parsed argument of the create command.
type Birthday struct {
	Day   int
	Month int
	Year  int // as typed; 0 when absent
	Name  string
}

var reBirthday = regexp.MustCompile(`^\s*(\d{1,2})[./-](\d{1,2})(?:[./-](\d{4}|\d{2}))?\s+([\p{L}\p{N}_][\p{L}\p{N}_\s]*?)\s*$`)

// ParseBirthday parses "<day>.<month>[.<year>] <name>".
func ParseBirthday(s string) (Birthday, error) {
	m := reBirthday.FindStringSubmatch(s)
	if m == nil {
		return Birthday{}, fmt.Errorf("%w: want <day>.<month>[.<year>] <name>, got %q", ErrParse, strings.TrimSpace(s))
	}
	b := Birthday{Name: strings.Join(strings.Fields(m[4]), " ")}
	b.Day, _ = strconv.Atoi(m[1])
	b.Month, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		b.Year, _ = strconv.Atoi(m[3])
	}
	return b, nil
}

// ParseID parses the first argument of delete/enable/disable.
func ParseID(args string) (int64, error) {
	f := strings.Fields(args)
	if len(f) == 0 {
		return 0, fmt.Errorf("%w: event id required", ErrParse)
	}
	id, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad event id %q", ErrParse, f[0])
	}
	return id, nil
}

// CreateRequest is an inbound create command.
type CreateRequest struct {
	UserID int64
	ChatID int64
	Args   string
}

// Create parses a birthday, persists it and schedules its first firing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Event, error) {
	b, err := ParseBirthday(req.Args)
	if err != nil {
		return Event{}, err
	}
	now := s.clock()
	at, err := NextOccurrence(b.Day, b.Month, now)
	if err != nil {
		return Event{}, err
	}
	user, err := s.store.User(ctx, req.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownUser, req.UserID)
	case err != nil:
		return Event{}, err
	case user.Status != UserActive:
		return Event{}, fmt.Errorf("%w: %d is %s", ErrUnknownUser, req.UserID, user.Status)
	}

	return s.Add(ctx, Event{
		Name:        "Birthday of " + b.Name,
		Text:        "Birthday of " + b.Name + " today",
		CreatedBy:   user.ID,
		AddressedTo: user.ID,
		ChatID:      req.ChatID,
		Type:        TypeBirthday,
		Day:         b.Day,
		Month:       b.Month,
		BirthYear:   NormalizeYear(b.Year, now),
		ScheduledTo: at,
	})
}

// Add persists ev as a new enabled event and schedules it at ev.ScheduledTo.
// The record is written first; if scheduling fails it is deleted again.
func (s *Service) Add(ctx context.Context, ev Event) (Event, error) {
	if ev.ScheduledTo.IsZero() {
		return Event{}, fmt.Errorf("%w: scheduled_to is required", ErrValidation)
	}
	if ev.JobID == "" {
		ev.JobID = s.newID()
	}
	ev.State = StateEnabled
	ev.Status = StatusCreated
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}

	ev, err := s.store.Insert(ctx, ev)
	if err != nil {
		return Event{}, err
	}
	log := s.log.With(logx.Int64("event_id", ev.ID), logx.String("job_id", ev.JobID))

	if err := s.jobs.ScheduleOnce(ctx, ev.JobID, ev.ScheduledTo, Payload{EventID: ev.ID}); err != nil {
		err = schedErr(err)
		if rerr := s.store.Delete(ctx, ev.ID); rerr != nil {
			log.Error("rollback of unscheduled event failed", logx.Err(rerr))
			return Event{}, errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		log.Warn("event rolled back; scheduling failed", logx.Err(err))
		return Event{}, err
	}

	// The job is live. A failed status write leaves the event "created",
	// which the reconciler promotes.
	if err := s.store.UpdateStatus(ctx, ev.ID, StatusScheduled); err != nil {
		log.Warn("event scheduled but status not persisted", logx.Err(err))
		return ev, nil
	}
	ev.Status = StatusScheduled
	log.Info("event scheduled", logx.String("name", ev.Name), logx.Time("at", ev.ScheduledTo))
	return ev, nil
}

// Delete removes the event and cancels its job. The cancel is attempted even
// when the store delete fails; a cancel failure after a successful delete is
// reported but not rolled back.
func (s *Service) Delete(ctx context.Context, id int64) (Event, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	delErr := s.store.Delete(ctx, id)

	var cancelErr error
	if ev.JobID != "" {
		if err := s.jobs.Cancel(ctx, ev.JobID); err != nil {
			cancelErr = schedErr(err)
			s.log.Warn("job cancel failed", logx.Int64("event_id", id), logx.String("job_id", ev.JobID), logx.Err(err))
		}
	}
	if delErr != nil {
		return Event{}, errors.Join(delErr, cancelErr)
	}
	s.log.Info("event deleted", logx.Int64("event_id", id))
	return ev, cancelErr
}

func (s *Service) Enable(ctx context.Context, id int64) (Event, error) {
	return s.setState(ctx, id, StateEnabled)
}

func (s *Service) Disable(ctx context.Context, id int64) (Event, error) {
	return s.setState(ctx, id, StateDisabled)
}

// setState writes the state, then pauses or resumes the job. A job that no
// longer exists is left for the reconciler.
func (s *Service) setState(ctx context.Context, id int64, st State) (Event, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if err := s.store.UpdateState(ctx, id, st); err != nil {
		return Event{}, err
	}
	ev.State = st
	if ev.JobID == "" || ev.Status.Terminal() {
		return ev, nil
	}

	if st == StateEnabled {
		err = s.jobs.Resume(ctx, ev.JobID)
	} else {
		err = s.jobs.Pause(ctx, ev.JobID)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		s.log.Debug("state changed; job gone", logx.Int64("event_id", id), logx.String("state", string(st)))
		return ev, nil
	case err != nil:
		return ev, schedErr(err)
	}
	s.log.Info("event state changed", logx.Int64("event_id", id), logx.String("state", string(st)))
	return ev, nil
}

// Entry is one line of a listing.
type Entry struct {
	Ordinal   int
	Event     Event
	Creator   User
	Addressee User
}

// List returns events of typ, newest first, with resolved users.
func (s *Service) List(ctx context.Context, typ Type) ([]Entry, error) {
	events, err := s.store.ListByType(ctx, typ)
	if err != nil {
		return nil, err
	}
	users := map[int64]User{}
	user := func(id int64) (User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		u, err := s.store.User(ctx, id)
		if err != nil {
			return User{}, err
		}
		users[id] = u
		return u, nil
	}

	out := make([]Entry, 0, len(events))
	for i, ev := range events {
		creator, err := user(ev.CreatedBy)
		if err != nil {
			return nil, err
		}
		addressee, err := user(ev.AddressedTo)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Ordinal: i + 1, Event: ev, Creator: creator, Addressee: addressee})
	}
	return out, nil
}

// HandleJob is the scheduler callback.
func (s *Service) HandleJob(ctx context.Context, job scheduler.Job) error {
	p, err := DecodePayload(job.Payload)
	if err != nil {
		return engine.NoRetry(err)
	}
	return s.Fire(ctx, job.ID, p.EventID)
}

// Fire runs a due job. Orphaned, stale and disabled firings are no-ops.
// A returned error means delivery did not complete and the job may be retried.
func (s *Service) Fire(ctx context.Context, jobID string, eventID int64) error {
	log := s.log.With(logx.Int64("event_id", eventID), logx.String("job_id", jobID))

	ev, err := s.store.Get(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		log.Info("orphaned job discarded")
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case ev.JobID != jobID:
		log.Info("stale firing discarded", logx.String("current_job_id", ev.JobID))
		return nil
	case ev.State == StateDisabled:
		log.Warn("disabled event fired; skipped")
		return nil
	case ev.Status.Terminal():
		log.Info("firing of finished event discarded", logx.String("status", string(ev.Status)))
		return nil
	}

	if err := s.send.Send(ctx, ev.ChatID, reminderPrefix+ev.Text, jobID); err != nil {
		return fmt.Errorf("deliver event %d: %w", ev.ID, err)
	}

	if !ev.Type.Recurring() {
		if err := s.store.UpdateStatus(ctx, ev.ID, StatusExpired); err != nil {
			return err
		}
		log.Info("event expired")
		return nil
	}

	now := s.clock()
	next, err := nextAfterFiring(ev, now)
	if err == nil {
		err = s.reschedule(ctx, ev, next)
	}
	if err != nil {
		// The event keeps its old job id and status; the reconciler repairs it.
		log.Error("reschedule failed", logx.Err(err))
		if serr := s.send.Send(ctx, ev.ChatID, rescheduleFailedMsg, jobID+":reschedule"); serr != nil {
			log.Warn("reschedule failure notice not delivered", logx.Err(serr))
		}
		return nil
	}
	log.Info("event rescheduled", logx.Time("at", next))
	return nil
}

// reschedule moves ev to a fresh job at at. If the store write fails the new
// job is cancelled again.
func (s *Service) reschedule(ctx context.Context, ev Event, at time.Time) error {
	if !ev.Status.CanTransition(StatusScheduled) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, ev.Status, StatusScheduled)
	}
	jobID := s.newID()
	if err := s.jobs.ScheduleOnce(ctx, jobID, at, Payload{EventID: ev.ID}); err != nil {
		return schedErr(err)
	}
	if err := s.store.UpdateSchedule(ctx, ev.ID, jobID, at, StatusScheduled); err != nil {
		if cerr := s.jobs.Cancel(ctx, jobID); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	return nil
}

// nextAfterFiring is one year after the instant that just fired.
func nextAfterFiring(ev Event, now time.Time) (time.Time, error) {
	if ev.ScheduledTo.IsZero() {
		return nextFromData(ev, now)
	}
	return NextAnnual(ev.ScheduledTo, now)
}

// nextFromData derives the next firing from stored schedule data alone.
func nextFromData(ev Event, now time.Time) (time.Time, error) {
	switch ev.Type {
	case TypeBirthday:
		if ev.Day == 0 || ev.Month == 0 {
			return time.Time{}, fmt.Errorf("%w: birthday without day/month", errMalformedEvent)
		}
		return NextOccurrence(ev.Day, ev.Month, now)
	case TypeCustom:
		if ev.ScheduledTo.IsZero() {
			return time.Time{}, fmt.Errorf("%w: custom event without instant", errMalformedEvent)
		}
		if !ev.ScheduledTo.After(now) {
			return time.Time{}, errPassed
		}
		return ev.ScheduledTo, nil
	default:
		return time.Time{}, fmt.Errorf("%w: type %q", errMalformedEvent, ev.Type)
	}
}

var errPassed = errors.New("one-shot instant has passed")

func schedErr(err error) error {
	if err == nil || errors.Is(err, ErrScheduling) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrScheduling, err)
}
