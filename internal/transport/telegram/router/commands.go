package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

var errPanic = errors.New("internal error")

func (r *Router) commands() []Command {
	return []Command{
		{
			Name:        "start",
			Description: "register with the bot",
			Usage:       "/start",
			Handle:      r.handleStart,
		},
		{
			Name:        "help",
			Description: "show available commands",
			Usage:       "/help",
			Handle:      r.handleHelp,
		},
		{
			Name:        "create_birthday",
			Aliases:     []string{"create"},
			Description: "add a birthday reminder",
			Usage:       "/create_birthday DD.MM[.YYYY] Name",
			Handle:      r.handleCreate,
		},
		{
			Name:        "list_birthdays",
			Aliases:     []string{"list"},
			Description: "list birthday reminders",
			Usage:       "/list_birthdays",
			Handle:      r.handleList,
		},
		{
			Name:        "delete_birthday",
			Aliases:     []string{"delete"},
			Description: "delete a reminder by id",
			Usage:       "/delete_birthday ID",
			Handle:      r.handleDelete,
		},
		{
			Name:        "enable_birthday",
			Aliases:     []string{"enable"},
			Description: "resume a reminder by id",
			Usage:       "/enable_birthday ID",
			Handle:      r.handleEnable,
		},
		{
			Name:        "disable_birthday",
			Aliases:     []string{"disable"},
			Description: "pause a reminder by id",
			Usage:       "/disable_birthday ID",
			Handle:      r.handleDisable,
		},
	}
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	u, err := r.svc.Register(ctx, req.FromID, req.FromUsername)
	if err != nil {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("Hi %s! Add a birthday with %s", displayName(u), "/create_birthday DD.MM[.YYYY] Name"))
	return nil
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	r.reply(ctx, req, r.helpText())
	return nil
}

func (r *Router) handleCreate(ctx context.Context, req *Request) error {
	ev, err := r.svc.Create(ctx, reminder.CreateRequest{
		UserID: req.FromID,
		ChatID: req.Chat.ChatID,
		Args:   req.Args,
	})
	if err != nil {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("Reminder %q created for %s (id %d)",
		ev.Name, r.formatTime(ev), ev.ID))
	return nil
}

func (r *Router) handleList(ctx context.Context, req *Request) error {
	entries, err := r.svc.List(ctx, reminder.TypeBirthday)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.reply(ctx, req, "No birthdays")
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, r.formatEntry(e))
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) handleDelete(ctx context.Context, req *Request) error {
	id, err := reminder.ParseID(req.Args)
	if err != nil {
		return err
	}
	ev, err := r.svc.Delete(ctx, id)
	if err != nil && ev.ID == 0 {
		return err
	}
	if err != nil {
		// The event is gone but its job is still armed; the firing finds no
		// event and is discarded.
		req.Logger.Warn("event deleted with job cancel failure", logx.Int64("event_id", id), logx.Err(err))
		r.reply(ctx, req, fmt.Sprintf("Deleted reminder %q (id %d), but its job could not be cancelled. %s",
			ev.Name, ev.ID, errorText(err, req.Usage)))
		return nil
	}
	r.reply(ctx, req, fmt.Sprintf("Deleted reminder %q (id %d)", ev.Name, ev.ID))
	return nil
}

func (r *Router) handleEnable(ctx context.Context, req *Request) error {
	return r.setState(ctx, req, r.svc.Enable, "enabled")
}

func (r *Router) handleDisable(ctx context.Context, req *Request) error {
	return r.setState(ctx, req, r.svc.Disable, "disabled")
}

func (r *Router) setState(ctx context.Context, req *Request, fn func(context.Context, int64) (reminder.Event, error), verb string) error {
	id, err := reminder.ParseID(req.Args)
	if err != nil {
		return err
	}
	ev, err := fn(ctx, id)
	if err != nil {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("Reminder %q %s", ev.Name, verb))
	return nil
}

func (r *Router) location() *time.Location {
	if loc := r.svc.Location(); loc != nil {
		return loc
	}
	return r.now().Location()
}

func (r *Router) formatTime(ev reminder.Event) string {
	return ev.ScheduledTo.In(r.location()).Format("2006-01-02 15:04 MST")
}

// formatEntry renders one list line:
// "1. Birthday of Bob for alice by alice at 2025-06-15 09:00 +0200 (id 7), 11 months from now, 30th birthday".
func (r *Router) formatEntry(e reminder.Entry) string {
	ev := e.Event
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s for %s by %s at %s (id %d)",
		e.Ordinal, ev.Name, displayName(e.Addressee), displayName(e.Creator), r.formatTime(ev), ev.ID)
	if !ev.ScheduledTo.IsZero() && !ev.Status.Terminal() {
		b.WriteString(", ")
		b.WriteString(humanize.RelTime(ev.ScheduledTo, r.now(), "ago", "from now"))
	}
	if ev.BirthYear > 0 && !ev.ScheduledTo.IsZero() {
		if age := ev.ScheduledTo.In(r.location()).Year() - ev.BirthYear; age > 0 {
			b.WriteString(", ")
			b.WriteString(humanize.Ordinal(age))
			b.WriteString(" birthday")
		}
	}
	if ev.State == reminder.StateDisabled {
		b.WriteString(" [disabled]")
	}
	if ev.Status.Terminal() {
		b.WriteString(" [" + string(ev.Status) + "]")
	}
	return b.String()
}

func displayName(u reminder.User) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}

// errorText maps a command failure to its reply.
func errorText(err error, usage string) string {
	switch {
	case errors.Is(err, reminder.ErrUnknownUser):
		return "Unknown user. Send /start first"
	case errors.Is(err, reminder.ErrParse):
		if usage != "" {
			return "Unable to parse command. Usage: " + usage
		}
		return "Unable to parse command"
	case errors.Is(err, reminder.ErrInvalidDate):
		return "Invalid date"
	case errors.Is(err, reminder.ErrDuplicate):
		return "Such a reminder already exists"
	case errors.Is(err, reminder.ErrNotFound):
		return "Reminder not found"
	case errors.Is(err, reminder.ErrScheduling):
		return "Unable to schedule reminder"
	case errors.Is(err, reminder.ErrValidation):
		return "Invalid reminder"
	case errors.Is(err, reminder.ErrStore):
		return "Storage error, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "Internal error"
	}
}
