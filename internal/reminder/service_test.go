package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
)

func TestParseBirthday(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Birthday
	}{
		{"15.6 Alice", Birthday{Day: 15, Month: 6, Name: "Alice"}},
		{"  1.12.1990   Bob  Marley ", Birthday{Day: 1, Month: 12, Year: 1990, Name: "Bob Marley"}},
		{"07/03/85 Ана", Birthday{Day: 7, Month: 3, Year: 85, Name: "Ана"}},
	}
	for _, tt := range tests {
		got, err := ParseBirthday(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
	for _, bad := range []string{"", "Alice", "15.6", "15 6 Alice", "1.2.345 Bob", "15.6 !!!"} {
		_, err := ParseBirthday(bad)
		require.ErrorIs(t, err, ErrParse, bad)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()
	id, err := ParseID(" 42 trailing")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	for _, bad := range []string{"", "  ", "abc", "-1", "0"} {
		_, err := ParseID(bad)
		require.ErrorIs(t, err, ErrParse, bad)
	}
}

func TestCreateSchedulesNextOccurrence(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "rolls to next year", now: at(2024, 6, 20, 9, 1), want: at(2025, 6, 15, 9, 0)},
		{name: "same year", now: at(2024, 6, 10, 9, 0), want: at(2024, 6, 15, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.now)
			ev := e.create(t, "15.6 Alice")

			require.True(t, ev.ScheduledTo.Equal(tt.want), "scheduled %s", ev.ScheduledTo)
			require.Equal(t, StatusScheduled, ev.Status)
			require.Equal(t, StateEnabled, ev.State)
			require.Equal(t, "Birthday of Alice", ev.Name)
			require.Equal(t, "Birthday of Alice today", ev.Text)

			stored := e.event(t, ev.ID)
			require.Equal(t, StatusScheduled, stored.Status)
			require.Equal(t, ev.JobID, stored.JobID)
			require.True(t, stored.ScheduledTo.Equal(tt.want))

			job, ok := e.jobs.get(ev.JobID)
			require.True(t, ok)
			require.True(t, job.at.Equal(tt.want))
			require.Equal(t, Payload{EventID: ev.ID}, job.p)
		})
	}
}

func TestCreateRecordsBirthYear(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6.90 Alice")
	require.Equal(t, 1990, e.event(t, ev.ID).BirthYear)
}

func TestCreateFailuresLeaveNoState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))

	_, err := e.svc.Create(ctx, CreateRequest{UserID: aliceID, ChatID: chatID, Args: "tomorrow Alice"})
	require.ErrorIs(t, err, ErrParse)

	_, err = e.svc.Create(ctx, CreateRequest{UserID: aliceID, ChatID: chatID, Args: "31.4 Alice"})
	require.ErrorIs(t, err, ErrInvalidDate)

	_, err = e.svc.Create(ctx, CreateRequest{UserID: 999, ChatID: chatID, Args: "15.6 Alice"})
	require.ErrorIs(t, err, ErrUnknownUser)

	require.NoError(t, e.db.SetUserStatus(ctx, aliceID, string(UserBlocked)))
	_, err = e.svc.Create(ctx, CreateRequest{UserID: aliceID, ChatID: chatID, Args: "15.6 Alice"})
	require.ErrorIs(t, err, ErrUnknownUser)

	events, err := e.db.ListEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, events)
	require.Zero(t, e.jobs.count())
}

func TestCreateRollsBackWhenSchedulingFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	e.jobs.failSchedule = errors.New("scheduler down")

	_, err := e.svc.Create(ctx, CreateRequest{UserID: aliceID, ChatID: chatID, Args: "15.6 Alice"})
	require.ErrorIs(t, err, ErrScheduling)

	events, err := e.db.ListEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, events)

	// The name is free again.
	e.jobs.failSchedule = nil
	e.create(t, "15.6 Alice")
}

func TestCreateDuplicateNameIsStoreError(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	e.create(t, "15.6 Alice")

	_, err := e.svc.Create(context.Background(), CreateRequest{UserID: aliceID, ChatID: chatID, Args: "16.7 Alice"})
	require.ErrorIs(t, err, ErrStore)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, 1, e.jobs.count())
}

func TestFireBirthdayReschedulesOneYearLater(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")

	e.clock.Set(at(2024, 6, 15, 9, 0).Add(300 * time.Millisecond))
	require.NoError(t, e.fire(t, ev.JobID))

	msgs := e.send.all()
	require.Len(t, msgs, 1)
	require.Equal(t, sent{chatID: chatID, text: "Reminder! Birthday of Alice today", key: ev.JobID}, msgs[0])

	after := e.event(t, ev.ID)
	require.NotEqual(t, ev.JobID, after.JobID)
	require.Equal(t, StatusScheduled, after.Status)
	require.True(t, after.ScheduledTo.Equal(ev.ScheduledTo.AddDate(1, 0, 0)), "scheduled %s", after.ScheduledTo)

	_, ok := e.jobs.get(ev.JobID)
	require.False(t, ok)
	job, ok := e.jobs.get(after.JobID)
	require.True(t, ok)
	require.True(t, job.at.Equal(at(2025, 6, 15, 9, 0)))
}

func TestFireCustomExpires(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev, err := e.svc.Add(context.Background(), Event{
		Name:        "Dentist",
		Text:        "Dentist at 11",
		CreatedBy:   aliceID,
		AddressedTo: aliceID,
		ChatID:      chatID,
		Type:        TypeCustom,
		ScheduledTo: at(2024, 6, 12, 9, 0),
	})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, ev.Status)

	e.clock.Set(at(2024, 6, 12, 9, 0))
	require.NoError(t, e.fire(t, ev.JobID))

	require.Equal(t, StatusExpired, e.event(t, ev.ID).Status)
	require.Zero(t, e.jobs.count())
	require.Len(t, e.send.all(), 1)
}

func TestFireDiscardsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))

	t.Run("disabled", func(t *testing.T) {
		ev := e.create(t, "1.7 Disabled")
		_, err := e.svc.Disable(ctx, ev.ID)
		require.NoError(t, err)
		require.NoError(t, e.svc.Fire(ctx, ev.JobID, ev.ID))
		require.Equal(t, ev.JobID, e.event(t, ev.ID).JobID)
	})
	t.Run("orphaned", func(t *testing.T) {
		require.NoError(t, e.svc.Fire(ctx, "gone", 12345))
	})
	t.Run("stale job id", func(t *testing.T) {
		ev := e.create(t, "2.7 Stale")
		require.NoError(t, e.svc.Fire(ctx, "older-job", ev.ID))
		require.Equal(t, ev.JobID, e.event(t, ev.ID).JobID)
	})
	t.Run("expired", func(t *testing.T) {
		ev := e.create(t, "3.7 Expired")
		require.NoError(t, e.db.UpdateEventStatus(ctx, ev.ID, string(StatusExpired)))
		require.NoError(t, e.svc.Fire(ctx, ev.JobID, ev.ID))
	})

	require.Empty(t, e.send.all())
}

func TestFireRescheduleFailureNotifiesAndKeepsEvent(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")

	e.clock.Set(at(2024, 6, 15, 9, 0))
	e.jobs.failSchedule = errors.New("scheduler down")
	require.NoError(t, e.fire(t, ev.JobID))

	msgs := e.send.all()
	require.Len(t, msgs, 2)
	require.Equal(t, "Unable to schedule reminder", msgs[1].text)

	after := e.event(t, ev.ID)
	require.Equal(t, ev.JobID, after.JobID)
	require.True(t, after.ScheduledTo.Equal(ev.ScheduledTo))
	require.Equal(t, StatusScheduled, after.Status)
}

func TestFireDeliveryFailureIsRetryable(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")
	e.send.fail = errors.New("telegram down")

	err := e.svc.Fire(context.Background(), ev.JobID, ev.ID)
	require.Error(t, err)
	require.False(t, engine.IsNoRetry(err))
	require.Equal(t, ev.JobID, e.event(t, ev.ID).JobID)
}

func TestHandleJobRejectsBadPayload(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	err := e.svc.HandleJob(context.Background(), scheduler.Job{ID: "x", Payload: []byte(`{"nope":1}`)})
	require.True(t, engine.IsNoRetry(err))
}

func TestDeleteMissingEvent(t *testing.T) {
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	_, err := e.svc.Delete(context.Background(), 404)
	require.ErrorIs(t, err, ErrStore)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, e.jobs.cancels)
}

func TestDeleteCancelsJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")

	got, err := e.svc.Delete(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Zero(t, e.jobs.count())

	_, err = e.db.GetEvent(ctx, ev.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The user can be removed once nothing references it.
	require.NoError(t, e.db.DeleteUser(ctx, aliceID))
}

func TestDeleteReportsCancelFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")
	e.jobs.failCancel = errors.New("scheduler down")

	_, err := e.svc.Delete(ctx, ev.ID)
	require.ErrorIs(t, err, ErrScheduling)

	// Not rolled back; the orphaned job is discarded when it fires.
	_, err = e.db.GetEvent(ctx, ev.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, e.fire(t, ev.JobID))
	require.Empty(t, e.send.all())
}

func TestDisableEnableKeepsJobID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")

	_, err := e.svc.Disable(ctx, ev.ID)
	require.NoError(t, err)
	job, ok := e.jobs.get(ev.JobID)
	require.True(t, ok)
	require.True(t, job.paused)
	require.Equal(t, StateDisabled, e.event(t, ev.ID).State)

	_, err = e.svc.Enable(ctx, ev.ID)
	require.NoError(t, err)
	job, ok = e.jobs.get(ev.JobID)
	require.True(t, ok)
	require.False(t, job.paused)

	after := e.event(t, ev.ID)
	require.Equal(t, StateEnabled, after.State)
	require.Equal(t, ev.JobID, after.JobID)
}

func TestEnableToleratesMissingJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	ev := e.create(t, "15.6 Alice")
	_, err := e.svc.Disable(ctx, ev.ID)
	require.NoError(t, err)
	e.jobs.drop(ev.JobID)

	_, err = e.svc.Enable(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, StateEnabled, e.event(t, ev.ID).State)

	_, err = e.svc.Enable(ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListResolvesUsers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))

	entries, err := e.svc.List(ctx, TypeBirthday)
	require.NoError(t, err)
	require.Empty(t, entries)

	first := e.create(t, "15.6 Alice")
	second := e.create(t, "1.1 Bob")

	entries, err = e.svc.List(ctx, TypeBirthday)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Ordinal)
	require.Equal(t, second.ID, entries[0].Event.ID)
	require.Equal(t, first.ID, entries[1].Event.ID)
	require.Equal(t, "alice", entries[0].Creator.Username)
	require.Equal(t, "alice", entries[0].Addressee.Username)

	entries, err = e.svc.List(ctx, TypeCustom)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRegisterKeepsStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, at(2024, 6, 10, 9, 0))
	require.NoError(t, e.db.SetUserStatus(ctx, aliceID, string(UserBlocked)))

	u, err := e.svc.Register(ctx, aliceID, "alice2")
	require.NoError(t, err)
	require.Equal(t, "alice2", u.Username)
	require.Equal(t, UserBlocked, u.Status)
}
