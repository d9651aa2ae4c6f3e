package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUsers(t *testing.T, st Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := st.PutUser(context.Background(), UserRecord{ID: id, Username: "u" + strconv.FormatInt(id, 10)})
		require.NoError(t, err)
	}
}

func TestPutUserKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	u, err := st.PutUser(ctx, UserRecord{ID: 1, Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, "active", u.Status)

	require.NoError(t, st.SetUserStatus(ctx, 1, "blocked"))
	u, err = st.PutUser(ctx, UserRecord{ID: 1, Username: "alice2"})
	require.NoError(t, err)
	require.Equal(t, "blocked", u.Status)
	require.Equal(t, "alice2", u.Username)

	got, err := st.GetUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "alice2", got.Username)

	_, err = st.GetUser(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUsernameUnique(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	_, err := st.PutUser(ctx, UserRecord{ID: 1, Username: "bob"})
	require.NoError(t, err)
	_, err = st.PutUser(ctx, UserRecord{ID: 2, Username: "bob"})
	require.ErrorIs(t, err, ErrDuplicate)

	// Empty usernames are stored as NULL and never collide.
	_, err = st.PutUser(ctx, UserRecord{ID: 3})
	require.NoError(t, err)
	_, err = st.PutUser(ctx, UserRecord{ID: 4})
	require.NoError(t, err)
}

func TestEventLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	seedUsers(t, st, 1)

	id, err := st.InsertEvent(ctx, EventRecord{
		Name: "Birthday of Ann", Text: "Birthday of Ann today",
		CreatedBy: 1, AddressedTo: 1, ChatID: 10,
		State: "enabled", Status: "created", Type: "birthday",
		Day: 15, Month: 6,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	at := time.Date(2024, 6, 15, 7, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateEventSchedule(ctx, id, "job-1", at, "scheduled"))

	e, err := st.GetEvent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "job-1", e.JobID)
	require.True(t, e.ScheduledTo.Equal(at))
	require.Equal(t, "scheduled", e.Status)

	require.NoError(t, st.UpdateEventState(ctx, id, "disabled"))
	require.NoError(t, st.UpdateEventStatus(ctx, id, "expired"))
	e, err = st.GetEvent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "disabled", e.State)
	require.Equal(t, "expired", e.Status)

	require.NoError(t, st.DeleteEvent(ctx, id))
	require.ErrorIs(t, st.DeleteEvent(ctx, id), ErrNotFound)
	_, err = st.GetEvent(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.UpdateEventState(ctx, id, "enabled"), ErrNotFound)
}

func TestEventConstraints(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	seedUsers(t, st, 1)

	base := EventRecord{Name: "x", Text: "xx", CreatedBy: 1, AddressedTo: 1, State: "enabled", Status: "created", Type: "birthday", JobID: "j1"}
	_, err := st.InsertEvent(ctx, base)
	require.NoError(t, err)

	dupName := base
	dupName.JobID = "j2"
	_, err = st.InsertEvent(ctx, dupName)
	require.ErrorIs(t, err, ErrDuplicate)

	dupJob := base
	dupJob.Name = "y"
	_, err = st.InsertEvent(ctx, dupJob)
	require.ErrorIs(t, err, ErrDuplicate)

	noUser := base
	noUser.Name, noUser.JobID, noUser.AddressedTo = "z", "j3", 42
	_, err = st.InsertEvent(ctx, noUser)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, st.DeleteUser(ctx, 1), ErrReferenced)
}

func TestListEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	seedUsers(t, st, 1)

	now := time.Now()
	for i, name := range []string{"a", "b", "c"} {
		typ := "birthday"
		if name == "b" {
			typ = "custom"
		}
		_, err := st.InsertEvent(ctx, EventRecord{
			Name: name, Text: "text", CreatedBy: 1, AddressedTo: 1,
			State: "enabled", Status: "created", Type: typ,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, err := st.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].Name)

	bdays, err := st.ListEvents(ctx, EventFilter{Type: "birthday"})
	require.NoError(t, err)
	require.Len(t, bdays, 2)
	require.Equal(t, []string{"c", "a"}, []string{bdays[0].Name, bdays[1].Name})
}

func TestJobs(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.InsertJob(ctx, JobRecord{ID: "j1", Name: "n", RunAt: at, Payload: []byte(`{"event_id":1}`)}))
	require.ErrorIs(t, st.InsertJob(ctx, JobRecord{ID: "j1", Name: "n", RunAt: at}), ErrDuplicate)

	require.NoError(t, st.SetJobPaused(ctx, "j1", true))
	j, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, j.Paused)
	require.True(t, j.RunAt.Equal(at))
	require.JSONEq(t, `{"event_id":1}`, string(j.Payload))

	jobs, err := st.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	removed, err := st.DeleteJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = st.DeleteJob(ctx, "j1")
	require.NoError(t, err)
	require.False(t, removed)
	require.ErrorIs(t, st.SetJobPaused(ctx, "j1", false), ErrNotFound)
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	_, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, st.PutDedup(ctx, "k", until))
	got, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(until))
}
