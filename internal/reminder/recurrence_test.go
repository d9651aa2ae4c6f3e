package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// kaliningrad has no DST; a fixed zone keeps tests independent of tzdata.
var kaliningrad = time.FixedZone("EET", 2*60*60)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, kaliningrad)
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		day, month int
		now        time.Time
		want       time.Time
	}{
		{name: "passed this year", day: 15, month: 6, now: at(2024, 6, 20, 9, 1), want: at(2025, 6, 15, 9, 0)},
		{name: "later this year", day: 15, month: 6, now: at(2024, 6, 10, 9, 0), want: at(2024, 6, 15, 9, 0)},
		{name: "same instant rolls over", day: 15, month: 6, now: at(2024, 6, 15, 9, 0), want: at(2025, 6, 15, 9, 0)},
		{name: "earlier same day", day: 15, month: 6, now: at(2024, 6, 15, 8, 59), want: at(2024, 6, 15, 9, 0)},
		{name: "leap day in leap year", day: 29, month: 2, now: at(2024, 1, 1, 0, 0), want: at(2024, 2, 29, 9, 0)},
		{name: "new year", day: 1, month: 1, now: at(2024, 12, 31, 23, 0), want: at(2025, 1, 1, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.day, tt.month, tt.now)
			require.NoError(t, err)
			require.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNextOccurrenceInvalidDate(t *testing.T) {
	t.Parallel()
	for _, c := range []struct {
		day, month int
		now        time.Time
	}{
		{29, 2, at(2025, 1, 1, 0, 0)},
		{29, 2, at(2024, 3, 1, 0, 0)}, // rolls into 2025
		{31, 4, at(2024, 1, 1, 0, 0)},
		{1, 13, at(2024, 1, 1, 0, 0)},
		{0, 5, at(2024, 1, 1, 0, 0)},
	} {
		_, err := NextOccurrence(c.day, c.month, c.now)
		require.ErrorIs(t, err, ErrInvalidDate, "%02d.%02d", c.day, c.month)
	}
}

func TestNextOccurrenceAlwaysAheadWithinAYear(t *testing.T) {
	t.Parallel()
	nows := []time.Time{
		at(2023, 1, 1, 0, 0),
		at(2023, 7, 14, 9, 0),
		at(2024, 2, 29, 12, 30),
		at(2024, 12, 31, 9, 0),
	}
	for _, now := range nows {
		for month := 1; month <= 12; month++ {
			for day := 1; day <= 31; day++ {
				got, err := NextOccurrence(day, month, now)
				if err != nil {
					require.ErrorIs(t, err, ErrInvalidDate)
					continue
				}
				require.True(t, got.After(now), "%02d.%02d from %s", day, month, now)
				require.LessOrEqual(t, got.Sub(now), 366*24*time.Hour)
				require.Equal(t, DefaultHour, got.Hour())
			}
		}
	}
}

func TestNextAnnual(t *testing.T) {
	t.Parallel()
	prev := at(2024, 6, 15, 9, 0)

	got, err := NextAnnual(prev.UTC(), at(2024, 6, 15, 9, 0))
	require.NoError(t, err)
	require.True(t, got.Equal(at(2025, 6, 15, 9, 0)))

	// A firing delivered more than a year late still lands in the future.
	got, err = NextAnnual(prev, at(2025, 7, 1, 0, 0))
	require.NoError(t, err)
	require.True(t, got.Equal(at(2026, 6, 15, 9, 0)))

	_, err = NextAnnual(at(2024, 2, 29, 9, 0), at(2024, 2, 29, 9, 0))
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestNextAnnualKeepsSubMinuteClock(t *testing.T) {
	t.Parallel()
	prev := time.Date(2024, 6, 10, 9, 0, 4, 150*int(time.Millisecond), kaliningrad)

	got, err := NextAnnual(prev, prev.Add(time.Second))
	require.NoError(t, err)
	require.True(t, got.Equal(prev.AddDate(1, 0, 0)), "got %s", got)
	require.Equal(t, 365*24*time.Hour, got.Sub(prev))
}

func TestNormalizeYear(t *testing.T) {
	t.Parallel()
	now := at(2024, 5, 1, 0, 0)
	tests := []struct{ in, want int }{
		{0, 0},
		{5, 2005},
		{24, 2024},
		{25, 1925},
		{90, 1990},
		{1987, 1987},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeYear(tt.in, now), "year %d", tt.in)
	}
}
