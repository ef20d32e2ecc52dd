package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PaperDigest/internal/logging"
)

func TestParseTime(t *testing.T) {
	h, m, err := ParseTime("08:05")
	require.NoError(t, err)
	assert.Equal(t, 8, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"8", "24:00", "12:60", "noon", ""} {
		_, _, err := ParseTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestNext(t *testing.T) {
	s, err := New("08:00", nil, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	before := time.Date(2026, 2, 6, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC), s.Next(before))

	exactly := time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 7, 8, 0, 0, 0, time.UTC), s.Next(exactly))

	endOfMonth := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), s.Next(endOfMonth))
}

// fakeClock advances one day each time a timer fires.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestRunTriggersJobAndMondayCleanup(t *testing.T) {
	// Friday 2026-02-06, so the fourth trigger falls on Monday the 9th.
	clock := &fakeClock{now: time.Date(2026, 2, 6, 7, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	cleanups := 0
	job := func(context.Context) error {
		runs = append(runs, clock.Now())
		if len(runs) == 4 {
			cancel()
		}
		return errors.New("run failed")
	}
	s, err := New("08:00", job, Options{
		Cleanup: func(context.Context) error { cleanups++; return nil },
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	s.now = clock.Now
	s.after = clock.After

	require.NoError(t, s.Run(ctx))

	require.Len(t, runs, 4)
	assert.Equal(t, time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC), runs[3])
	assert.Equal(t, 1, cleanups)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New("08:00", func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	}, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
