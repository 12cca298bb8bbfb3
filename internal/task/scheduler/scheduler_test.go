package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupcast/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in     string
		kind   SpecKind
		cron   string
		every  time.Duration
		source string
	}{
		{"*/5 * * * *", SpecCron, "*/5 * * * *", 0, "cron"},
		{"@daily", SpecCron, "@daily", 0, "cron"},
		{"cron:@hourly", SpecCron, "@hourly", 0, "cron"},
		{"07:30", SpecCron, "30 7 * * *", 0, "daily"},
		{"6h", SpecInterval, "@every 6h0m0s", 6 * time.Hour, "duration"},
		{"every:02:30", SpecInterval, "@every 2h30m0s", 150 * time.Minute, "hhmm"},
		{"interval:45m", SpecInterval, "@every 45m0s", 45 * time.Minute, "duration"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ps, err := ParseSchedule(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ps.Kind)
			assert.Equal(t, tc.cron, ps.Cron)
			assert.Equal(t, tc.every, ps.Every)
			assert.Equal(t, tc.source, ps.Source)
		})
	}

	for _, bad := range []string{"", "24:00", "07:75", "-5m", "soon", "every:", "cron:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestReplaceValidatesAll(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Replace([]Job{{Name: "keep", Spec: "@daily", Run: noop}}))

	err := s.Replace([]Job{
		{Name: "ok", Spec: "07:00", Run: noop},
		{Name: "ok", Spec: "08:00", Run: noop},
		{Name: "broken", Spec: "61 * * * *", Run: noop},
		{Name: "", Spec: "@daily", Run: noop},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), `"broken"`)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name)
	assert.True(t, entries[0].Next.IsZero())
}

func TestEntriesExposeNextRun(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	require.NoError(t, s.Replace([]Job{{Name: "morning", Spec: "07:30", Run: func(context.Context) error { return nil }}}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next.UTC()
	assert.False(t, next.IsZero())
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestDisabledServiceDoesNotTrigger(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Replace([]Job{{Name: "tick", Spec: "* * * * * *", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}}))

	s.Start(context.Background())
	time.Sleep(1500 * time.Millisecond)
	s.Stop(context.Background())
	assert.Zero(t, runs.Load())
}

func TestOverlappingTriggersAreSkipped(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())

	var (
		runs     atomic.Int32
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	job := func(ctx context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		runs.Add(1)
		time.Sleep(2500 * time.Millisecond)
		return nil
	}
	require.NoError(t, s.Replace([]Job{{Name: "slow", Spec: "* * * * * *", Run: job}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(3500 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.LessOrEqual(t, runs.Load(), int32(2))
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestCheckLeavesRegisteredSetAlone(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Replace([]Job{{Name: "keep", Spec: "@daily", Run: noop}}))

	require.NoError(t, s.Check([]Job{{Name: "other", Spec: "12:00", Run: noop}}))
	assert.Error(t, s.Check([]Job{{Name: "bad", Spec: "manha", Run: noop}}))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name)
}
