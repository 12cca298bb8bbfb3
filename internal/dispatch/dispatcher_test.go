package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcast/internal/eventlog"
	"groupcast/internal/wascript"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type entry struct {
	level eventlog.Level
	msg   string
}

type memSink struct {
	mu      sync.Mutex
	entries []entry
}

func (s *memSink) Record(level eventlog.Level, msg string) {
	s.mu.Lock()
	s.entries = append(s.entries, entry{level, msg})
	s.mu.Unlock()
}

func (s *memSink) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if strings.Contains(e.msg, substr) {
			n++
		}
	}
	return n
}

// scriptedSender returns results by target; unknown targets succeed.
type scriptedSender struct {
	mu       sync.Mutex
	results  map[string]wascript.Result
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
}

func (s *scriptedSender) Send(ctx context.Context, target, message, token string) wascript.Result {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target)
	if r, ok := s.results[target]; ok {
		return r
	}
	return wascript.Result{Status: wascript.StatusSuccess, Detail: `{"success":true}`, HTTPStatus: 200}
}

func newTestDispatcher(sender Sender) (*Dispatcher, *memSink, *fakeClock) {
	sink := &memSink{}
	clock := newFakeClock()
	var seq atomic.Int32
	d := New(sender, sink, WithClock(clock), WithIDGenerator(func() string {
		return fmt.Sprintf("batch-%d", seq.Add(1))
	}))
	return d, sink, clock
}

func TestDispatch_AllSucceedInOrderWithInterval(t *testing.T) {
	sender := &scriptedSender{}
	d, sink, clock := newTestDispatcher(sender)

	targets := []string{"group-a@g.us", "group-b@g.us", "group-c@g.us"}
	rep, err := d.Dispatch(context.Background(), Request{
		Message:   "Bom dia a todos",
		TargetIDs: targets,
		Interval:  13 * time.Second,
		Token:     "tok",
	})
	require.NoError(t, err)

	require.Len(t, rep.Outcomes, 3)
	for i, o := range rep.Outcomes {
		assert.Equal(t, targets[i], o.TargetID)
		assert.Equal(t, wascript.StatusSuccess, o.Status)
	}
	assert.Equal(t, targets, sender.calls)
	assert.Equal(t, []time.Duration{13 * time.Second, 13 * time.Second}, clock.sleeps)
	assert.GreaterOrEqual(t, rep.Duration(), 26*time.Second)
	assert.Equal(t, "batch-1", rep.ID)
	assert.Equal(t, 3, rep.Succeeded())
	assert.Empty(t, rep.FailedTargets())

	assert.Equal(t, 3, sink.count("Attempting delivery"))
	assert.Equal(t, 2, sink.count("Waiting 13s"))
	last := sink.entries[len(sink.entries)-1]
	assert.Equal(t, eventlog.Success, last.level)
	assert.Contains(t, last.msg, "all 3 target(s) sent")
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	sender := &scriptedSender{results: map[string]wascript.Result{
		"t1": {Status: wascript.StatusTransportError, Detail: "post: context deadline exceeded"},
		"t3": {Status: wascript.StatusAPIRejected, Detail: `{"success":false,"reason":"blocked"}`, HTTPStatus: 200},
	}}
	d, sink, _ := newTestDispatcher(sender)

	targets := []string{"t1", "t2", "t3", "t4"}
	rep, err := d.Dispatch(context.Background(), Request{Message: "x", TargetIDs: targets, Interval: MinInterval, Token: "tok"})
	require.NoError(t, err)

	require.Len(t, rep.Outcomes, len(targets))
	want := []wascript.Status{
		wascript.StatusTransportError,
		wascript.StatusSuccess,
		wascript.StatusAPIRejected,
		wascript.StatusSuccess,
	}
	for i, o := range rep.Outcomes {
		assert.Equal(t, targets[i], o.TargetID, "position %d", i)
		assert.Equal(t, want[i], o.Status, "position %d", i)
	}
	assert.Contains(t, rep.Outcomes[2].Detail, "blocked")
	assert.Equal(t, []string{"t1", "t3"}, rep.FailedTargets())
	assert.Equal(t, 2, rep.Failed())

	assert.Equal(t, 1, sink.count("Delivery to t1 failed"))
	assert.Equal(t, 1, sink.count("Provider rejected message for t3"))
	last := sink.entries[len(sink.entries)-1]
	assert.Equal(t, eventlog.Info, last.level)
	assert.Contains(t, last.msg, "2 sent, 2 failed")
}

func TestDispatch_TimeoutThenSuccess(t *testing.T) {
	sender := &scriptedSender{results: map[string]wascript.Result{
		"first": {Status: wascript.StatusTransportError, Detail: "post: i/o timeout"},
	}}
	d, sink, _ := newTestDispatcher(sender)

	rep, err := d.Dispatch(context.Background(), Request{Message: "hello", TargetIDs: []string{"first", "second"}, Interval: 20 * time.Second, Token: "tok"})
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 2)
	assert.Equal(t, wascript.StatusTransportError, rep.Outcomes[0].Status)
	assert.Equal(t, wascript.StatusSuccess, rep.Outcomes[1].Status)
	assert.Equal(t, 1, sink.count("Delivery to first failed"))
	assert.Equal(t, 1, sink.count("Message sent to second"))
}

func TestDispatch_SingleTargetDoesNotWait(t *testing.T) {
	d, sink, clock := newTestDispatcher(&scriptedSender{})
	_, err := d.Dispatch(context.Background(), Request{Message: "m", TargetIDs: []string{"only"}, Interval: MinInterval, Token: "tok"})
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)
	assert.Zero(t, sink.count("Waiting"))
}

func TestDispatch_ValidationRejectsBeforeAnySend(t *testing.T) {
	valid := Request{Message: "m", TargetIDs: []string{"a"}, Interval: MinInterval, Token: "tok"}

	cases := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"empty targets", func(r *Request) { r.TargetIDs = nil }, ErrNoTargets},
		{"blank message", func(r *Request) { r.Message = "  \n\t" }, ErrEmptyMessage},
		{"interval below floor", func(r *Request) { r.Interval = 5 * time.Second }, ErrIntervalTooShort},
		{"missing token", func(r *Request) { r.Token = "" }, ErrMissingToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &scriptedSender{}
			d, sink, _ := newTestDispatcher(sender)

			req := valid
			req.TargetIDs = append([]string(nil), valid.TargetIDs...)
			tc.mutate(&req)

			rep, err := d.Dispatch(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, IsValidation(err))
			assert.Empty(t, rep.Outcomes)
			assert.Empty(t, sender.calls)
			assert.Empty(t, sink.entries)
		})
	}
}

func TestDispatch_IntervalErrorNamesConstraint(t *testing.T) {
	d, _, _ := newTestDispatcher(&scriptedSender{})
	_, err := d.Dispatch(context.Background(), Request{Message: "m", TargetIDs: []string{"a"}, Interval: 5 * time.Second, Token: "tok"})
	require.ErrorIs(t, err, ErrIntervalTooShort)
	assert.Contains(t, err.Error(), "5s")
	assert.Contains(t, err.Error(), "13s")
}

func TestDispatch_IgnoresCallerCancellation(t *testing.T) {
	sender := &scriptedSender{}
	d, _, clock := newTestDispatcher(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := d.Dispatch(ctx, Request{Message: "m", TargetIDs: []string{"a", "b", "c"}, Interval: MinInterval, Token: "tok"})
	require.NoError(t, err)
	assert.Len(t, rep.Outcomes, 3)
	assert.Len(t, clock.sleeps, 2)
}

func TestDispatch_SerializesConcurrentBatches(t *testing.T) {
	sender := &scriptedSender{hold: 5 * time.Millisecond}
	d, _, _ := newTestDispatcher(sender)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			targets := []string{fmt.Sprintf("b%d-1", i), fmt.Sprintf("b%d-2", i)}
			rep, err := d.Dispatch(context.Background(), Request{Message: "m", TargetIDs: targets, Interval: MinInterval, Token: "tok"})
			assert.NoError(t, err)
			assert.Len(t, rep.Outcomes, 2)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), sender.maxSeen.Load())
	require.Len(t, sender.calls, 8)
	// Each batch's two targets are adjacent: batches never interleave.
	for i := 0; i < len(sender.calls); i += 2 {
		assert.Equal(t, strings.TrimSuffix(sender.calls[i], "-1"), strings.TrimSuffix(sender.calls[i+1], "-2"))
	}
}

func TestRealClockSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, realClock{}.Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, realClock{}.Sleep(ctx, time.Hour), context.Canceled)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "ação...", preview("açãoçõesxyz", 4))
}
