package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
)

type recorder struct {
	mu  sync.Mutex
	ran []string
	err error
}

func (r *recorder) handle(_ context.Context, _ logr.Logger, task core.TaskInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, task.ID)
	return r.err
}

func (r *recorder) runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestScheduler(cond Conditions) (*Scheduler, *testingclock.FakeClock, *recorder) {
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	return New(clk, cond, rec.handle, Options{Concurrency: 2}, nil), clk, rec
}

func ordinary(id string) core.TaskInfo {
	return core.TaskInfo{
		ID:                       id,
		MinDelay:                 time.Hour,
		MaxDelay:                 23 * time.Hour,
		RequiresUnmeteredNetwork: true,
		RequiresCharging:         true,
		ReplaceExisting:          true,
	}
}

func TestMinDelay(t *testing.T) {
	s, clk, rec := newTestScheduler(StaticConditions{Unmetered: true, Charging: true})
	require.NoError(t, s.ScheduleOneOff(t.Context(), ordinary("a")))

	assert.Equal(t, 0, s.RunDue(t.Context()))
	clk.Step(time.Hour)
	assert.Equal(t, 1, s.RunDue(t.Context()))
	assert.Equal(t, []string{"a"}, rec.runs())
	assert.Empty(t, s.Pending())
}

func TestConstraintsWaitUntilDeadline(t *testing.T) {
	s, clk, rec := newTestScheduler(StaticConditions{Unmetered: false, Charging: true})
	require.NoError(t, s.ScheduleOneOff(t.Context(), ordinary("a")))

	clk.Step(22 * time.Hour)
	assert.Equal(t, 0, s.RunDue(t.Context()))

	clk.Step(time.Hour)
	assert.Equal(t, 1, s.RunDue(t.Context()))
	assert.Equal(t, []string{"a"}, rec.runs())
}

func TestForcedRunsImmediately(t *testing.T) {
	s, _, rec := newTestScheduler(StaticConditions{})
	require.NoError(t, s.ScheduleOneOff(t.Context(), core.TaskInfo{ID: "f", MaxDelay: time.Minute, ReplaceExisting: true}))
	assert.Equal(t, 1, s.RunDue(t.Context()))
	assert.Equal(t, []string{"f"}, rec.runs())
}

func TestReplaceExisting(t *testing.T) {
	s, _, _ := newTestScheduler(StaticConditions{})
	ctx := t.Context()

	first := ordinary("a")
	first.Payload = map[string]string{"v": "1"}
	require.NoError(t, s.ScheduleOneOff(ctx, first))

	keep := ordinary("a")
	keep.ReplaceExisting = false
	keep.Payload = map[string]string{"v": "2"}
	require.NoError(t, s.ScheduleOneOff(ctx, keep))
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, "1", s.Pending()[0].Payload["v"])

	replace := ordinary("a")
	replace.Payload = map[string]string{"v": "3"}
	require.NoError(t, s.ScheduleOneOff(ctx, replace))
	assert.Equal(t, "3", s.Pending()[0].Payload["v"])
}

func TestReschedule(t *testing.T) {
	s, clk, rec := newTestScheduler(StaticConditions{Unmetered: true, Charging: true})
	rec.err = ErrReschedule
	require.NoError(t, s.ScheduleOneOff(t.Context(), ordinary("a")))

	clk.Step(time.Hour)
	assert.Equal(t, 1, s.RunDue(t.Context()))
	require.Len(t, s.Pending(), 1)

	// Rescheduled with the original window, counted from now.
	assert.Equal(t, 0, s.RunDue(t.Context()))
	rec.err = nil
	clk.Step(time.Hour)
	assert.Equal(t, 1, s.RunDue(t.Context()))
	assert.Empty(t, s.Pending())
}

func TestFailedTaskIsDropped(t *testing.T) {
	s, _, rec := newTestScheduler(StaticConditions{})
	rec.err = errors.New("boom")
	require.NoError(t, s.ScheduleOneOff(t.Context(), core.TaskInfo{ID: "a", MaxDelay: time.Minute}))
	assert.Equal(t, 1, s.RunDue(t.Context()))
	assert.Empty(t, s.Pending())
}

func TestCancelAndValidation(t *testing.T) {
	var counts []int
	clk := testingclock.NewFakeClock(time.Now())
	s := New(clk, StaticConditions{}, (&recorder{}).handle, Options{OnPendingChanged: func(n int) { counts = append(counts, n) }}, nil)

	assert.Error(t, s.ScheduleOneOff(t.Context(), core.TaskInfo{}))
	assert.Error(t, s.ScheduleOneOff(t.Context(), core.TaskInfo{ID: "a", MinDelay: time.Hour, MaxDelay: time.Minute}))

	require.NoError(t, s.ScheduleOneOff(t.Context(), ordinary("a")))
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.Equal(t, []int{1, 0}, counts)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, rec := newTestScheduler(StaticConditions{})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// A zero min delay wakes the loop without a tick.
	require.NoError(t, s.ScheduleOneOff(ctx, core.TaskInfo{ID: "now", MaxDelay: time.Minute}))
	require.Eventually(t, func() bool { return len(rec.runs()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
