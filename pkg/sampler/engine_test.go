package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/memwatch/pkg/types"
)

var errProcGone = types.NewError(types.KindSourceUnavailable, "test", errors.New("proc unreadable"))

type step struct {
	procs []types.ProcessSample
	err   error
}

// scriptedSource replays steps in order, then repeats last forever.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []step
	calls  int
	onCall func(n int)
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Snapshot(ctx context.Context) (types.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	st := s.steps[len(s.steps)-1]
	if n <= len(s.steps) {
		st = s.steps[n-1]
	}
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if st.err != nil {
		return types.Snapshot{}, st.err
	}
	return types.Snapshot{Taken: time.Now(), Processes: st.procs}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeChild struct {
	pid  int
	done chan struct{}
	once sync.Once
	code int
}

func newChild(pid int) *fakeChild {
	return &fakeChild{pid: pid, done: make(chan struct{})}
}

func (c *fakeChild) Pid() int              { return c.pid }
func (c *fakeChild) Done() <-chan struct{} { return c.done }
func (c *fakeChild) ExitCode() (int, bool) {
	select {
	case <-c.done:
		return c.code, true
	default:
		return 0, false
	}
}
func (c *fakeChild) exit(code int) {
	c.once.Do(func() {
		c.code = code
		close(c.done)
	})
}

type fakeCanceller struct {
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
	observed [][]int32
}

func newCanceller() *fakeCanceller { return &fakeCanceller{done: make(chan struct{})} }

func (c *fakeCanceller) Done() <-chan struct{} { return c.done }
func (c *fakeCanceller) Observe(pids []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed = append(c.observed, pids)
}
func (c *fakeCanceller) stop() { c.once.Do(func() { close(c.done) }) }

type countingRecorder struct {
	mu              sync.Mutex
	applied, skips  int
	dropped         int
	lastTotal, peak uint64
}

func (r *countingRecorder) TickApplied(total uint64, _ int, peak uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied++
	r.lastTotal, r.peak = total, peak
}
func (r *countingRecorder) TickSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips++
}
func (r *countingRecorder) RecordsDropped(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped += n
}

func root(rss uint64) types.ProcessSample {
	return types.ProcessSample{PID: 100, PPID: 1, RSSKiB: rss, Command: "make"}
}

func runWithTimeout(t *testing.T, e *Engine, child Child) (*types.JobReport, error) {
	t.Helper()
	type result struct {
		r   *types.JobReport
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := e.Run(context.Background(), child, []string{"make"})
		ch <- result{r, err}
	}()
	select {
	case res := <-ch:
		return res.r, res.err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not complete")
		return nil, nil
	}
}

func TestRunFollowsChildThroughDrain(t *testing.T) {
	child := newChild(100)
	src := &scriptedSource{steps: []step{
		{procs: []types.ProcessSample{root(1000), {PID: 101, PPID: 100, RSSKiB: 2000}}},
		{procs: []types.ProcessSample{root(1200), {PID: 102, PPID: 100, RSSKiB: 5000}}},
		// root reaped, a straggler still names it as parent
		{procs: []types.ProcessSample{{PID: 103, PPID: 100, RSSKiB: 700}}},
		{procs: nil},
	}}
	src.onCall = func(n int) {
		if n == 2 {
			child.exit(3)
		}
	}
	rec := &countingRecorder{}
	e := NewEngine(src, Config{Interval: 5 * time.Millisecond, DrainGrace: 50 * time.Millisecond, DrainTicks: 3, Timeline: true},
		WithRecorder(rec), WithRunID("run-1"))

	r, err := runWithTimeout(t, e, child)
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, e.Phase())
	assert.Equal(t, 4, src.Calls(), "drain stops once no member is left")
	assert.Equal(t, uint32(4), r.SampleCount)
	assert.Equal(t, uint64(6200), r.MaxTotalRSSKiB)
	assert.Equal(t, uint32(2), r.MaxTotalSampleIndex)
	assert.Len(t, r.Processes, 4)
	assert.Equal(t, "run-1", r.RunID)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, 3, *r.ExitCode)
	assert.False(t, r.Cancelled)
	assert.Equal(t, r.Timeline[len(r.Timeline)-1].Timestamp, r.EndTime)
	assert.Equal(t, 4, rec.applied)
	assert.Equal(t, uint64(6200), rec.peak)
}

func TestRunQuickExitKeepsFirstSample(t *testing.T) {
	child := newChild(100)
	child.exit(0)
	src := &scriptedSource{steps: []step{
		{procs: []types.ProcessSample{root(4096)}},
		{err: errProcGone},
	}}
	e := NewEngine(src, Config{Interval: time.Hour, DrainGrace: 10 * time.Millisecond, DrainTicks: 2})

	r, err := runWithTimeout(t, e, child)
	require.NoError(t, err, "drain failures are best effort")

	assert.Equal(t, uint32(1), r.SampleCount)
	assert.True(t, r.LowSampleCount)
	assert.Equal(t, uint64(4096), r.MaxTotalRSSKiB)
	assert.Equal(t, uint32(1), r.MaxTotalSampleIndex)
}

func TestRunEscalatesPersistentFailures(t *testing.T) {
	child := newChild(100)
	src := &scriptedSource{steps: []step{{err: errProcGone}}}
	rec := &countingRecorder{}
	e := NewEngine(src, Config{Interval: time.Millisecond, FailureThreshold: 3}, WithRecorder(rec))

	r, err := runWithTimeout(t, e, child)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSamplingFailed))
	assert.True(t, errors.Is(err, types.ErrSourceUnavailable))
	require.NotNil(t, r, "partial report accompanies the failure")
	assert.Zero(t, r.SampleCount)
	assert.Equal(t, 4, src.Calls())
	assert.Equal(t, 4, rec.skips)
	assert.Equal(t, PhaseCompleted, e.Phase())
}

func TestRunRecoversFromTransientFailures(t *testing.T) {
	child := newChild(100)
	src := &scriptedSource{steps: []step{
		{procs: []types.ProcessSample{root(100)}},
		{err: errProcGone},
		{err: errProcGone},
		{err: errProcGone},
		{procs: []types.ProcessSample{root(300)}},
		{err: errProcGone},
		{err: errProcGone},
		{procs: []types.ProcessSample{root(200)}},
	}}
	src.onCall = func(n int) {
		if n == 8 {
			child.exit(0)
		}
	}
	e := NewEngine(src, Config{Interval: 2 * time.Millisecond, FailureThreshold: 3, DrainGrace: 5 * time.Millisecond, DrainTicks: 1})

	r, err := runWithTimeout(t, e, child)
	require.NoError(t, err)
	// At least 3 successful ticks in sampling plus the exit-time sample.
	assert.GreaterOrEqual(t, r.SampleCount, uint32(4))
	assert.Equal(t, uint64(300), r.MaxTotalRSSKiB)
	assert.Equal(t, uint32(2), r.MaxTotalSampleIndex)
}

func TestRunStopsOnCancellationWithFinalTick(t *testing.T) {
	child := newChild(100)
	c := newCanceller()
	src := &scriptedSource{steps: []step{
		{procs: []types.ProcessSample{root(100), {PID: 101, PPID: 100, RSSKiB: 10}}},
	}}
	src.onCall = func(n int) {
		if n == 3 {
			c.stop()
		}
	}
	e := NewEngine(src, Config{Interval: time.Millisecond, Timeline: true}, WithCanceller(c))

	r, err := runWithTimeout(t, e, child)
	require.NoError(t, err)

	assert.True(t, r.Cancelled)
	assert.Equal(t, 4, src.Calls(), "one final tick after the stop is observed")
	assert.Equal(t, uint32(4), r.SampleCount)
	assert.Nil(t, r.ExitCode, "child still running")
	assert.Equal(t, r.Timeline[len(r.Timeline)-1].Timestamp, r.EndTime)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.observed, 4)
	assert.Equal(t, []int32{100, 101}, c.observed[3])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	child := newChild(100)
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{steps: []step{{procs: []types.ProcessSample{root(1)}}}}
	src.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	e := NewEngine(src, Config{Interval: time.Millisecond})

	r, err := e.Run(ctx, child, nil)
	require.NoError(t, err)
	assert.True(t, r.Cancelled)
	assert.Equal(t, 3, src.Calls())
}

func TestRunTimestampsStrictlyIncrease(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	child := newChild(100)
	src := &scriptedSource{steps: []step{{procs: []types.ProcessSample{root(1)}}}}
	src.onCall = func(n int) {
		if n == 5 {
			child.exit(0)
		}
	}
	e := NewEngine(src, Config{Interval: time.Millisecond, DrainTicks: 1, Timeline: true},
		WithClock(func() time.Time { return frozen }))

	r, err := runWithTimeout(t, e, child)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(r.Timeline), 2)
	for i := 1; i < len(r.Timeline); i++ {
		if !r.Timeline[i].Timestamp.After(r.Timeline[i-1].Timestamp) {
			t.Fatalf("tick %d timestamp %v not after %v", i, r.Timeline[i].Timestamp, r.Timeline[i-1].Timestamp)
		}
	}
	assert.False(t, r.EndTime.Before(r.StartTime))
}

func TestRunIsSingleUse(t *testing.T) {
	child := newChild(100)
	child.exit(0)
	src := &scriptedSource{steps: []step{{procs: nil}}}
	e := NewEngine(src, Config{Interval: time.Hour})

	_, err := runWithTimeout(t, e, child)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), child, nil)
	assert.ErrorIs(t, err, errEngineUsed)
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:      "idle",
		PhaseSpawned:   "spawned",
		PhaseSampling:  "sampling",
		PhaseDraining:  "draining",
		PhaseCompleted: "completed",
		Phase(42):      "phase(42)",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("%d: expected %q, got %q", int32(p), want, got)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultDrainGrace, cfg.DrainGrace)
	assert.Equal(t, DefaultDrainTicks, cfg.DrainTicks)
	assert.Equal(t, DefaultFailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, 1024, cfg.MaxDepth)
}
