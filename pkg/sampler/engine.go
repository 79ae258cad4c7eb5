// Package sampler drives the polling loop that turns process snapshots into
// job statistics.
//
// An Engine moves through Idle, Spawned, Sampling, Draining and Completed.
// It takes one sample as soon as it is handed a child, then one per interval
// until the child exits, then a short drain so straggling descendants are
// still counted. All aggregation happens on the goroutine that calls Run.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/srodi/memwatch/pkg/aggregate"
	"github.com/srodi/memwatch/pkg/collector/memory"
	"github.com/srodi/memwatch/pkg/tree"
	"github.com/srodi/memwatch/pkg/types"
)

const (
	DefaultInterval         = 500 * time.Millisecond
	DefaultDrainGrace       = 250 * time.Millisecond
	DefaultDrainTicks       = 2
	DefaultFailureThreshold = 3
)

// Phase is the engine's lifecycle position.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSpawned
	PhaseSampling
	PhaseDraining
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSpawned:
		return "spawned"
	case PhaseSampling:
		return "sampling"
	case PhaseDraining:
		return "draining"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

var errEngineUsed = errors.New("sampler: engine already ran")

// Child is the live handle of the spawned command.
type Child interface {
	Pid() int
	// Done is closed once the child has been waited on.
	Done() <-chan struct{}
	ExitCode() (int, bool)
}

// Canceller delivers the cooperative stop request and receives every tick's members.
type Canceller interface {
	Done() <-chan struct{}
	Observe(pids []int32)
}

// Recorder receives per-tick measurements.
type Recorder interface {
	TickApplied(totalKiB uint64, members int, peakKiB uint64)
	TickSkipped()
	RecordsDropped(n int)
}

// Config tunes the sampling loop. Zero values take the package defaults.
type Config struct {
	Interval   time.Duration
	DrainGrace time.Duration
	DrainTicks int
	// FailureThreshold is how many consecutive failed ticks are tolerated;
	// the next one is fatal.
	FailureThreshold int
	MaxDepth         int
	Timeline         bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.DrainTicks <= 0 {
		c.DrainTicks = DefaultDrainTicks
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = tree.DefaultMaxDepth
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithCanceller(c Canceller) Option {
	return func(e *Engine) {
		if c != nil {
			e.canceller = c
		}
	}
}

// WithClock replaces time.Now for tick timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// Engine samples one job. It is single use.
type Engine struct {
	cfg       Config
	source    memory.Source
	logger    *slog.Logger
	recorder  Recorder
	canceller Canceller
	now       func() time.Time
	runID     string

	phase atomic.Int32
	used  atomic.Bool

	// owned by Run
	state     *aggregate.State
	root      int32
	lastTick  time.Time
	members   int
	failures  int
	dropped   uint64
	cancelled bool
}

// NewEngine builds an Engine reading from source.
func NewEngine(source memory.Source, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		source:    source,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:  nopRecorder{},
		canceller: nopCanceller{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase reports where the engine is. Safe to call from any goroutine.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.logger.Debug("sampler phase", slog.String("phase", p.String()))
}

// Run samples child until it and its descendants are gone or a stop is
// requested, and returns the frozen report. When source failures persist past
// the threshold it returns the partial report together with an error matching
// types.ErrSamplingFailed.
func (e *Engine) Run(ctx context.Context, child Child, command []string) (*types.JobReport, error) {
	if !e.used.CompareAndSwap(false, true) {
		return nil, errEngineUsed
	}

	e.root = int32(child.Pid())
	start := e.now()
	e.state = aggregate.NewState(start, e.cfg.Timeline)
	e.lastTick = start
	e.setPhase(PhaseSpawned)
	e.logger.Info("sampling job", slog.Int("pid", child.Pid()), slog.Duration("interval", e.cfg.Interval), slog.String("source", e.source.Name()))

	e.setPhase(PhaseSampling)
	began := e.now()
	if err := e.sample(ctx); err != nil {
		return e.finish(child, command, err)
	}

	for {
		if e.stopRequested(ctx) {
			e.finalTick(ctx)
			return e.finish(child, command, nil)
		}

		wait := e.cfg.Interval - e.now().Sub(began)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.finalTick(ctx)
			return e.finish(child, command, nil)
		case <-e.canceller.Done():
			timer.Stop()
			e.finalTick(ctx)
			return e.finish(child, command, nil)
		case <-child.Done():
			timer.Stop()
			e.drain(ctx)
			return e.finish(child, command, nil)
		case <-timer.C:
		}

		began = e.now()
		if err := e.sample(ctx); err != nil {
			return e.finish(child, command, err)
		}
	}
}

// sample runs one tick in the Sampling phase. Failures skip the tick; the
// returned error is non-nil only once they exceed the threshold.
func (e *Engine) sample(ctx context.Context) error {
	err := e.tick(ctx)
	if err == nil {
		e.failures = 0
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	e.failures++
	e.recorder.TickSkipped()
	e.logger.Warn("skipping tick", slog.Int("consecutive_failures", e.failures), slog.Any("error", err))
	if e.failures > e.cfg.FailureThreshold {
		return types.NewError(types.KindSamplingFailed, "sampling", fmt.Errorf("%d consecutive failures: %w", e.failures, err))
	}
	return nil
}

// tick captures, resolves and applies one snapshot. A failed capture leaves
// the state untouched.
func (e *Engine) tick(ctx context.Context) error {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	membership := tree.Resolve(snap, e.root, e.cfg.MaxDepth)
	members := membership.Members(snap)

	ts := e.now()
	if !ts.After(e.lastTick) {
		ts = e.lastTick.Add(time.Nanosecond)
	}
	e.state.Apply(aggregate.Tick{Timestamp: ts, Members: members})
	e.lastTick = ts
	e.members = len(members)
	e.canceller.Observe(membership.PIDs())

	if snap.Malformed > 0 {
		e.dropped += uint64(snap.Malformed)
		e.recorder.RecordsDropped(snap.Malformed)
	}
	total, count := e.state.Last()
	e.recorder.TickApplied(total, count, e.state.MaxTotalRSSKiB())
	e.logger.Debug("tick applied",
		slog.Uint64("sample", uint64(e.state.SampleCount())),
		slog.Int("members", count),
		slog.Uint64("total_rss_kib", total))
	return nil
}

// bestEffort runs a tick whose failure is only logged.
func (e *Engine) bestEffort(ctx context.Context, what string) bool {
	if err := e.tick(ctx); err != nil {
		e.recorder.TickSkipped()
		e.logger.Warn("best-effort tick failed", slog.String("tick", what), slog.Any("error", err))
		return false
	}
	return true
}

// finalTick records the state at cancellation. It must run even when ctx is
// already done.
func (e *Engine) finalTick(ctx context.Context) {
	e.cancelled = true
	e.logger.Info("stop requested, taking final sample")
	e.bestEffort(context.WithoutCancel(ctx), "final")
}

// drain takes the exit-time sample and then a few more within the grace
// period, stopping early once no member is left.
func (e *Engine) drain(ctx context.Context) {
	e.setPhase(PhaseDraining)
	deadline := e.now().Add(e.cfg.DrainGrace)
	step := e.cfg.DrainGrace / time.Duration(e.cfg.DrainTicks)

	for i := 0; i < e.cfg.DrainTicks; i++ {
		if i > 0 {
			remaining := deadline.Sub(e.now())
			if remaining <= 0 {
				return
			}
			timer := time.NewTimer(min(step, remaining))
			select {
			case <-ctx.Done():
				timer.Stop()
				e.cancelled = true
				return
			case <-e.canceller.Done():
				timer.Stop()
				e.cancelled = true
				return
			case <-timer.C:
			}
		}
		if e.bestEffort(ctx, "drain") && e.members == 0 {
			return
		}
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-e.canceller.Done():
		return true
	default:
		return false
	}
}

func (e *Engine) finish(child Child, command []string, runErr error) (*types.JobReport, error) {
	meta := aggregate.Meta{
		RunID:          e.runID,
		Command:        command,
		End:            e.lastTick,
		Interval:       e.cfg.Interval,
		Cancelled:      e.cancelled,
		DroppedRecords: e.dropped,
	}
	select {
	case <-child.Done():
		if code, ok := child.ExitCode(); ok {
			meta.ExitCode = &code
		}
	default:
	}

	report := e.state.Report(meta)
	e.setPhase(PhaseCompleted)
	if report.LowSampleCount {
		e.logger.Info("job finished before a second sample; peak may be understated", slog.Uint64("samples", uint64(report.SampleCount)))
	}
	return &report, runErr
}

type nopRecorder struct{}

func (nopRecorder) TickApplied(uint64, int, uint64) {}
func (nopRecorder) TickSkipped()                    {}
func (nopRecorder) RecordsDropped(int)              {}

type nopCanceller struct{}

func (nopCanceller) Done() <-chan struct{} { return nil }
func (nopCanceller) Observe([]int32)       {}
