package job

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/srodi/memwatch/pkg/cancel"
	"github.com/srodi/memwatch/pkg/collector/memory"
	"github.com/srodi/memwatch/pkg/config"
	"github.com/srodi/memwatch/pkg/sampler"
	"github.com/srodi/memwatch/pkg/types"
)

// exitWait bounds how long Run waits for a child that outlives sampling,
// e.g. one that ignores a forwarded interrupt.
const exitWait = 2 * time.Second

// Deps are the collaborators of one job run.
type Deps struct {
	Source   memory.Source
	Logger   *slog.Logger
	Recorder sampler.Recorder
	// Signals trigger cancellation; empty means SIGINT and SIGTERM.
	Signals []os.Signal
	// Spawn overrides how the command is started.
	Spawn func(argv []string) (sampler.Child, error)
}

func spawnChild(argv []string) (sampler.Child, error) {
	c, err := Spawn(argv)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Run starts argv and samples it until it and its descendants are gone or an
// interrupt arrives. Spawn failures return no report. A sampling failure
// returns the partial report along with the error.
func Run(ctx context.Context, cfg config.Config, argv []string, deps Deps) (*types.JobReport, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	spawn := deps.Spawn
	if spawn == nil {
		spawn = spawnChild
	}
	sigs := deps.Signals
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	child, err := spawn(argv)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	logger.Info("started job", slog.Int("pid", child.Pid()), slog.Any("command", argv))

	coord := cancel.New(child.Pid(), logger)
	engine := sampler.NewEngine(deps.Source, cfg.Sampler(),
		sampler.WithLogger(logger),
		sampler.WithRecorder(deps.Recorder),
		sampler.WithCanceller(coord),
		sampler.WithRunID(runID),
	)

	var report *types.JobReport
	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)

	g.Go(func() error {
		err := coord.Watch(watchCtx, sigs...)
		if ctx.Err() != nil {
			// The caller gave up on the job: treat it like an operator interrupt.
			_ = coord.Interrupt(os.Interrupt)
		}
		return err
	})
	g.Go(func() error {
		defer stopWatch()
		var err error
		report, err = engine.Run(ctx, child, argv)
		return err
	})
	runErr := g.Wait()

	if report != nil && report.ExitCode == nil {
		if code, ok := awaitExit(child); ok {
			report.ExitCode = &code
		} else {
			logger.Warn("job still running after sampling ended", slog.Int("pid", child.Pid()))
		}
	}
	if report != nil {
		logger.Info("job finished",
			slog.Uint64("samples", uint64(report.SampleCount)),
			slog.Uint64("peak_rss_kib", report.MaxTotalRSSKiB),
			slog.Bool("cancelled", report.Cancelled))
	}
	return report, runErr
}

func awaitExit(child sampler.Child) (int, bool) {
	timer := time.NewTimer(exitWait)
	defer timer.Stop()
	select {
	case <-child.Done():
		return child.ExitCode()
	case <-timer.C:
		return 0, false
	}
}
