package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srodi/memwatch/pkg/collector/memory"
	"github.com/srodi/memwatch/pkg/config"
	"github.com/srodi/memwatch/pkg/job"
	"github.com/srodi/memwatch/pkg/metrics"
	"github.com/srodi/memwatch/pkg/report"
	"github.com/srodi/memwatch/pkg/sampler"
	"github.com/srodi/memwatch/pkg/types"
	"github.com/srodi/memwatch/pkg/ui"
)

const (
	exitUsage          = 1
	exitSamplingFailed = 2
	exitInterrupted    = 130
)

type runOptions struct {
	configPath      string
	intervalMs      int
	json            bool
	quiet           bool
	csvPath         string
	timelinePath    string
	exclude         string
	include         string
	source          string
	metricsTextfile string
	logLevel        string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] [--] COMMAND [ARGS...]",
		Short: "Run a command and report its peak memory",
		Example: `  memwatch run -- make -j8
  memwatch run -i 100 --json -- ./train.py --epochs 3
  memwatch run --csv procs.csv --timeline timeline.csv --exclude '^sh ' -- ./build.sh`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.IntVarP(&opts.intervalMs, "interval", "i", int(sampler.DefaultInterval/time.Millisecond), "sampling interval in milliseconds")
	f.BoolVar(&opts.json, "json", false, "print the report as JSON instead of the summary")
	f.BoolVar(&opts.quiet, "quiet", false, "print nothing on stdout (exports still run)")
	f.StringVar(&opts.csvPath, "csv", "", "write per-process peaks to this CSV file")
	f.StringVar(&opts.timelinePath, "timeline", "", "record total memory per sample and write it to this CSV file")
	f.StringVar(&opts.exclude, "exclude", "", "hide processes whose command matches this regex")
	f.StringVar(&opts.include, "include", "", "show only processes whose command matches this regex")
	f.StringVar(&opts.source, "source", "", "process table source: auto, procfs, ps or gopsutil")
	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics for node-exporter's textfile collector")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	return cmd
}

func runJob(cmd *cobra.Command, opts runOptions, argv []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	logger := cfg.NewLogger(os.Stderr)

	filter, err := report.NewFilterConfig(opts.include, opts.exclude)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	kind, err := memory.ParseSourceKind(cfg.Source)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	source, err := memory.NewSource(kind, memory.Options{CommandMaxLen: cfg.CommandMaxLen, Logger: logger})
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	deps := job.Deps{Source: source, Logger: logger}
	var recorder *metrics.Recorder
	if opts.metricsTextfile != "" {
		recorder = metrics.NewRecorder(prometheus.Labels{"command": filepath.Base(argv[0])})
		deps.Recorder = recorder
	}

	ctx := cmd.Context()
	rep, runErr := job.Run(ctx, cfg, argv, deps)
	if rep == nil {
		return &exitError{code: exitUsage, err: runErr}
	}

	view := report.NewView(*rep, filter)
	stdout := cmd.OutOrStdout()
	tty := isTerminal(stdout)

	switch {
	case opts.quiet:
	case opts.json:
		if err := report.WriteJSON(stdout, view, tty); err != nil {
			logger.Error("writing JSON report", slog.Any("error", err))
		}
	default:
		if tty {
			fmt.Fprint(stdout, ui.Banner())
		}
		total, err := memory.TotalMemoryKiB(ctx)
		if err != nil {
			logger.Debug("system memory unavailable", slog.Any("error", err))
		}
		if err := report.WriteSummary(stdout, view, report.SummaryOptions{TotalMemoryKiB: total, Color: tty}); err != nil {
			logger.Error("writing summary", slog.Any("error", err))
		}
	}

	exportErrs := exportAll(opts, view, recorder)
	if exportErrs != nil {
		logger.Error("export failed", slog.Any("error", exportErrs))
	}

	return exitFor(rep, runErr)
}

func loadConfig(cmd *cobra.Command, opts runOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.Interval = time.Duration(opts.intervalMs) * time.Millisecond
	}
	if flags.Changed("source") {
		cfg.Source = opts.source
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if opts.timelinePath != "" {
		cfg.Timeline = true
	}
	return cfg, cfg.Validate()
}

func exportAll(opts runOptions, view report.View, recorder *metrics.Recorder) error {
	var errs []error
	if opts.csvPath != "" {
		errs = append(errs, report.ExportProcessCSV(opts.csvPath, view))
	}
	if opts.timelinePath != "" {
		errs = append(errs, report.ExportTimelineCSV(opts.timelinePath, view))
	}
	if opts.metricsTextfile != "" {
		errs = append(errs, recorder.WriteTextfile(opts.metricsTextfile))
	}
	return errors.Join(errs...)
}

// exitFor mirrors the child's exit status; sampling failures override it.
func exitFor(rep *types.JobReport, runErr error) error {
	if errors.Is(runErr, types.ErrSamplingFailed) {
		return &exitError{code: exitSamplingFailed, err: runErr}
	}
	if runErr != nil {
		return &exitError{code: exitUsage, err: runErr}
	}
	switch {
	case rep.ExitCode != nil && *rep.ExitCode != 0:
		return &exitError{code: *rep.ExitCode}
	case rep.ExitCode == nil && rep.Cancelled:
		return &exitError{code: exitInterrupted}
	case rep.ExitCode == nil:
		return &exitError{code: exitUsage, err: errors.New("command was still running when sampling ended")}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
