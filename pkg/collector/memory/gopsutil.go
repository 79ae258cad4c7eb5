package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/srodi/memwatch/pkg/types"
)

// gopsutilProcess is the subset of *process.Process the source reads.
type gopsutilProcess interface {
	PpidWithContext(ctx context.Context) (int32, error)
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	CmdlineWithContext(ctx context.Context) (string, error)
	NameWithContext(ctx context.Context) (string, error)
}

type gopsutilEntry struct {
	pid  int32
	proc gopsutilProcess
}

// listProcesses allows tests to stub gopsutil's process enumeration.
var listProcesses = func(ctx context.Context) ([]gopsutilEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]gopsutilEntry, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, gopsutilEntry{pid: p.Pid, proc: p})
	}
	return entries, nil
}

// GopsutilSource reads the process table through gopsutil. It works on every
// platform gopsutil supports and is the fallback where no native source exists.
type GopsutilSource struct {
	maxLen int
	logger *slog.Logger
}

// NewGopsutilSource returns a gopsutil-backed Source.
func NewGopsutilSource(opts Options) *GopsutilSource {
	opts = opts.withDefaults()
	return &GopsutilSource{maxLen: opts.CommandMaxLen, logger: opts.Logger}
}

// Name identifies the source in logs.
func (s *GopsutilSource) Name() string { return string(SourceGopsutil) }

// Snapshot enumerates processes. A process whose parent or memory cannot be
// read has exited or is not ours to inspect, so it is left out.
func (s *GopsutilSource) Snapshot(ctx context.Context) (types.Snapshot, error) {
	entries, err := listProcesses(ctx)
	if err != nil {
		return types.Snapshot{}, types.NewError(types.KindSourceUnavailable, "listing processes", err)
	}
	snap := types.Snapshot{
		Taken:     time.Now(),
		Processes: make([]types.ProcessSample, 0, len(entries)),
	}
	for _, e := range entries {
		ppid, err := e.proc.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		mi, err := e.proc.MemoryInfoWithContext(ctx)
		if err != nil || mi == nil {
			continue
		}
		cmdline, _ := e.proc.CmdlineWithContext(ctx)
		var name string
		if cmdline == "" {
			name, _ = e.proc.NameWithContext(ctx)
		}
		snap.Processes = append(snap.Processes, types.ProcessSample{
			PID:     e.pid,
			PPID:    ppid,
			RSSKiB:  types.BytesToKiB(mi.RSS),
			Command: commandLabel(cmdline, name, e.pid, s.maxLen),
		})
	}
	return snap, nil
}
