//go:build linux
// +build linux

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/srodi/memwatch/pkg/types"
)

// ProcfsSource reads the process table from /proc.
type ProcfsSource struct {
	fs     procfs.FS
	mount  string
	maxLen int
	logger *slog.Logger
}

// NewProcfsSource opens the procfs mount named in opts (default /proc).
func NewProcfsSource(opts Options) (*ProcfsSource, error) {
	opts = opts.withDefaults()
	mount := opts.ProcMount
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, types.NewError(types.KindSourceUnavailable, "opening "+mount, err)
	}
	return &ProcfsSource{fs: fs, mount: mount, maxLen: opts.CommandMaxLen, logger: opts.Logger}, nil
}

// Name identifies the source in logs.
func (s *ProcfsSource) Name() string { return string(SourceProcfs) }

// Snapshot lists every pid directory and reads stat and cmdline for each.
func (s *ProcfsSource) Snapshot(_ context.Context) (types.Snapshot, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return types.Snapshot{}, types.NewError(types.KindSourceUnavailable, "listing "+s.mount, err)
	}

	snap := types.Snapshot{
		Taken:     time.Now(),
		Processes: make([]types.ProcessSample, 0, len(procs)),
	}
	for _, p := range procs {
		sample, err := s.read(p)
		if err != nil {
			if vanished(err) {
				continue
			}
			snap.Malformed++
			s.logger.Debug("dropping malformed process record",
				slog.Int("pid", p.PID),
				slog.Any("error", types.NewError(types.KindRecordParse, "procfs", err)))
			continue
		}
		snap.Processes = append(snap.Processes, sample)
	}
	return snap, nil
}

func (s *ProcfsSource) read(p procfs.Proc) (types.ProcessSample, error) {
	stat, err := p.Stat()
	if err != nil {
		return types.ProcessSample{}, err
	}
	rss := stat.ResidentMemory()
	if rss < 0 {
		return types.ProcessSample{}, fmt.Errorf("negative rss %d for pid %d", rss, p.PID)
	}
	// Kernel threads and zombies have an empty cmdline; comm is used instead.
	var cmdline string
	if args, err := p.CmdLine(); err == nil {
		cmdline = strings.Join(args, " ")
	}
	return types.ProcessSample{
		PID:     int32(p.PID),
		PPID:    int32(stat.PPID),
		RSSKiB:  types.BytesToKiB(uint64(rss)),
		Command: commandLabel(cmdline, stat.Comm, int32(p.PID), s.maxLen),
	}, nil
}
