package memory

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/srodi/memwatch/pkg/types"
)

// psRunner allows tests to stub the ps invocation.
var psRunner = func(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "ps", "-axo", "pid,ppid,rss,command").Output()
}

// PsSource reads the process table through ps(1). BSD and macOS ps report rss in KiB.
type PsSource struct {
	maxLen int
	logger *slog.Logger
}

// NewPsSource returns a ps-backed Source.
func NewPsSource(opts Options) *PsSource {
	opts = opts.withDefaults()
	return &PsSource{maxLen: opts.CommandMaxLen, logger: opts.Logger}
}

// Name identifies the source in logs.
func (s *PsSource) Name() string { return string(SourcePs) }

// Snapshot runs ps once and parses its table.
func (s *PsSource) Snapshot(ctx context.Context) (types.Snapshot, error) {
	out, err := psRunner(ctx)
	if err != nil {
		return types.Snapshot{}, types.NewError(types.KindSourceUnavailable, "running ps", err)
	}
	taken := time.Now()
	procs, malformed := parsePsOutput(string(out), s.maxLen)
	if malformed > 0 {
		s.logger.Debug("dropped malformed ps rows", slog.Int("count", malformed))
	}
	return types.Snapshot{Taken: taken, Processes: procs, Malformed: malformed}, nil
}

// parsePsOutput parses "PID PPID RSS COMMAND" rows after the header line.
// Rows whose numeric columns do not parse are dropped and counted.
func parsePsOutput(output string, maxLen int) ([]types.ProcessSample, int) {
	var (
		procs     []types.ProcessSample
		malformed int
		header    = true
	)
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if header {
			header = false
			continue
		}
		sample, err := parsePsLine(line, maxLen)
		if err != nil {
			malformed++
			continue
		}
		procs = append(procs, sample)
	}
	return procs, malformed
}

func parsePsLine(line string, maxLen int) (types.ProcessSample, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return types.ProcessSample{}, fmt.Errorf("%w: %d columns in %q", types.ErrRecordParse, len(fields), line)
	}
	pid, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return types.ProcessSample{}, fmt.Errorf("%w: pid: %v", types.ErrRecordParse, err)
	}
	ppid, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return types.ProcessSample{}, fmt.Errorf("%w: ppid: %v", types.ErrRecordParse, err)
	}
	rss, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return types.ProcessSample{}, fmt.Errorf("%w: rss: %v", types.ErrRecordParse, err)
	}
	return types.ProcessSample{
		PID:     int32(pid),
		PPID:    int32(ppid),
		RSSKiB:  rss,
		Command: commandLabel(strings.Join(fields[3:], " "), "", int32(pid), maxLen),
	}, nil
}
