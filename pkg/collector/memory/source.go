package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/srodi/memwatch/pkg/types"
)

// Source produces one whole-system observation of processes.
// Implementations must report RSS in KiB, omit processes they cannot access,
// and count (not fail on) malformed records.
type Source interface {
	Name() string
	Snapshot(ctx context.Context) (types.Snapshot, error)
}

// SourceKind names a Source implementation.
type SourceKind string

const (
	SourceAuto     SourceKind = "auto"
	SourceProcfs   SourceKind = "procfs"
	SourcePs       SourceKind = "ps"
	SourceGopsutil SourceKind = "gopsutil"
)

var errUnsupported = errors.New("process source not supported on " + runtime.GOOS)

// Options tune how a Source labels and reports processes.
type Options struct {
	// CommandMaxLen truncates command labels; zero uses types.DefaultCommandMaxLen.
	CommandMaxLen int
	// ProcMount overrides the procfs mount point (linux only).
	ProcMount string
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CommandMaxLen <= 0 {
		o.CommandMaxLen = types.DefaultCommandMaxLen
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// ParseSourceKind validates a configured source name.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SourceAuto, nil
	case SourceAuto, SourceProcfs, SourcePs, SourceGopsutil:
		return k, nil
	default:
		return "", fmt.Errorf("unknown process source %q (want auto, procfs, ps or gopsutil)", s)
	}
}

// NewSource builds the requested Source. SourceAuto picks the native one for this platform.
func NewSource(kind SourceKind, opts Options) (Source, error) {
	opts = opts.withDefaults()
	if kind == SourceAuto || kind == "" {
		kind = defaultKind(runtime.GOOS)
	}
	switch kind {
	case SourceProcfs:
		return NewProcfsSource(opts)
	case SourcePs:
		return NewPsSource(opts), nil
	case SourceGopsutil:
		return NewGopsutilSource(opts), nil
	default:
		return nil, fmt.Errorf("unknown process source %q", kind)
	}
}

func defaultKind(goos string) SourceKind {
	switch goos {
	case "linux":
		return SourceProcfs
	case "darwin", "freebsd", "openbsd", "netbsd", "dragonfly":
		return SourcePs
	default:
		return SourceGopsutil
	}
}
