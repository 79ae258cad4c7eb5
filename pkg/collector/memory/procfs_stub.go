//go:build !linux
// +build !linux

package memory

import (
	"context"

	"github.com/srodi/memwatch/pkg/types"
)

// ProcfsSource is a placeholder on platforms without /proc.
type ProcfsSource struct{}

// NewProcfsSource returns an error because procfs is only read on Linux.
func NewProcfsSource(Options) (*ProcfsSource, error) {
	return nil, types.NewError(types.KindSourceUnavailable, "opening procfs", errUnsupported)
}

// Name identifies the source in logs.
func (s *ProcfsSource) Name() string { return string(SourceProcfs) }

// Snapshot always fails on unsupported platforms.
func (s *ProcfsSource) Snapshot(context.Context) (types.Snapshot, error) {
	return types.Snapshot{}, types.NewError(types.KindSourceUnavailable, "procfs snapshot", errUnsupported)
}
