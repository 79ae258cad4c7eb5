//go:build !linux

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/srodi/memwatch/pkg/types"
)

func TestProcfsStubBehavior(t *testing.T) {
	if _, err := NewProcfsSource(Options{}); !errors.Is(err, errUnsupported) || !errors.Is(err, types.ErrSourceUnavailable) {
		t.Fatalf("expected unsupported source error, got %v", err)
	}

	var s ProcfsSource
	if snap, err := s.Snapshot(context.Background()); !errors.Is(err, types.ErrSourceUnavailable) || len(snap.Processes) != 0 {
		t.Fatalf("snapshot should fail with ErrSourceUnavailable, got snap=%v err=%v", snap, err)
	}
}
