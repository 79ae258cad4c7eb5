//go:build unix
// +build unix

package cancel

import (
	"syscall"
	"testing"
)

func TestSendSignalIgnoresExitedProcess(t *testing.T) {
	// Far above any pid_max, so the kernel answers ESRCH.
	if err := sendSignal(0x7ffffff0, syscall.SIGTERM); err != nil {
		t.Fatalf("expected exited pid to be ignored, got %v", err)
	}
}
