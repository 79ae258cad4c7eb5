//go:build unix
// +build unix

package cancel

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sendSignal allows tests to observe forwarding without signalling real processes.
var sendSignal = func(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = unix.SIGTERM
	}
	if err := unix.Kill(pid, s); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
