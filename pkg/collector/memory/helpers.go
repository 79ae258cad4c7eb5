package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"unicode/utf8"
)

// commandLabel picks the best available label for a process: its command
// line, else its comm, else pid-N. The result is cut to maxLen bytes.
func commandLabel(cmdline, comm string, pid int32, maxLen int) string {
	label := strings.TrimSpace(cmdline)
	if label == "" {
		label = strings.TrimSpace(string(bytes.TrimRight([]byte(comm), "\n")))
	}
	if label == "" {
		label = fmt.Sprintf("pid-%d", pid)
	}
	return truncate(label, maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// vanished reports errors that mean the process is gone or off-limits.
// Such processes are omitted from a snapshot rather than counted as malformed.
func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.ESRCH)
}
