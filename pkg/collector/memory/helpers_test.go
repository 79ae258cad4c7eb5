package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
)

func TestCommandLabelFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		cmdline  string
		comm     string
		pid      int32
		max      int
		expected string
	}{
		{"cmdline", "python train.py --epochs 3", "python", 10, 64, "python train.py --epochs 3"},
		{"commFallback", "", "kworker/0:1\n", 11, 64, "kworker/0:1"},
		{"blankComm", "  ", "   \n", 77, 64, "pid-77"},
		{"truncated", "abcdefghij", "", 1, 4, "abcd"},
		{"unlimited", "abcdefghij", "", 1, 0, "abcdefghij"},
	}
	for _, tc := range cases {
		if got := commandLabel(tc.cmdline, tc.comm, tc.pid, tc.max); got != tc.expected {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expected, got)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; cutting at 2 would split it.
	if got := truncate("aé", 2); got != "a" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
	if got := truncate("aé", 3); got != "aé" {
		t.Fatalf("expected full string, got %q", got)
	}
}

func TestVanished(t *testing.T) {
	cases := []struct {
		err      error
		expected bool
	}{
		{fs.ErrNotExist, true},
		{&fs.PathError{Op: "open", Path: "/proc/9/stat", Err: syscall.ENOENT}, true},
		{fmt.Errorf("read: %w", os.ErrPermission), true},
		{syscall.ESRCH, true},
		{errors.New("unexpected format"), false},
	}
	for _, tc := range cases {
		if got := vanished(tc.err); got != tc.expected {
			t.Fatalf("vanished(%v): expected %t, got %t", tc.err, tc.expected, got)
		}
	}
}
