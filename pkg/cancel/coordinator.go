// Package cancel turns an operator interrupt into a cooperative stop.
//
// The Coordinator never touches sampling state. It forwards the interrupt to
// the job and closes a channel that the sampling loop checks before every
// wait; the loop decides when to stop.
package cancel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// notify and stopNotify allow tests to inject signals without raising real ones.
var (
	notify     = signal.Notify
	stopNotify = signal.Stop
)

// Coordinator forwards one interrupt to a job's processes and publishes the stop flag.
type Coordinator struct {
	root   int
	logger *slog.Logger

	mu      sync.Mutex
	members []int32
	sig     os.Signal

	done chan struct{}
	once sync.Once
}

// New returns a Coordinator for the job rooted at root.
func New(root int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{root: root, logger: logger, done: make(chan struct{})}
}

// Observe publishes the most recent membership. The slice is copied.
func (c *Coordinator) Observe(pids []int32) {
	cp := append([]int32(nil), pids...)
	c.mu.Lock()
	c.members = cp
	c.mu.Unlock()
}

// Done is closed once an interrupt has been received.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Stopped reports whether an interrupt has been received.
func (c *Coordinator) Stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Signal returns the interrupt that stopped the job, or nil.
func (c *Coordinator) Signal() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sig
}

// Interrupt raises the stop flag and forwards sig to the root and every pid of
// the last published membership. Only the first call has any effect. Pids that
// already exited are not errors; other delivery failures are collected.
func (c *Coordinator) Interrupt(sig os.Signal) error {
	var result error
	c.once.Do(func() {
		c.mu.Lock()
		c.sig = sig
		targets := c.targets()
		c.mu.Unlock()
		close(c.done)

		c.logger.Info("interrupt received, forwarding to job", slog.String("signal", sig.String()), slog.Int("targets", len(targets)))
		for _, pid := range targets {
			if err := sendSignal(pid, sig); err != nil {
				result = multierror.Append(result, &forwardError{pid: pid, err: err})
			}
		}
		if result != nil {
			c.logger.Warn("could not forward interrupt to every process", slog.Any("error", result))
		}
	})
	return result
}

// targets lists root first, then members, skipping init and ourselves. c.mu must be held.
func (c *Coordinator) targets() []int {
	self := os.Getpid()
	seen := map[int]struct{}{}
	out := make([]int, 0, len(c.members)+1)
	add := func(pid int) {
		if pid <= 1 || pid == self {
			return
		}
		if _, ok := seen[pid]; ok {
			return
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	add(c.root)
	rest := make([]int, 0, len(c.members))
	for _, pid := range c.members {
		rest = append(rest, int(pid))
	}
	sort.Ints(rest)
	for _, pid := range rest {
		add(pid)
	}
	return out
}

// Watch waits for one of sigs and calls Interrupt. It returns when that
// happens or ctx is done; later signals then get their default handling.
func (c *Coordinator) Watch(ctx context.Context, sigs ...os.Signal) error {
	ch := make(chan os.Signal, 1)
	notify(ch, sigs...)
	defer stopNotify(ch)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-ch:
		// Forwarding is best effort; a failure must not fail the job.
		_ = c.Interrupt(sig)
		return nil
	}
}

type forwardError struct {
	pid int
	err error
}

func (e *forwardError) Error() string {
	return fmt.Sprintf("signal pid %d: %v", e.pid, e.err)
}

func (e *forwardError) Unwrap() error { return e.err }
