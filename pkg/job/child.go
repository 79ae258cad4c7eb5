// Package job starts a command and samples it until it is gone.
package job

import (
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/srodi/memwatch/pkg/types"
)

// ExecChild is a started command. Its Done channel closes after the process
// has been waited on.
type ExecChild struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	code    int
	exited  bool
	waitErr error
}

// Spawn starts argv with the caller's stdio and environment.
func Spawn(argv []string) (*ExecChild, error) {
	if len(argv) == 0 {
		return nil, types.NewError(types.KindSpawn, "spawn", errors.New("no command given"))
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return start(cmd)
}

func start(cmd *exec.Cmd) (*ExecChild, error) {
	if err := cmd.Start(); err != nil {
		return nil, types.NewError(types.KindSpawn, "spawn "+cmd.Path, err)
	}
	c := &ExecChild{cmd: cmd, done: make(chan struct{})}
	go c.wait()
	return c, nil
}

func (c *ExecChild) wait() {
	err := c.cmd.Wait()
	code := c.cmd.ProcessState.ExitCode()
	if code < 0 {
		// Killed by a signal: report it the way shells do.
		code = 128 + signalNumber(c.cmd.ProcessState)
	}

	c.mu.Lock()
	c.code = code
	c.exited = true
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		c.waitErr = err
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *ExecChild) Pid() int { return c.cmd.Process.Pid }

func (c *ExecChild) Done() <-chan struct{} { return c.done }

// ExitCode is valid once Done is closed.
func (c *ExecChild) ExitCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.exited
}

// Err reports a wait failure other than a non-zero exit.
func (c *ExecChild) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}
