package memory

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srodi/memwatch/pkg/types"
)

// virtualMemory allows tests to stub the system memory lookup.
var virtualMemory = mem.VirtualMemoryWithContext

// TotalMemoryKiB returns the total system memory in KiB.
// TODO: report the cgroup memory limit instead when running inside a container.
func TotalMemoryKiB(ctx context.Context) (uint64, error) {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading system memory: %w", err)
	}
	if vm == nil || vm.Total == 0 {
		return 0, fmt.Errorf("system memory total unavailable")
	}
	return types.BytesToKiB(vm.Total), nil
}
