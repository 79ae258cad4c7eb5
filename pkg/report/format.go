package report

import (
	"fmt"

	"github.com/srodi/memwatch/pkg/types"
)

const commandColumnWidth = 60

// FormatMemory renders KiB with the largest unit that keeps the value >= 1.
func FormatMemory(kib uint64) string {
	switch {
	case kib >= types.KiBPerGiB:
		return fmt.Sprintf("%.1f GiB", types.KiBToGiB(kib))
	case kib >= types.KiBPerMiB:
		return fmt.Sprintf("%.1f MiB", types.KiBToMiB(kib))
	default:
		return fmt.Sprintf("%d KiB", kib)
	}
}

// FormatDuration renders whole seconds as HH:MM:SS.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := uint64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func truncateCommand(cmd string, width int) string {
	r := []rune(cmd)
	if len(r) <= width {
		return cmd
	}
	return string(r[:width-3]) + "..."
}
