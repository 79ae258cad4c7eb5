package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// SummaryOptions controls the human-readable summary.
type SummaryOptions struct {
	// TotalMemoryKiB is the machine's RAM; zero omits the share-of-RAM figure.
	TotalMemoryKiB uint64
	Color          bool
}

type palette struct {
	heading, value, warn, dim *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		heading: mk(color.Bold),
		value:   mk(color.FgCyan, color.Bold),
		warn:    mk(color.FgYellow),
		dim:     mk(color.Faint),
	}
}

// WriteSummary prints the job summary and per-process peak table.
func WriteSummary(w io.Writer, v View, opts SummaryOptions) error {
	p := newPalette(opts.Color)
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s %s\n", p.heading.Sprint("Job:"), strings.Join(v.Command, " "))
	if v.RunID != "" {
		fmt.Fprintf(&b, "Run ID:          %s\n", p.dim.Sprint(v.RunID))
	}
	fmt.Fprintf(&b, "Duration:        %s\n", FormatDuration(v.DurationSeconds))
	fmt.Fprintf(&b, "Samples:         %d\n", v.SampleCount)
	if v.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code:       %d\n", *v.ExitCode)
	}
	b.WriteString("\n")

	procs := visible(v.Processes)
	if v.MaxTotalRSSKiB == 0 || len(procs) == 0 {
		fmt.Fprintf(&b, "Max total RSS:   %s (process exited too quickly to measure)\n", p.value.Sprint(FormatMemory(v.MaxTotalRSSKiB)))
		b.WriteString(p.warn.Sprint("\nNote: The command completed before memory could be sampled.\n"))
		b.WriteString("For very short-running commands, try using a shorter sampling interval (-i).\n")
	} else {
		fmt.Fprintf(&b, "Max total RSS:   %s%s\n", p.value.Sprint(FormatMemory(v.MaxTotalRSSKiB)), shareOfRAM(v.MaxTotalRSSKiB, opts.TotalMemoryKiB))
		if v.MaxTotalTime != nil {
			fmt.Fprintf(&b, "Peak at:         sample %d, %.1fs into the run\n", v.MaxTotalSampleIndex, v.MaxTotalTime.Sub(v.StartTime).Seconds())
		}
		top := procs[0]
		fmt.Fprintf(&b, "Max per process: %s (pid %d)\n", FormatMemory(top.MaxRSSKiB), top.PID)
		if v.LowSampleCount {
			b.WriteString(p.warn.Sprint("\nNote: fewer than two samples were taken; the peak may be understated.\n"))
			b.WriteString("Try a shorter sampling interval (-i).\n")
		}
	}

	if v.Cancelled {
		b.WriteString(p.warn.Sprint("\nInterrupted: statistics cover the run up to the interrupt.\n"))
	}
	if v.DroppedRecords > 0 {
		fmt.Fprintf(&b, "%s\n", p.dim.Sprintf("%d unreadable process records were skipped.", v.DroppedRecords))
	}
	if v.Filter != nil && v.FilteredProcessCount != nil && v.FilteredTotalRSSKiB != nil {
		fmt.Fprintf(&b, "\nFilter: %s (%d processes filtered out, %s total)\n",
			v.Filter.Describe(), *v.FilteredProcessCount, FormatMemory(*v.FilteredTotalRSSKiB))
	}

	if len(procs) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.heading.Sprint("Per-process peak RSS:"))
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  PID\tPPID\tPEAK RSS\tCOMMAND")
		for _, proc := range procs {
			fmt.Fprintf(tw, "  %d\t%d\t%s\t%s\n", proc.PID, proc.PPID, FormatMemory(proc.MaxRSSKiB), truncateCommand(proc.Command, commandColumnWidth))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func shareOfRAM(kib, total uint64) string {
	if total == 0 {
		return ""
	}
	return fmt.Sprintf(" (%.1f%% of system memory)", 100*float64(kib)/float64(total))
}
