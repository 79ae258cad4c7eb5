package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/srodi/memwatch/pkg/types"
)

var (
	processHeader  = []string{"pid", "ppid", "command", "max_rss_kib", "max_rss_mib", "first_seen", "last_seen"}
	timelineHeader = []string{"timestamp", "elapsed_seconds", "total_rss_kib", "total_rss_mib", "process_count"}

	errNoTimeline = errors.New("timeline was not recorded; enable it before the run")
)

// ExportProcessCSV writes one row per visible process to path.
func ExportProcessCSV(path string, v View) error {
	return writeFile(path, func(w io.Writer) error { return writeProcessCSV(w, v) })
}

// ExportTimelineCSV writes one row per tick to path.
func ExportTimelineCSV(path string, v View) error {
	if v.Timeline == nil {
		return fmt.Errorf("exporting timeline to %s: %w", path, errNoTimeline)
	}
	return writeFile(path, func(w io.Writer) error { return writeTimelineCSV(w, v) })
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		return errors.Join(fmt.Errorf("writing %s: %w", path, err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func writeProcessCSV(w io.Writer, v View) error {
	if v.Filter != nil && v.FilteredProcessCount != nil && v.FilteredTotalRSSKiB != nil {
		if _, err := fmt.Fprintf(w, "# Filter: %s (%d processes filtered out, %d KiB total)\n",
			v.Filter.Describe(), *v.FilteredProcessCount, *v.FilteredTotalRSSKiB); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(processHeader); err != nil {
		return err
	}
	for _, p := range visible(v.Processes) {
		if err := cw.Write([]string{
			strconv.Itoa(int(p.PID)),
			strconv.Itoa(int(p.PPID)),
			p.Command,
			strconv.FormatUint(p.MaxRSSKiB, 10),
			strconv.FormatFloat(types.KiBToMiB(p.MaxRSSKiB), 'f', 2, 64),
			p.FirstSeen.Format(time.RFC3339Nano),
			p.LastSeen.Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTimelineCSV(w io.Writer, v View) error {
	if v.Filter != nil {
		if _, err := fmt.Fprintf(w, "# Filter: %s\n# Note: total_rss_kib and process_count cover all processes; filtering only affects the process list\n",
			v.Filter.Describe()); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(timelineHeader); err != nil {
		return err
	}
	for _, pt := range v.Timeline {
		if err := cw.Write([]string{
			pt.Timestamp.Format(time.RFC3339Nano),
			strconv.FormatFloat(pt.ElapsedSeconds, 'f', 3, 64),
			strconv.FormatUint(pt.TotalRSSKiB, 10),
			strconv.FormatFloat(types.KiBToMiB(pt.TotalRSSKiB), 'f', 2, 64),
			strconv.Itoa(pt.ProcessCount),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
