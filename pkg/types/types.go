package types

import "time"

// Memory unit conversion factors. All memory inside memwatch is carried in KiB.
const (
	KiBPerMiB = 1024
	MiBPerGiB = 1024
	KiBPerGiB = KiBPerMiB * MiBPerGiB
)

// DefaultCommandMaxLen bounds the command label kept per process.
const DefaultCommandMaxLen = 512

// ProcessSample is one process's state at one instant.
type ProcessSample struct {
	PID     int32
	PPID    int32
	RSSKiB  uint64
	Command string
}

// Snapshot is every process a source could observe at one instant.
// Malformed counts records that were dropped because they could not be parsed.
type Snapshot struct {
	Taken     time.Time
	Processes []ProcessSample
	Malformed int
}

// ParentIndex maps each pid in the snapshot to its parent pid.
func (s Snapshot) ParentIndex() map[int32]int32 {
	idx := make(map[int32]int32, len(s.Processes))
	for _, p := range s.Processes {
		idx[p.PID] = p.PPID
	}
	return idx
}

// ProcessRecord accumulates what was seen of one pid while it was a job member.
type ProcessRecord struct {
	PID         int32     `json:"pid"`
	PPID        int32     `json:"ppid"`
	Command     string    `json:"command"`
	MaxRSSKiB   uint64    `json:"max_rss_kib"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	PeakTime    time.Time `json:"peak_time"`
	SampleCount uint32    `json:"sample_count"`
}

// TimelinePoint is the job-wide total for one tick.
type TimelinePoint struct {
	Timestamp      time.Time `json:"timestamp"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	TotalRSSKiB    uint64    `json:"total_rss_kib"`
	ProcessCount   int       `json:"process_count"`
}

// JobReport is the frozen result of one job. Renderers and exporters only read it.
type JobReport struct {
	RunID               string          `json:"run_id"`
	Command             []string        `json:"command"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             time.Time       `json:"end_time"`
	DurationSeconds     float64         `json:"duration_seconds"`
	IntervalMs          uint32          `json:"interval_ms"`
	MaxTotalRSSKiB      uint64          `json:"max_total_rss_kib"`
	MaxTotalSampleIndex uint32          `json:"max_total_sample_index"`
	MaxTotalTime        *time.Time      `json:"max_total_time,omitempty"`
	SampleCount         uint32          `json:"sample_count"`
	LowSampleCount      bool            `json:"low_sample_count"`
	Cancelled           bool            `json:"cancelled"`
	DroppedRecords      uint64          `json:"dropped_records"`
	ExitCode            *int            `json:"exit_code,omitempty"`
	Processes           []ProcessRecord `json:"processes"`
	Timeline            []TimelinePoint `json:"timeline,omitempty"`
}

// KiBToMiB converts KiB to MiB.
func KiBToMiB(kib uint64) float64 {
	return float64(kib) / KiBPerMiB
}

// KiBToGiB converts KiB to GiB.
func KiBToGiB(kib uint64) float64 {
	return float64(kib) / KiBPerGiB
}

// MiBToKiB converts whole MiB to KiB.
func MiBToKiB(mib uint64) uint64 {
	return mib * KiBPerMiB
}

// BytesToKiB truncates a byte count to whole KiB.
func BytesToKiB(b uint64) uint64 {
	return b / 1024
}
