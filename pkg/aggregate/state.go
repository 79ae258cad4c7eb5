// Package aggregate owns the statistics accumulated over a job's ticks.
package aggregate

import (
	"sort"
	"time"

	"github.com/srodi/memwatch/pkg/types"
)

// Tick is one resolved observation: the job's members and when they were seen.
type Tick struct {
	Timestamp time.Time
	Members   []types.ProcessSample
}

// State is the live, single-writer accumulation of a job's ticks.
// It is not safe for concurrent use.
type State struct {
	start        time.Time
	maxTotal     uint64
	maxTotalIdx  uint32
	maxTotalTime time.Time
	samples      uint32
	records      map[int32]*types.ProcessRecord
	timeline     []types.TimelinePoint
	withTimeline bool
	lastTotal    uint64
	lastCount    int
}

// NewState starts accumulating for a job that started at start.
func NewState(start time.Time, timeline bool) *State {
	s := &State{
		start:        start,
		records:      make(map[int32]*types.ProcessRecord),
		withTimeline: timeline,
	}
	if timeline {
		s.timeline = make([]types.TimelinePoint, 0, 64)
	}
	return s
}

// Apply folds one tick into the state. Members with zero RSS (including
// zombies) still count toward the process list and the tick total.
func (s *State) Apply(t Tick) {
	var total uint64
	for _, p := range t.Members {
		total += p.RSSKiB
		rec, ok := s.records[p.PID]
		if !ok {
			s.records[p.PID] = &types.ProcessRecord{
				PID:         p.PID,
				PPID:        p.PPID,
				Command:     p.Command,
				MaxRSSKiB:   p.RSSKiB,
				FirstSeen:   t.Timestamp,
				LastSeen:    t.Timestamp,
				PeakTime:    t.Timestamp,
				SampleCount: 1,
			}
			continue
		}
		if p.RSSKiB > rec.MaxRSSKiB {
			rec.MaxRSSKiB = p.RSSKiB
			rec.PeakTime = t.Timestamp
		}
		rec.PPID = p.PPID
		rec.Command = p.Command
		rec.LastSeen = t.Timestamp
		rec.SampleCount++
	}

	s.samples++
	if s.samples == 1 || total > s.maxTotal {
		s.maxTotal = total
		s.maxTotalIdx = s.samples
		s.maxTotalTime = t.Timestamp
	}
	s.lastTotal = total
	s.lastCount = len(t.Members)

	if s.withTimeline {
		s.timeline = append(s.timeline, types.TimelinePoint{
			Timestamp:      t.Timestamp,
			ElapsedSeconds: t.Timestamp.Sub(s.start).Seconds(),
			TotalRSSKiB:    total,
			ProcessCount:   len(t.Members),
		})
	}
}

// SampleCount is the number of ticks applied so far.
func (s *State) SampleCount() uint32 { return s.samples }

// MaxTotalRSSKiB is the highest tick total seen so far.
func (s *State) MaxTotalRSSKiB() uint64 { return s.maxTotal }

// Last returns the total RSS and member count of the most recent tick.
func (s *State) Last() (totalKiB uint64, members int) { return s.lastTotal, s.lastCount }

// Meta carries the job facts the state does not track itself.
type Meta struct {
	RunID          string
	Command        []string
	End            time.Time
	Interval       time.Duration
	Cancelled      bool
	DroppedRecords uint64
	ExitCode       *int
}

// Report freezes the state into a JobReport. The state may keep being used;
// the report shares no memory with it.
func (s *State) Report(meta Meta) types.JobReport {
	end := meta.End
	if end.Before(s.start) {
		end = s.start
	}

	procs := make([]types.ProcessRecord, 0, len(s.records))
	for _, rec := range s.records {
		procs = append(procs, *rec)
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].MaxRSSKiB != procs[j].MaxRSSKiB {
			return procs[i].MaxRSSKiB > procs[j].MaxRSSKiB
		}
		return procs[i].PID < procs[j].PID
	})

	r := types.JobReport{
		RunID:               meta.RunID,
		Command:             append([]string(nil), meta.Command...),
		StartTime:           s.start,
		EndTime:             end,
		DurationSeconds:     end.Sub(s.start).Seconds(),
		IntervalMs:          uint32(meta.Interval / time.Millisecond),
		MaxTotalRSSKiB:      s.maxTotal,
		MaxTotalSampleIndex: s.maxTotalIdx,
		SampleCount:         s.samples,
		LowSampleCount:      s.samples < 2,
		Cancelled:           meta.Cancelled,
		DroppedRecords:      meta.DroppedRecords,
		Processes:           procs,
	}
	if s.samples > 0 {
		at := s.maxTotalTime
		r.MaxTotalTime = &at
	}
	if meta.ExitCode != nil {
		code := *meta.ExitCode
		r.ExitCode = &code
	}
	if s.withTimeline {
		r.Timeline = make([]types.TimelinePoint, len(s.timeline))
		copy(r.Timeline, s.timeline)
	}
	return r
}
