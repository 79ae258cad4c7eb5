package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/memwatch/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(pid, ppid int32, rss uint64) types.ProcessSample {
	return types.ProcessSample{PID: pid, PPID: ppid, RSSKiB: rss, Command: "cmd"}
}

func TestApplyChildReplacedByGrandchild(t *testing.T) {
	s := NewState(t0, true)
	tick1 := t0.Add(10 * time.Millisecond)
	tick2 := t0.Add(510 * time.Millisecond)

	s.Apply(Tick{Timestamp: tick1, Members: []types.ProcessSample{sample(100, 1, 1000), sample(101, 100, 2000)}})
	s.Apply(Tick{Timestamp: tick2, Members: []types.ProcessSample{sample(100, 1, 1200), sample(102, 100, 5000)}})

	r := s.Report(Meta{Command: []string{"make"}, End: tick2, Interval: 500 * time.Millisecond})

	assert.Equal(t, uint64(6200), r.MaxTotalRSSKiB)
	assert.Equal(t, uint32(2), r.MaxTotalSampleIndex)
	require.NotNil(t, r.MaxTotalTime)
	assert.Equal(t, tick2, *r.MaxTotalTime)
	assert.Equal(t, uint32(2), r.SampleCount)
	assert.False(t, r.LowSampleCount)
	assert.Equal(t, uint32(500), r.IntervalMs)
	assert.InDelta(t, 0.51, r.DurationSeconds, 1e-9)

	require.Len(t, r.Processes, 3)
	peaks := map[int32]uint64{}
	for _, p := range r.Processes {
		peaks[p.PID] = p.MaxRSSKiB
	}
	assert.Equal(t, map[int32]uint64{100: 1200, 101: 2000, 102: 5000}, peaks)

	// Sorted by peak descending.
	assert.Equal(t, int32(102), r.Processes[0].PID)
	assert.Equal(t, int32(101), r.Processes[1].PID)

	var child types.ProcessRecord
	for _, p := range r.Processes {
		if p.PID == 101 {
			child = p
		}
	}
	assert.Equal(t, tick1, child.FirstSeen)
	assert.Equal(t, tick1, child.LastSeen)
	assert.Equal(t, uint32(1), child.SampleCount)

	require.Len(t, r.Timeline, 2)
	assert.Equal(t, uint64(3000), r.Timeline[0].TotalRSSKiB)
	assert.Equal(t, uint64(6200), r.Timeline[1].TotalRSSKiB)
	assert.Equal(t, 2, r.Timeline[1].ProcessCount)
	assert.InDelta(t, 0.51, r.Timeline[1].ElapsedSeconds, 1e-9)
}

func TestApplyTracksLastObservedParentAndPeakTime(t *testing.T) {
	s := NewState(t0, false)
	s.Apply(Tick{Timestamp: t0.Add(1), Members: []types.ProcessSample{{PID: 5, PPID: 4, RSSKiB: 10, Command: "sh"}}})
	s.Apply(Tick{Timestamp: t0.Add(2), Members: []types.ProcessSample{{PID: 5, PPID: 3, RSSKiB: 30, Command: "python"}}})
	s.Apply(Tick{Timestamp: t0.Add(3), Members: []types.ProcessSample{{PID: 5, PPID: 3, RSSKiB: 20, Command: "python"}}})

	r := s.Report(Meta{End: t0.Add(3)})
	require.Len(t, r.Processes, 1)
	rec := r.Processes[0]
	assert.Equal(t, int32(3), rec.PPID)
	assert.Equal(t, "python", rec.Command)
	assert.Equal(t, uint64(30), rec.MaxRSSKiB)
	assert.Equal(t, t0.Add(2), rec.PeakTime)
	assert.Equal(t, t0.Add(1), rec.FirstSeen)
	assert.Equal(t, t0.Add(3), rec.LastSeen)
	assert.Equal(t, uint32(3), rec.SampleCount)
	assert.Nil(t, r.Timeline)
}

func TestApplyEmptyAndZeroRSSTicks(t *testing.T) {
	s := NewState(t0, true)
	s.Apply(Tick{Timestamp: t0.Add(1)})
	// A zombie with zero rss is still a member and still listed.
	s.Apply(Tick{Timestamp: t0.Add(2), Members: []types.ProcessSample{sample(9, 1, 0)}})

	r := s.Report(Meta{End: t0.Add(2)})
	assert.Equal(t, uint64(0), r.MaxTotalRSSKiB)
	assert.Equal(t, uint32(1), r.MaxTotalSampleIndex)
	assert.Len(t, r.Processes, 1)
	assert.Equal(t, 0, r.Timeline[0].ProcessCount)
	assert.Equal(t, 1, r.Timeline[1].ProcessCount)

	total, members := s.Last()
	assert.Zero(t, total)
	assert.Equal(t, 1, members)
}

func TestReportWithoutSamples(t *testing.T) {
	s := NewState(t0, false)
	code := 3
	r := s.Report(Meta{End: t0.Add(-time.Second), ExitCode: &code, Cancelled: true, DroppedRecords: 4})

	assert.Zero(t, r.SampleCount)
	assert.True(t, r.LowSampleCount)
	assert.Nil(t, r.MaxTotalTime)
	assert.Equal(t, t0, r.EndTime, "end never precedes start")
	assert.Zero(t, r.DurationSeconds)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, 3, *r.ExitCode)
	assert.True(t, r.Cancelled)
	assert.Equal(t, uint64(4), r.DroppedRecords)
	assert.NotNil(t, r.Processes)
	assert.Empty(t, r.Processes)

	code = 9
	assert.Equal(t, 3, *r.ExitCode, "report does not alias meta")
}

func TestReportDoesNotAliasState(t *testing.T) {
	s := NewState(t0, true)
	s.Apply(Tick{Timestamp: t0.Add(1), Members: []types.ProcessSample{sample(1, 0, 10)}})
	r := s.Report(Meta{End: t0.Add(1)})

	s.Apply(Tick{Timestamp: t0.Add(2), Members: []types.ProcessSample{sample(1, 0, 99)}})
	assert.Equal(t, uint64(10), r.Processes[0].MaxRSSKiB)
	assert.Len(t, r.Timeline, 1)
}

// Peak invariants hold for arbitrary tick sequences.
func TestPeakInvariantsRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		s := NewState(t0, false)
		var wantTotal uint64
		var wantIdx uint32
		wantPeak := map[int32]uint64{}
		prevPeak := map[int32]uint64{}

		ticks := 1 + rng.Intn(30)
		for i := 0; i < ticks; i++ {
			var members []types.ProcessSample
			var total uint64
			for pid := int32(1); pid <= 8; pid++ {
				if rng.Intn(3) == 0 {
					continue
				}
				rss := uint64(rng.Intn(10000))
				members = append(members, sample(pid, 0, rss))
				total += rss
				if prev, seen := wantPeak[pid]; !seen || rss > prev {
					wantPeak[pid] = rss
				}
			}
			if i == 0 || total > wantTotal {
				wantTotal = total
				wantIdx = uint32(i + 1)
			}
			s.Apply(Tick{Timestamp: t0.Add(time.Duration(i+1) * time.Millisecond), Members: members})

			r := s.Report(Meta{End: t0.Add(time.Duration(i+1) * time.Millisecond)})
			for _, p := range r.Processes {
				if p.MaxRSSKiB < prevPeak[p.PID] {
					t.Fatalf("round %d tick %d: pid %d peak decreased %d -> %d", round, i, p.PID, prevPeak[p.PID], p.MaxRSSKiB)
				}
				prevPeak[p.PID] = p.MaxRSSKiB
			}
		}

		r := s.Report(Meta{End: t0.Add(time.Hour)})
		if r.MaxTotalRSSKiB != wantTotal || r.MaxTotalSampleIndex != wantIdx {
			t.Fatalf("round %d: expected total %d at %d, got %d at %d", round, wantTotal, wantIdx, r.MaxTotalRSSKiB, r.MaxTotalSampleIndex)
		}
		got := map[int32]uint64{}
		for _, p := range r.Processes {
			got[p.PID] = p.MaxRSSKiB
		}
		assert.Equal(t, wantPeak, got, "round %d", round)
	}
}
