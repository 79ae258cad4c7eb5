// Package tree decides which processes of a snapshot belong to a job.
//
// Membership is decided by walking each process's parent chain until it
// reaches the job root. Walks are iterative and bounded so that corrupted
// or cyclic parent data cannot hang the caller. Nothing is remembered
// between calls: a process whose parent exits and gets reparented to init
// stops being a member on the next snapshot.
package tree

import (
	"sort"

	"github.com/srodi/memwatch/pkg/types"
)

// DefaultMaxDepth bounds how many parent links a single walk may follow.
const DefaultMaxDepth = 1024

// Membership is the set of pids judged to belong to a job for one snapshot.
type Membership struct {
	pids map[int32]struct{}
}

// Contains reports whether pid is a member.
func (m Membership) Contains(pid int32) bool {
	_, ok := m.pids[pid]
	return ok
}

// Len is the number of members.
func (m Membership) Len() int { return len(m.pids) }

// PIDs returns the members in ascending order.
func (m Membership) PIDs() []int32 {
	out := make([]int32, 0, len(m.pids))
	for pid := range m.pids {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members returns the samples of snap that are members, ordered by pid.
func (m Membership) Members(snap types.Snapshot) []types.ProcessSample {
	out := make([]types.ProcessSample, 0, len(m.pids))
	for _, p := range snap.Processes {
		if m.Contains(p.PID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Resolve returns the pids of snap that are root or descend from root within
// maxDepth parent links. The root is a member whenever it is present, whatever
// its own parent says. maxDepth <= 0 uses DefaultMaxDepth.
func Resolve(snap types.Snapshot, root int32, maxDepth int) Membership {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	w := walker{
		root:     root,
		maxDepth: maxDepth,
		parents:  snap.ParentIndex(),
		distance: make(map[int32]int),
		outside:  make(map[int32]struct{}),
	}
	m := Membership{pids: make(map[int32]struct{})}
	for pid := range w.parents {
		if w.isMember(pid) {
			m.pids[pid] = struct{}{}
		}
	}
	return m
}

// walker memoizes, for one Resolve call, each settled pid's distance to the
// root and the pids whose chain can never reach it (leaves the snapshot or loops).
// Chains cut off by the depth bound are not memoized so the answer does not
// depend on the order pids are visited.
type walker struct {
	root     int32
	maxDepth int
	parents  map[int32]int32
	distance map[int32]int
	outside  map[int32]struct{}
}

func (w *walker) isMember(pid int32) bool {
	path := make([]int32, 0, 16)
	onPath := make(map[int32]struct{}, 16)
	cur := pid

	for depth := 0; ; depth++ {
		if cur == w.root {
			w.settle(path, depth)
			return true
		}
		if d, ok := w.distance[cur]; ok {
			w.settle(path, depth+d)
			return depth+d <= w.maxDepth
		}
		if _, ok := w.outside[cur]; ok {
			w.exclude(path)
			return false
		}
		if _, loop := onPath[cur]; loop {
			w.exclude(path)
			return false
		}
		if depth >= w.maxDepth {
			return false
		}
		parent, ok := w.parents[cur]
		if !ok {
			w.exclude(path)
			return false
		}
		path = append(path, cur)
		onPath[cur] = struct{}{}
		cur = parent
	}
}

// settle records distances for a path whose first element is total links from the root.
func (w *walker) settle(path []int32, total int) {
	for i, p := range path {
		w.distance[p] = total - i
	}
}

func (w *walker) exclude(path []int32) {
	for _, p := range path {
		w.outside[p] = struct{}{}
	}
}
