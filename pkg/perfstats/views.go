// Package perfstats reduces raw per-UID and system-wide delta snapshots
// into bounded ranked summaries: per-metric top-N package lists with nested
// top process lists, system-wide aggregate totals, and the capacity-bounded
// record caches the profiler keeps per collection context.
package perfstats

import (
	"github.com/opencar/watchdogd/pkg/stats"
	"github.com/opencar/watchdogd/pkg/types"
)

// perUserRange is the UID span assigned to each user; UID/perUserRange is
// the user id shown in reports.
const perUserRange = 100000

// UserID extracts the user id component of a UID.
func UserID(uid uint32) uint32 { return uid / perUserRange }

// ProcStatType selects which process-level counter a UserPackageStats
// ranks by.
type ProcStatType int

const (
	CPUTime ProcStatType = iota
	IOBlockedTasksCount
	MajorFaults
)

// View is the metric-specific shape of a UserPackageStats. Exactly one of
// *IOStatsView, *ProcSingleStatsView, or *ProcCPUStatsView. A nil View is
// the explicit "never populated" sentinel used for unfilled top-N slots.
type View interface {
	// RankValue is the scalar the top-N ordering compares.
	RankValue() uint64
}

// IOStatsView ranks a package by total I/O bytes for one direction.
type IOStatsView struct {
	Bytes [stats.UIDStates]types.Bytes
	Fsync [stats.UIDStates]uint64
}

// TotalBytes sums foreground and background bytes, clamping on overflow.
func (v *IOStatsView) TotalBytes() uint64 {
	return uint64(v.Bytes[stats.Foreground].SaturatingAdd(v.Bytes[stats.Background]))
}

func (v *IOStatsView) RankValue() uint64 { return v.TotalBytes() }

// ProcessValue is one process entry in a ProcSingleStatsView ranking.
type ProcessValue struct {
	Command string
	Value   uint64
}

// ProcSingleStatsView ranks a package by a single scalar counter
// (I/O blocked tasks or major page faults) and carries that package's top
// processes by the same counter.
type ProcSingleStatsView struct {
	Value         uint64
	TopNProcesses []ProcessValue
}

func (v *ProcSingleStatsView) RankValue() uint64 { return v.Value }

// ProcessCPUValue is one process entry in a ProcCPUStatsView ranking.
type ProcessCPUValue struct {
	Command       string
	CPUTimeMillis uint64
	CPUCycles     uint64
}

// ProcCPUStatsView ranks a package by CPU time, carrying CPU cycles and the
// package's top processes by CPU time.
type ProcCPUStatsView struct {
	CPUTimeMillis uint64
	CPUCycles     uint64
	TopNProcesses []ProcessCPUValue
}

func (v *ProcCPUStatsView) RankValue() uint64 { return v.CPUTimeMillis }

// UserPackageStats is one tracked entity (package/user pair) for exactly
// one metric category.
type UserPackageStats struct {
	UID         uint32
	PackageName string
	View        View
}

// IsEmpty reports whether the stat was never populated. Empty stats occupy
// unfilled top-N slots and are trimmed before a list is finalized.
func (s UserPackageStats) IsEmpty() bool { return s.View == nil }

// RankValue returns the stat's ranking scalar; empty stats rank as zero.
func (s UserPackageStats) RankValue() uint64 {
	if s.View == nil {
		return 0
	}
	return s.View.RankValue()
}

// NewIOStats adapts a UID delta record into an I/O-ranked stat for the
// given direction (ReadBytes or WriteBytes). Fsync counts ride along for
// reporting but do not affect the ranking.
func NewIOStats(metric stats.MetricType, uid *stats.UIDStats) UserPackageStats {
	m := uid.IOStats.Metrics
	return UserPackageStats{
		UID:         uid.UID,
		PackageName: uid.PackageName,
		View: &IOStatsView{
			Bytes: [stats.UIDStates]types.Bytes{
				types.Bytes(m[metric][stats.Foreground]),
				types.Bytes(m[metric][stats.Background]),
			},
			Fsync: [stats.UIDStates]uint64{
				m[stats.FsyncCount][stats.Foreground],
				m[stats.FsyncCount][stats.Background],
			},
		},
	}
}

// NewProcStats adapts a UID delta record into a process-backed stat. The
// nested top-process ranking is computed eagerly here, from the full
// process list of the UID, independent of whether the package itself is
// later admitted to the outer top-N.
func NewProcStats(kind ProcStatType, uid *stats.UIDStats, topNProcesses int) UserPackageStats {
	s := UserPackageStats{UID: uid.UID, PackageName: uid.PackageName}
	if kind == CPUTime {
		s.View = &ProcCPUStatsView{
			CPUTimeMillis: uid.CPUTimeMillis,
			CPUCycles:     uid.ProcStats.CPUCycles,
			TopNProcesses: topNProcessCPUStats(uid, topNProcesses),
		}
		return s
	}
	value := uid.ProcStats.TotalMajorFaults
	if kind == IOBlockedTasksCount {
		value = uid.ProcStats.IOBlockedTasksCount
	}
	s.View = &ProcSingleStatsView{
		Value:         value,
		TopNProcesses: topNProcessSingleStats(kind, uid, topNProcesses),
	}
	return s
}

// topNProcessSingleStats ranks the UID's processes by the selected scalar,
// using the same admission rule as the package-level tracker.
func topNProcessSingleStats(kind ProcStatType, uid *stats.UIDStats, topN int) []ProcessValue {
	ranked := make([]ProcessValue, topN)
	cached := 0
	for _, proc := range uid.ProcStats.ProcessStatsByPID {
		value := proc.TotalMajorFaults
		if kind == IOBlockedTasksCount {
			value = proc.IOBlockedTasksCount
		}
		if value == 0 {
			continue
		}
		for i := range ranked {
			if value > ranked[i].Value {
				copy(ranked[i+1:], ranked[i:len(ranked)-1])
				ranked[i] = ProcessValue{Command: proc.Command, Value: value}
				cached++
				break
			}
		}
	}
	if cached > topN {
		cached = topN
	}
	return ranked[:cached]
}

func topNProcessCPUStats(uid *stats.UIDStats, topN int) []ProcessCPUValue {
	ranked := make([]ProcessCPUValue, topN)
	cached := 0
	for _, proc := range uid.ProcStats.ProcessStatsByPID {
		cpuTime := proc.CPUTimeMillis
		if cpuTime == 0 {
			continue
		}
		for i := range ranked {
			if cpuTime > ranked[i].CPUTimeMillis {
				copy(ranked[i+1:], ranked[i:len(ranked)-1])
				ranked[i] = ProcessCPUValue{
					Command:       proc.Command,
					CPUTimeMillis: cpuTime,
					CPUCycles:     proc.CPUCycles,
				}
				cached++
				break
			}
		}
	}
	if cached > topN {
		cached = topN
	}
	return ranked[:cached]
}
