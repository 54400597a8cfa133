// Package stats defines the delta-snapshot types supplied by the raw data
// collectors and the collector interfaces consumed by the profiler.
//
// The collectors own delta computation between polls: Collect reads the
// underlying counters, DeltaStats returns the change since the previous
// poll. The profiler never calls Collect; scheduling belongs to the
// dispatcher layer.
package stats

// MetricType indexes the I/O metric dimension of UIDIOStats.
type MetricType int

const (
	ReadBytes MetricType = iota
	WriteBytes
	FsyncCount
	MetricTypes // number of metric types
)

// UIDState indexes the foreground/background dimension of UIDIOStats.
type UIDState int

const (
	Foreground UIDState = iota
	Background
	UIDStates // number of UID states
)

// SystemState is the machine mode active while a pass runs. It is recorded
// on the pass, never altered by the profiler.
type SystemState int

const (
	NormalMode SystemState = iota
	GarageMode
)

func (s SystemState) String() string {
	if s == GarageMode {
		return "GARAGE_MODE"
	}
	return "NORMAL_MODE"
}

// UIDIOStats holds I/O deltas for one UID keyed by metric and UID state.
type UIDIOStats struct {
	Metrics [MetricTypes][UIDStates]uint64
}

// ProcessStats is the per-process slice of a UID's delta snapshot.
type ProcessStats struct {
	PID                 int32
	Command             string
	CPUTimeMillis       uint64
	CPUCycles           uint64
	TotalMajorFaults    uint64
	TotalTasksCount     uint64
	IOBlockedTasksCount uint64
}

// UIDProcStats aggregates the process-level counters owned by one UID.
type UIDProcStats struct {
	CPUCycles           uint64
	TotalMajorFaults    uint64
	TotalTasksCount     uint64
	IOBlockedTasksCount uint64
	ProcessStatsByPID   map[int32]ProcessStats
}

// UIDStats is one tracked entity's delta record for a single poll window.
type UIDStats struct {
	UID           uint32
	PackageName   string
	CPUTimeMillis uint64
	IOStats       UIDIOStats
	ProcStats     UIDProcStats
}

// CPUStats holds the system-wide per-mode CPU time deltas from /proc/stat,
// converted to milliseconds.
type CPUStats struct {
	UserTimeMillis      uint64
	NiceTimeMillis      uint64
	SysTimeMillis       uint64
	IdleTimeMillis      uint64
	IOWaitTimeMillis    uint64
	IRQTimeMillis       uint64
	SoftIRQTimeMillis   uint64
	StealTimeMillis     uint64
	GuestTimeMillis     uint64
	GuestNiceTimeMillis uint64
}

// ProcStatInfo is the system-wide delta record for a single poll window.
type ProcStatInfo struct {
	CPUStats              CPUStats
	ContextSwitchesCount  uint64
	RunnableProcessCount  uint32
	IOBlockedProcessCount uint32
}

// TotalCPUTimeMillis sums every CPU mode. Guest time is already accounted
// in user/nice on Linux, so it is excluded to avoid double counting.
func (p ProcStatInfo) TotalCPUTimeMillis() uint64 {
	c := p.CPUStats
	return c.UserTimeMillis + c.NiceTimeMillis + c.SysTimeMillis + c.IdleTimeMillis +
		c.IOWaitTimeMillis + c.IRQTimeMillis + c.SoftIRQTimeMillis + c.StealTimeMillis
}

// TotalProcessCount returns runnable plus I/O blocked processes.
func (p ProcStatInfo) TotalProcessCount() uint32 {
	return p.RunnableProcessCount + p.IOBlockedProcessCount
}

// UIDStatsCollector produces per-UID delta snapshots.
type UIDStatsCollector interface {
	// Collect refreshes the underlying counters and recomputes deltas.
	Collect() error
	// DeltaStats returns the per-UID deltas computed by the latest Collect.
	DeltaStats() []UIDStats
}

// ProcStatCollector produces the system-wide delta snapshot.
type ProcStatCollector interface {
	Collect() error
	DeltaStats() ProcStatInfo
}
