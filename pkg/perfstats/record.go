package perfstats

import (
	"math"
	"time"

	"github.com/opencar/watchdogd/pkg/stats"
	"github.com/opencar/watchdogd/pkg/types"
)

// UserPackageSummaryStats is the per-pass reduction of every UID delta:
// five ranked lists plus the system-wide aggregates accumulated across all
// entities regardless of admission.
type UserPackageSummaryStats struct {
	TopNCPUTimes    []UserPackageStats
	TopNIOReads     []UserPackageStats
	TopNIOWrites    []UserPackageStats
	TopNIOBlocked   []UserPackageStats
	TopNMajorFaults []UserPackageStats

	TotalIOStats [stats.MetricTypes][stats.UIDStates]uint64
	// TaskCountByUID records total owned tasks for UIDs admitted to the
	// I/O blocked ranking; the blocked fraction is computed against it.
	TaskCountByUID map[uint32]uint64

	TotalCPUTimeMillis uint64
	TotalCPUCycles     uint64
	TotalMajorFaults   uint64
	// MajorFaultsPercentChange is relative to the previous pass in the
	// same collection context; zero on a context's first pass.
	MajorFaultsPercentChange float64
}

// AddIOStats accumulates one UID's I/O deltas into the totals with
// saturating addition.
func (u *UserPackageSummaryStats) AddIOStats(io *stats.UIDIOStats) {
	for m := stats.MetricType(0); m < stats.MetricTypes; m++ {
		for s := stats.UIDState(0); s < stats.UIDStates; s++ {
			u.TotalIOStats[m][s] = types.SaturatingAddU64(u.TotalIOStats[m][s], io.Metrics[m][s])
		}
	}
}

// SystemSummaryStats is the per-pass reduction of the system-wide proc
// stat delta.
type SystemSummaryStats struct {
	CPUIOWaitTimeMillis   uint64
	CPUIdleTimeMillis     uint64
	TotalCPUTimeMillis    uint64
	TotalCPUCycles        uint64
	ContextSwitchesCount  uint64
	IOBlockedProcessCount uint32
	TotalProcessCount     uint32
}

// Record is one completed collection pass. It is immutable once appended
// to a cache; only whole-cache clearing removes it.
type Record struct {
	Time               time.Time
	SystemState        stats.SystemState
	SystemSummary      SystemSummaryStats
	UserPackageSummary UserPackageSummaryStats
}

// Unbounded marks a cache whose size only explicit lifecycle events bound.
const Unbounded = math.MaxInt

// CollectionInfo is the record cache for one collection context, oldest
// record first.
type CollectionInfo struct {
	// MaxCacheSize caps Records; Unbounded disables sliding eviction.
	MaxCacheSize int
	Records      []Record
}

// Append adds a record, evicting the single oldest one first when the
// cache is at capacity. Size is therefore capped at MaxCacheSize, not
// MaxCacheSize-1.
func (c *CollectionInfo) Append(r Record) {
	if c.MaxCacheSize != Unbounded && len(c.Records) >= c.MaxCacheSize {
		c.Records = c.Records[1:]
	}
	c.Records = append(c.Records, r)
}

// Clear drops every cached record, keeping the capacity policy.
func (c *CollectionInfo) Clear() {
	c.Records = nil
}

// Duration is the wall-clock span covered by the cached records.
func (c *CollectionInfo) Duration() time.Duration {
	if len(c.Records) < 2 {
		return 0
	}
	return c.Records[len(c.Records)-1].Time.Sub(c.Records[0].Time)
}

// UserSwitchCollection is one user-switch event: its own unbounded record
// cache plus the (from, to) transition identity.
type UserSwitchCollection struct {
	CollectionInfo
	From int32
	To   int32
}
