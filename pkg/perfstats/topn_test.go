package perfstats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencar/watchdogd/pkg/stats"
)

func singleStat(uid uint32, name string, value uint64) UserPackageStats {
	return UserPackageStats{
		UID:         uid,
		PackageName: name,
		View:        &ProcSingleStatsView{Value: value},
	}
}

func rankValues(topN []UserPackageStats) []uint64 {
	out := make([]uint64, len(topN))
	for i, s := range topN {
		out[i] = s.RankValue()
	}
	return out
}

func TestCacheTopN_FillsSentinelSlots(t *testing.T) {
	topN := make([]UserPackageStats, 3)

	require.True(t, CacheTopN(singleStat(1, "a", 10), topN))
	require.True(t, CacheTopN(singleStat(2, "b", 30), topN))
	require.True(t, CacheTopN(singleStat(3, "c", 20), topN))

	assert.Equal(t, []uint64{30, 20, 10}, rankValues(topN))
}

func TestCacheTopN_EvictsSmallestSurvivor(t *testing.T) {
	topN := make([]UserPackageStats, 2)
	CacheTopN(singleStat(1, "a", 10), topN)
	CacheTopN(singleStat(2, "b", 30), topN)

	// 20 displaces 10 but not 30.
	require.True(t, CacheTopN(singleStat(3, "c", 20), topN))
	assert.Equal(t, []uint64{30, 20}, rankValues(topN))
	assert.Equal(t, "b", topN[0].PackageName)
	assert.Equal(t, "c", topN[1].PackageName)

	// 5 loses to everything in a full list.
	require.False(t, CacheTopN(singleStat(4, "d", 5), topN))
	assert.Equal(t, []uint64{30, 20}, rankValues(topN))
}

func TestCacheTopN_ZeroValueNeverRanks(t *testing.T) {
	topN := make([]UserPackageStats, 3)
	require.False(t, CacheTopN(singleStat(1, "a", 0), topN))
	for _, s := range topN {
		assert.True(t, s.IsEmpty())
	}
}

func TestCacheTopN_TiesKeepFirstSeenAhead(t *testing.T) {
	topN := make([]UserPackageStats, 3)
	require.True(t, CacheTopN(singleStat(1, "first", 20), topN))
	require.True(t, CacheTopN(singleStat(2, "second", 20), topN))

	assert.Equal(t, "first", topN[0].PackageName)
	assert.Equal(t, "second", topN[1].PackageName)

	// A full list of equal values rejects another equal candidate.
	require.True(t, CacheTopN(singleStat(3, "third", 20), topN))
	require.False(t, CacheTopN(singleStat(4, "fourth", 20), topN))
	assert.Equal(t, "first", topN[0].PackageName)
}

func TestCacheTopN_DescendingInvariant(t *testing.T) {
	topN := make([]UserPackageStats, 5)
	for _, v := range []uint64{7, 3, 9, 9, 1, 12, 4, 8, 2, 6} {
		CacheTopN(singleStat(1, "pkg", v), topN)
	}
	ranked := TrimEmptyStats(topN)
	require.LessOrEqual(t, len(ranked), 5)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].RankValue(), ranked[i].RankValue())
	}
}

func TestTrimEmptyStats(t *testing.T) {
	topN := make([]UserPackageStats, 4)
	CacheTopN(singleStat(1, "a", 2), topN)
	CacheTopN(singleStat(2, "b", 4), topN)

	ranked := TrimEmptyStats(topN)
	require.Len(t, ranked, 2)
	assert.Equal(t, []uint64{4, 2}, rankValues(ranked))

	// A fully populated list is untouched.
	full := []UserPackageStats{singleStat(1, "a", 3), singleStat(2, "b", 1)}
	assert.Len(t, TrimEmptyStats(full), 2)
}

func TestNewProcStats_NestedTopProcessesBuiltEagerly(t *testing.T) {
	uid := &stats.UIDStats{
		UID:           1001234,
		PackageName:   "com.example.maps",
		CPUTimeMillis: 900,
		ProcStats: stats.UIDProcStats{
			CPUCycles:        5000,
			TotalMajorFaults: 140,
			ProcessStatsByPID: map[int32]stats.ProcessStats{
				100: {PID: 100, Command: "maps.main", CPUTimeMillis: 600, CPUCycles: 3500, TotalMajorFaults: 100},
				101: {PID: 101, Command: "maps.render", CPUTimeMillis: 300, CPUCycles: 1500, TotalMajorFaults: 40},
				102: {PID: 102, Command: "maps.idle", CPUTimeMillis: 0, CPUCycles: 0, TotalMajorFaults: 0},
			},
		},
	}

	cpu := NewProcStats(CPUTime, uid, 2)
	view, ok := cpu.View.(*ProcCPUStatsView)
	require.True(t, ok)
	assert.Equal(t, uint64(900), view.CPUTimeMillis)
	assert.Equal(t, uint64(5000), view.CPUCycles)
	require.Len(t, view.TopNProcesses, 2, "zero-cpu process must not rank")
	assert.Equal(t, "maps.main", view.TopNProcesses[0].Command)
	assert.Equal(t, "maps.render", view.TopNProcesses[1].Command)

	faults := NewProcStats(MajorFaults, uid, 5)
	single, ok := faults.View.(*ProcSingleStatsView)
	require.True(t, ok)
	assert.Equal(t, uint64(140), single.Value)
	require.Len(t, single.TopNProcesses, 2)
	assert.Equal(t, uint64(100), single.TopNProcesses[0].Value)
}

func TestNewIOStats_MapsDirectionAndFsync(t *testing.T) {
	uid := &stats.UIDStats{UID: 1005678, PackageName: "com.example.sync"}
	uid.IOStats.Metrics[stats.ReadBytes][stats.Foreground] = 4096
	uid.IOStats.Metrics[stats.ReadBytes][stats.Background] = 1024
	uid.IOStats.Metrics[stats.WriteBytes][stats.Foreground] = 512
	uid.IOStats.Metrics[stats.FsyncCount][stats.Foreground] = 7
	uid.IOStats.Metrics[stats.FsyncCount][stats.Background] = 3

	reads := NewIOStats(stats.ReadBytes, uid)
	view, ok := reads.View.(*IOStatsView)
	require.True(t, ok)
	assert.Equal(t, uint64(5120), view.TotalBytes())
	assert.Equal(t, uint64(5120), reads.RankValue())
	assert.Equal(t, uint64(7), view.Fsync[stats.Foreground])
	assert.Equal(t, uint64(3), view.Fsync[stats.Background])

	writes := NewIOStats(stats.WriteBytes, uid)
	assert.Equal(t, uint64(512), writes.RankValue())
}

func TestNewIOStats_RankValueSaturates(t *testing.T) {
	uid := &stats.UIDStats{UID: 1005678, PackageName: "com.example.sync"}
	uid.IOStats.Metrics[stats.ReadBytes][stats.Foreground] = math.MaxUint64 - 1
	uid.IOStats.Metrics[stats.ReadBytes][stats.Background] = 100

	reads := NewIOStats(stats.ReadBytes, uid)
	assert.Equal(t, uint64(math.MaxUint64), reads.RankValue())
}

func TestUserID(t *testing.T) {
	assert.Equal(t, uint32(10), UserID(1001234))
	assert.Equal(t, uint32(0), UserID(99999))
}
