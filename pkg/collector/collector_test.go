package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencar/watchdogd/pkg/stats"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeSystemStat(t *testing.T, root string, ticks [cpuTickColumns]uint64,
	ctxt uint64, running, blocked uint32) {
	t.Helper()
	content := fmt.Sprintf("cpu  %d %d %d %d %d %d %d %d %d %d\n",
		ticks[0], ticks[1], ticks[2], ticks[3], ticks[4],
		ticks[5], ticks[6], ticks[7], ticks[8], ticks[9])
	content += "cpu0 0 0 0 0 0 0 0 0 0 0\n"
	content += fmt.Sprintf("ctxt %d\nprocs_running %d\nprocs_blocked %d\n",
		ctxt, running, blocked)
	writeFile(t, filepath.Join(root, "stat"), content)
}

// writeProcess lays out <root>/<pid>/{status,stat,task/<pid>/stat} for one
// single-threaded process.
func writeProcess(t *testing.T, root string, pid int, uid uint32, command, state string,
	utime, stime, majflt uint64) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	writeFile(t, filepath.Join(dir, "status"),
		fmt.Sprintf("Name:\t%s\nUid:\t%d\t%d\t%d\t%d\n", command, uid, uid, uid, uid))
	statLine := fmt.Sprintf("%d (%s) %s 1 1 1 0 -1 4194560 100 0 %d 0 %d %d 0 0 20 0 1 0 100 0 0\n",
		pid, command, state, majflt, utime, stime)
	writeFile(t, filepath.Join(dir, "stat"), statLine)
	writeFile(t, filepath.Join(dir, "task", fmt.Sprint(pid), "stat"), statLine)
}

func TestProcStat_DeltaAccounting(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()

	writeSystemStat(t, root, [cpuTickColumns]uint64{600, 10, 200, 150, 30, 5, 5, 0, 0, 0},
		1000, 8, 2)
	c := NewProcStat(root)
	require.NoError(t, c.Collect())

	// First collect reports counts accumulated since boot.
	first := c.DeltaStats()
	assert.Equal(t, uint64(6000), first.CPUStats.UserTimeMillis)
	assert.Equal(t, uint64(2000), first.CPUStats.SysTimeMillis)
	assert.Equal(t, uint64(1500), first.CPUStats.IdleTimeMillis)
	assert.Equal(t, uint64(300), first.CPUStats.IOWaitTimeMillis)
	assert.Equal(t, uint64(1000), first.ContextSwitchesCount)
	assert.Equal(t, uint32(8), first.RunnableProcessCount)
	assert.Equal(t, uint32(2), first.IOBlockedProcessCount)
	assert.Equal(t, uint32(10), first.TotalProcessCount())
	assert.Equal(t, uint64(10000), first.TotalCPUTimeMillis())

	writeSystemStat(t, root, [cpuTickColumns]uint64{700, 10, 250, 200, 40, 5, 5, 0, 0, 0},
		1310, 5, 1)
	require.NoError(t, c.Collect())

	second := c.DeltaStats()
	assert.Equal(t, uint64(1000), second.CPUStats.UserTimeMillis)
	assert.Equal(t, uint64(500), second.CPUStats.SysTimeMillis)
	assert.Equal(t, uint64(0), second.CPUStats.NiceTimeMillis)
	assert.Equal(t, uint64(310), second.ContextSwitchesCount)
	// Gauges report the current value, not a delta.
	assert.Equal(t, uint32(5), second.RunnableProcessCount)
	assert.Equal(t, uint32(1), second.IOBlockedProcessCount)
}

func TestProcStat_CounterWrapYieldsZeroDelta(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()

	writeSystemStat(t, root, [cpuTickColumns]uint64{500, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 100, 1, 0)
	c := NewProcStat(root)
	require.NoError(t, c.Collect())

	writeSystemStat(t, root, [cpuTickColumns]uint64{10, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 5, 1, 0)
	require.NoError(t, c.Collect())
	assert.Zero(t, c.DeltaStats().CPUStats.UserTimeMillis)
	assert.Zero(t, c.DeltaStats().ContextSwitchesCount)
}

func TestProcStat_Malformed(t *testing.T) {
	root := t.TempDir()

	c := NewProcStat(root)
	require.Error(t, c.Collect(), "missing stat file")

	writeFile(t, filepath.Join(root, "stat"), "ctxt 5\n")
	require.ErrorIs(t, c.Collect(), ErrNoCPULine)

	writeFile(t, filepath.Join(root, "stat"), "cpu 1 2 3\n")
	require.ErrorIs(t, c.Collect(), ErrShortCPULine)
}

func TestUIDStats_GroupsByUIDAndComputesDeltas(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()

	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 50, 10, 120)
	writeProcess(t, root, 101, 1001000, "media.worker", "D", 20, 5, 30)
	writeProcess(t, root, 200, 1002000, "com.example.maps", "R", 300, 100, 700)
	writeFile(t, filepath.Join(root, uidIOFile),
		"1001000 0 0 4096 1024 0 0 512 256 5 2\n"+
			"1002000 0 0 8192 2048 0 0 0 0 9 0\n")

	c := NewUIDStats(root)
	require.NoError(t, c.Collect())

	deltas := c.DeltaStats()
	require.Len(t, deltas, 2)

	media := deltas[0]
	assert.Equal(t, uint32(1001000), media.UID)
	assert.Equal(t, "com.example.media", media.PackageName, "first scanned command names the UID")
	assert.Equal(t, uint64((50+10+20+5)*10), media.CPUTimeMillis)
	assert.Equal(t, uint64(150), media.ProcStats.TotalMajorFaults)
	assert.Equal(t, uint64(2), media.ProcStats.TotalTasksCount)
	assert.Equal(t, uint64(1), media.ProcStats.IOBlockedTasksCount, "state D counts as blocked")
	require.Len(t, media.ProcStats.ProcessStatsByPID, 2)
	assert.Equal(t, "media.worker", media.ProcStats.ProcessStatsByPID[101].Command)
	assert.Equal(t, uint64(600), media.ProcStats.ProcessStatsByPID[100].CPUTimeMillis)

	assert.Equal(t, uint64(4096), media.IOStats.Metrics[stats.ReadBytes][stats.Foreground])
	assert.Equal(t, uint64(1024), media.IOStats.Metrics[stats.WriteBytes][stats.Foreground])
	assert.Equal(t, uint64(512), media.IOStats.Metrics[stats.ReadBytes][stats.Background])
	assert.Equal(t, uint64(256), media.IOStats.Metrics[stats.WriteBytes][stats.Background])
	assert.Equal(t, uint64(5), media.IOStats.Metrics[stats.FsyncCount][stats.Foreground])
	assert.Equal(t, uint64(2), media.IOStats.Metrics[stats.FsyncCount][stats.Background])

	maps := deltas[1]
	assert.Equal(t, uint32(1002000), maps.UID)
	assert.Equal(t, uint64(4000), maps.CPUTimeMillis)
	assert.Equal(t, uint64(8192), maps.IOStats.Metrics[stats.ReadBytes][stats.Foreground])

	// Second poll: only the delta since the previous one.
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 80, 20, 170)
	writeProcess(t, root, 101, 1001000, "media.worker", "S", 20, 5, 30)
	writeProcess(t, root, 200, 1002000, "com.example.maps", "R", 300, 100, 700)
	writeFile(t, filepath.Join(root, uidIOFile),
		"1001000 0 0 6144 1024 0 0 512 256 8 2\n"+
			"1002000 0 0 8192 2048 0 0 0 0 9 0\n")
	require.NoError(t, c.Collect())

	deltas = c.DeltaStats()
	require.Len(t, deltas, 2)
	media = deltas[0]
	assert.Equal(t, uint64(400), media.CPUTimeMillis)
	assert.Equal(t, uint64(50), media.ProcStats.TotalMajorFaults)
	assert.Equal(t, uint64(0), media.ProcStats.IOBlockedTasksCount)
	assert.Equal(t, uint64(2048), media.IOStats.Metrics[stats.ReadBytes][stats.Foreground])
	assert.Equal(t, uint64(3), media.IOStats.Metrics[stats.FsyncCount][stats.Foreground])

	maps = deltas[1]
	assert.Zero(t, maps.CPUTimeMillis)
	assert.Zero(t, maps.ProcStats.TotalMajorFaults)
	assert.Zero(t, maps.IOStats.Metrics[stats.ReadBytes][stats.Foreground])
}

func TestUIDStats_MissingUIDIOFile(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 50, 10, 120)

	c := NewUIDStats(root)
	require.NoError(t, c.Collect())

	deltas := c.DeltaStats()
	require.Len(t, deltas, 1)
	assert.Equal(t, stats.UIDIOStats{}, deltas[0].IOStats)
	assert.Equal(t, uint64(600), deltas[0].CPUTimeMillis)
}

func TestUIDStats_SkipsNonProcessEntries(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 50, 10, 120)
	writeFile(t, filepath.Join(root, "self", "stat"), "not a process\n")
	writeFile(t, filepath.Join(root, "101", "status"), "Name:\tdying\n")

	c := NewUIDStats(root)
	require.NoError(t, c.Collect())
	require.Len(t, c.DeltaStats(), 1)
	assert.Equal(t, uint32(1001000), c.DeltaStats()[0].UID)
}

func TestUIDStats_DeadProcessCountersDropOut(t *testing.T) {
	t.Setenv("CLK_TCK", "100")
	root := t.TempDir()
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 50, 10, 120)

	c := NewUIDStats(root)
	require.NoError(t, c.Collect())
	require.NoError(t, os.RemoveAll(filepath.Join(root, "100")))

	// A reused PID with smaller counters must not produce a negative
	// (wrapped) delta.
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 5, 1, 10)
	require.NoError(t, c.Collect())
	require.NoError(t, os.RemoveAll(filepath.Join(root, "100")))
	writeProcess(t, root, 100, 1001000, "com.example.media", "S", 3, 1, 2)
	require.NoError(t, c.Collect())

	deltas := c.DeltaStats()
	require.Len(t, deltas, 1)
	assert.Zero(t, deltas[0].CPUTimeMillis)
	assert.Zero(t, deltas[0].ProcStats.TotalMajorFaults)
}

func TestReadPIDStat_CommandWithSpaces(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "stat")
	writeFile(t, path, "42 (Web Content (x)) S 1 1 1 0 -1 0 0 0 7 0 11 3 0 0 20 0 1 0 1 0 0\n")

	command, state, cpuTicks, majflt, err := readPIDStat(path)
	require.NoError(t, err)
	assert.Equal(t, "Web Content (x)", command)
	assert.Equal(t, byte('S'), state)
	assert.Equal(t, uint64(14), cpuTicks)
	assert.Equal(t, uint64(7), majflt)
}
