// Package collector implements procfs-backed collectors feeding the
// profiler: a system-wide CPU/process collector over <root>/stat and a
// per-UID collector over <root>/<pid>/{stat,status,task} plus the
// per-UID I/O accounting file when the kernel exposes one.
//
// Counters in procfs are cumulative; both collectors keep the previous
// snapshot and report deltas since the last Collect call. A counter that
// goes backwards (wrap, or a reused PID) yields a zero delta, never a
// negative one. The filesystem root is a constructor parameter so tests
// run against fixture trees.
package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencar/watchdogd/pkg/stats"
)

// cpu line columns: user nice system idle iowait irq softirq steal guest
// guest_nice.
const cpuTickColumns = 10

type procStatSnapshot struct {
	cpuTicks              [cpuTickColumns]uint64
	contextSwitches       uint64
	runnableProcessCount  uint32
	ioBlockedProcessCount uint32
}

// ProcStat collects system-wide CPU tick and process counts. It
// implements stats.ProcStatCollector.
type ProcStat struct {
	root   string
	clkTck uint64
	prev   procStatSnapshot
	delta  stats.ProcStatInfo
}

// NewProcStat builds a collector reading <root>/stat. The first Collect
// reports counts accumulated since boot.
func NewProcStat(root string) *ProcStat {
	return &ProcStat{root: root, clkTck: ClockTicks()}
}

// Collect reads the current snapshot and computes the delta since the
// previous call.
func (c *ProcStat) Collect() error {
	cur, err := readProcStatSnapshot(filepath.Join(c.root, "stat"))
	if err != nil {
		return err
	}

	var millis [cpuTickColumns]uint64
	for i := range cur.cpuTicks {
		millis[i] = ticksToMillis(deltaU64(cur.cpuTicks[i], c.prev.cpuTicks[i]), c.clkTck)
	}
	c.delta = stats.ProcStatInfo{
		CPUStats: stats.CPUStats{
			UserTimeMillis:      millis[0],
			NiceTimeMillis:      millis[1],
			SysTimeMillis:       millis[2],
			IdleTimeMillis:      millis[3],
			IOWaitTimeMillis:    millis[4],
			IRQTimeMillis:       millis[5],
			SoftIRQTimeMillis:   millis[6],
			StealTimeMillis:     millis[7],
			GuestTimeMillis:     millis[8],
			GuestNiceTimeMillis: millis[9],
		},
		ContextSwitchesCount: deltaU64(cur.contextSwitches, c.prev.contextSwitches),
		// Process counts are gauges, not counters.
		RunnableProcessCount:  cur.runnableProcessCount,
		IOBlockedProcessCount: cur.ioBlockedProcessCount,
	}
	c.prev = cur
	return nil
}

// DeltaStats returns the delta computed by the most recent Collect.
func (c *ProcStat) DeltaStats() stats.ProcStatInfo { return c.delta }

func readProcStatSnapshot(path string) (procStatSnapshot, error) {
	var snap procStatSnapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	sawCPU := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "cpu":
			if len(fields) < cpuTickColumns+1 {
				return snap, fmt.Errorf("%s: %w", path, ErrShortCPULine)
			}
			for i := 0; i < cpuTickColumns; i++ {
				snap.cpuTicks[i], _ = strconv.ParseUint(fields[i+1], 10, 64)
			}
			sawCPU = true
		case "ctxt":
			snap.contextSwitches, _ = strconv.ParseUint(fields[1], 10, 64)
		case "procs_running":
			v, _ := strconv.ParseUint(fields[1], 10, 32)
			snap.runnableProcessCount = uint32(v)
		case "procs_blocked":
			v, _ := strconv.ParseUint(fields[1], 10, 32)
			snap.ioBlockedProcessCount = uint32(v)
		}
	}
	if err := sc.Err(); err != nil {
		return snap, fmt.Errorf("reading %s: %w", path, err)
	}
	if !sawCPU {
		return snap, fmt.Errorf("%s: %w", path, ErrNoCPULine)
	}
	return snap, nil
}
