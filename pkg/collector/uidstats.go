package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opencar/watchdogd/pkg/stats"
)

// uidIOFile is the per-UID I/O accounting file relative to root. Each line
// carries cumulative counters for one UID:
//
//	uid fg_rchar fg_wchar fg_rbytes fg_wbytes bg_rchar bg_wchar bg_rbytes bg_wbytes fg_fsync bg_fsync
const uidIOFile = "uid_io/stats"

type procSnapshot struct {
	uid         uint32
	command     string
	cpuTicks    uint64
	majorFaults uint64
	tasks       uint64
	ioBlocked   uint64
}

type uidIOSnapshot struct {
	readBytes  [stats.UIDStates]uint64
	writeBytes [stats.UIDStates]uint64
	fsync      [stats.UIDStates]uint64
}

// UIDStats collects per-UID resource usage by scanning the process
// directories under root and, when present, the per-UID I/O accounting
// file. It implements stats.UIDStatsCollector.
//
// CPU cycles stay zero: the kernel exposes no per-process cycle counter
// through procfs.
type UIDStats struct {
	root   string
	clkTck uint64

	prevProc map[int32]procSnapshot
	prevIO   map[uint32]uidIOSnapshot
	delta    []stats.UIDStats
}

// NewUIDStats builds a collector scanning root. The first Collect reports
// usage accumulated since boot.
func NewUIDStats(root string) *UIDStats {
	return &UIDStats{
		root:     root,
		clkTck:   ClockTicks(),
		prevProc: make(map[int32]procSnapshot),
		prevIO:   make(map[uint32]uidIOSnapshot),
	}
}

// Collect scans every process directory, groups processes by owning UID,
// and computes per-UID deltas since the previous call. Processes that
// vanish mid-scan are skipped; their counters simply drop out of the next
// delta.
func (c *UIDStats) Collect() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", c.root, err)
	}

	curProc := make(map[int32]procSnapshot)
	byUID := make(map[uint32]*stats.UIDStats)
	for _, entry := range entries {
		pid64, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil || !entry.IsDir() {
			continue
		}
		pid := int32(pid64)
		snap, err := c.readProcSnapshot(pid)
		if err != nil {
			continue
		}
		curProc[pid] = snap

		uid := byUID[snap.uid]
		if uid == nil {
			uid = &stats.UIDStats{
				UID:         snap.uid,
				PackageName: snap.command,
				ProcStats: stats.UIDProcStats{
					ProcessStatsByPID: make(map[int32]stats.ProcessStats),
				},
			}
			byUID[snap.uid] = uid
		}

		prev := c.prevProc[pid]
		cpuMillis := ticksToMillis(deltaU64(snap.cpuTicks, prev.cpuTicks), c.clkTck)
		majorFaults := deltaU64(snap.majorFaults, prev.majorFaults)

		uid.CPUTimeMillis += cpuMillis
		uid.ProcStats.TotalMajorFaults += majorFaults
		uid.ProcStats.TotalTasksCount += snap.tasks
		uid.ProcStats.IOBlockedTasksCount += snap.ioBlocked
		uid.ProcStats.ProcessStatsByPID[pid] = stats.ProcessStats{
			PID:                 pid,
			Command:             snap.command,
			CPUTimeMillis:       cpuMillis,
			TotalMajorFaults:    majorFaults,
			TotalTasksCount:     snap.tasks,
			IOBlockedTasksCount: snap.ioBlocked,
		}
	}

	if err := c.collectUIDIO(byUID); err != nil {
		return err
	}

	c.delta = c.delta[:0]
	for _, uid := range byUID {
		c.delta = append(c.delta, *uid)
	}
	sort.Slice(c.delta, func(i, j int) bool { return c.delta[i].UID < c.delta[j].UID })
	c.prevProc = curProc
	return nil
}

// DeltaStats returns the per-UID deltas computed by the most recent
// Collect.
func (c *UIDStats) DeltaStats() []stats.UIDStats { return c.delta }

func (c *UIDStats) readProcSnapshot(pid int32) (procSnapshot, error) {
	var snap procSnapshot

	uid, err := readUID(filepath.Join(c.root, strconv.Itoa(int(pid)), "status"))
	if err != nil {
		return snap, err
	}
	snap.uid = uid

	command, _, cpuTicks, majorFaults, err := readPIDStat(
		filepath.Join(c.root, strconv.Itoa(int(pid)), "stat"))
	if err != nil {
		return snap, err
	}
	snap.command = command
	snap.cpuTicks = cpuTicks
	snap.majorFaults = majorFaults

	snap.tasks, snap.ioBlocked = c.readTaskStates(pid)
	return snap, nil
}

// readTaskStates counts the process's tasks and how many of them are in
// uninterruptible sleep (state D, blocked on I/O).
func (c *UIDStats) readTaskStates(pid int32) (tasks, ioBlocked uint64) {
	taskDir := filepath.Join(c.root, strconv.Itoa(int(pid)), "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		// No task dir in the fixture or a racing exit: count the main
		// thread only.
		return 1, 0
	}
	for _, entry := range entries {
		_, state, _, _, err := readPIDStat(filepath.Join(taskDir, entry.Name(), "stat"))
		if err != nil {
			continue
		}
		tasks++
		if state == 'D' {
			ioBlocked++
		}
	}
	if tasks == 0 {
		tasks = 1
	}
	return tasks, ioBlocked
}

func (c *UIDStats) collectUIDIO(byUID map[uint32]*stats.UIDStats) error {
	path := filepath.Join(c.root, uidIOFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Kernel without per-UID I/O accounting: I/O metrics stay zero.
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	curIO := make(map[uint32]uidIOSnapshot)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 11 {
			continue
		}
		uid64, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		var snap uidIOSnapshot
		snap.readBytes[stats.Foreground], _ = strconv.ParseUint(fields[3], 10, 64)
		snap.writeBytes[stats.Foreground], _ = strconv.ParseUint(fields[4], 10, 64)
		snap.readBytes[stats.Background], _ = strconv.ParseUint(fields[7], 10, 64)
		snap.writeBytes[stats.Background], _ = strconv.ParseUint(fields[8], 10, 64)
		snap.fsync[stats.Foreground], _ = strconv.ParseUint(fields[9], 10, 64)
		snap.fsync[stats.Background], _ = strconv.ParseUint(fields[10], 10, 64)
		curIO[uint32(uid64)] = snap
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	for uid, entry := range byUID {
		cur, ok := curIO[uid]
		if !ok {
			continue
		}
		prev := c.prevIO[uid]
		for state := stats.UIDState(0); state < stats.UIDStates; state++ {
			entry.IOStats.Metrics[stats.ReadBytes][state] =
				deltaU64(cur.readBytes[state], prev.readBytes[state])
			entry.IOStats.Metrics[stats.WriteBytes][state] =
				deltaU64(cur.writeBytes[state], prev.writeBytes[state])
			entry.IOStats.Metrics[stats.FsyncCount][state] =
				deltaU64(cur.fsync[state], prev.fsync[state])
		}
	}
	c.prevIO = curIO
	return nil
}

// readUID extracts the real UID from a status file.
func readUID(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "Uid:" {
			uid, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", path, ErrMalformedStat)
			}
			return uint32(uid), nil
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s: %w", path, ErrMalformedStat)
}

// readPIDStat parses a stat file, returning the command (without the
// surrounding parens), the state character, cumulative utime+stime ticks,
// and cumulative major faults.
func readPIDStat(path string) (command string, state byte, cpuTicks, majorFaults uint64, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, 0, 0, err
	}
	line := strings.TrimSpace(string(b))

	// Everything before ") " is pid + comm; comm may contain spaces.
	open := strings.IndexByte(line, '(')
	end := strings.LastIndex(line, ") ")
	if open < 0 || end < open {
		return "", 0, 0, 0, fmt.Errorf("%s: %w", path, ErrMalformedStat)
	}
	command = line[open+1 : end]

	// Indexes relative to the fields after ") ":
	// state (3rd overall) => fields[0]
	// majflt (12th overall) => fields[9]
	// utime (14th overall) => fields[11]
	// stime (15th overall) => fields[12]
	fields := strings.Fields(line[end+2:])
	if len(fields) < 13 {
		return "", 0, 0, 0, fmt.Errorf("%s: %w", path, ErrMalformedStat)
	}
	state = fields[0][0]
	majorFaults, _ = strconv.ParseUint(fields[9], 10, 64)
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	cpuTicks = utime + stime
	return command, state, cpuTicks, majorFaults, nil
}
