// Package report renders collection caches to the two dump formats: a
// human-readable text report and a structured protobuf wire dump. Both
// expose the same set of facts for every pass record.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/opencar/watchdogd/pkg/perfstats"
	"github.com/opencar/watchdogd/pkg/stats"
)

// EmptyCollectionMessage is rendered for any context with no cached records.
const EmptyCollectionMessage = "No records collected for this collection.\n"

// Section titles.
const (
	BoottimeTitle   = "Boot-time performance report:"
	WakeUpTitle     = "Wake-up performance report:"
	UserSwitchTitle = "User-switch events performance report:"
	PeriodicTitle   = "Last N minutes performance report:"
	CustomTitle     = "Custom performance data report:"
)

const (
	cpuTimeHeader = "User ID, Package Name, CPU Time (ms), Percentage of total CPU time, CPU Cycles\n" +
		"\tCommand, CPU Time (ms), Percentage of UID's CPU Time, CPU Cycles\n"
	ioStatsHeader = "User ID, Package Name, Foreground Bytes, Foreground Bytes %, Foreground Fsync, " +
		"Foreground Fsync %, Background Bytes, Background Bytes %, Background Fsync, " +
		"Background Fsync %\n"
	ioBlockedHeader = "User ID, Package Name, Number of owned tasks waiting for I/O, " +
		"Percentage of owned tasks waiting for I/O\n" +
		"\tCommand, Number of I/O waiting tasks, Percentage of UID's tasks waiting for I/O\n"
	majorFaultsHeader = "User ID, Package Name, Number of major page faults, " +
		"Percentage of total major page faults\n" +
		"\tCommand, Number of major page faults, Percentage of UID's major page faults\n"
)

const timestampLayout = "Mon Jan 2 15:04:05 2006 MST"

func percentage(numer, denom uint64) float64 {
	if denom == 0 {
		return 0
	}
	return float64(numer) / float64(denom) * 100
}

// stickyWriter keeps the first write error and turns later writes into
// no-ops, so render code stays linear.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (sw *stickyWriter) printf(format string, args ...any) {
	if sw.err != nil {
		return
	}
	_, sw.err = fmt.Fprintf(sw.w, format, args...)
}

// WriteSection renders one titled collection section.
func WriteSection(w io.Writer, title string, info *perfstats.CollectionInfo) error {
	sw := &stickyWriter{w: w}
	sw.printf("%s\n%s\n%s\n", strings.Repeat("-", 75), title, strings.Repeat("=", len(title)))
	writeCollection(sw, info)
	return sw.err
}

// WriteUserSwitchSection renders the user-switch event list: an event
// count subtitle followed by one titled block per event.
func WriteUserSwitchSection(w io.Writer, events []perfstats.UserSwitchCollection) error {
	sw := &stickyWriter{w: w}
	sw.printf("%s\n%s\n%s\n", strings.Repeat("-", 75), UserSwitchTitle,
		strings.Repeat("=", len(UserSwitchTitle)))
	if len(events) == 0 {
		sw.printf("%s", EmptyCollectionMessage)
		return sw.err
	}
	sw.printf("Number of user switch events: %d\n", len(events))
	for i := range events {
		event := &events[i]
		sw.printf("\nEvent %d: From: %d To: %d\n%s\n", i, event.From, event.To,
			strings.Repeat("=", 26))
		writeCollection(sw, &event.CollectionInfo)
	}
	return sw.err
}

func writeCollection(sw *stickyWriter, info *perfstats.CollectionInfo) {
	if len(info.Records) == 0 {
		sw.printf("%s", EmptyCollectionMessage)
		return
	}
	sw.printf("Collection duration: %.f seconds\nNumber of collections: %d\n",
		info.Duration().Seconds(), len(info.Records))
	for i := range info.Records {
		record := &info.Records[i]
		sw.printf("\nCollection %d: <%s>\n%s\n", i, record.Time.Format(timestampLayout),
			strings.Repeat("=", 45))
		writeRecord(sw, record)
	}
}

func writeRecord(sw *stickyWriter, r *perfstats.Record) {
	writeSystemSummary(sw, r)
	writeUserPackageSummary(sw, &r.UserPackageSummary)
}

func writeSystemSummary(sw *stickyWriter, r *perfstats.Record) {
	s := &r.SystemSummary
	sw.printf("System state: %s\n", r.SystemState)
	sw.printf("Total CPU time (ms): %d\n", s.TotalCPUTimeMillis)
	sw.printf("Total CPU cycles: %d\n", s.TotalCPUCycles)
	sw.printf("Total idle CPU time (ms)/percent: %d / %.2f%%\n",
		s.CPUIdleTimeMillis, percentage(s.CPUIdleTimeMillis, s.TotalCPUTimeMillis))
	sw.printf("CPU I/O wait time (ms)/percent: %d / %.2f%%\n",
		s.CPUIOWaitTimeMillis, percentage(s.CPUIOWaitTimeMillis, s.TotalCPUTimeMillis))
	sw.printf("Number of context switches: %d\n", s.ContextSwitchesCount)
	sw.printf("Number of I/O blocked processes/percent: %d / %.2f%%\n",
		s.IOBlockedProcessCount, percentage(uint64(s.IOBlockedProcessCount), uint64(s.TotalProcessCount)))
}

func writeUserPackageSummary(sw *stickyWriter, u *perfstats.UserPackageSummaryStats) {
	if len(u.TopNCPUTimes) > 0 {
		sw.printf("\nTop N CPU Times:\n%s\n", strings.Repeat("-", 16))
		sw.printf("%s", cpuTimeHeader)
		for _, pkg := range u.TopNCPUTimes {
			writeCPUStatsLine(sw, pkg, u.TotalCPUTimeMillis)
		}
	}
	if len(u.TopNIOReads) > 0 {
		sw.printf("\nTop N Storage I/O Reads:\n%s\n", strings.Repeat("-", 24))
		sw.printf("%s", ioStatsHeader)
		for _, pkg := range u.TopNIOReads {
			writeIOStatsLine(sw, pkg, stats.ReadBytes, u)
		}
	}
	if len(u.TopNIOWrites) > 0 {
		sw.printf("\nTop N Storage I/O Writes:\n%s\n", strings.Repeat("-", 25))
		sw.printf("%s", ioStatsHeader)
		for _, pkg := range u.TopNIOWrites {
			writeIOStatsLine(sw, pkg, stats.WriteBytes, u)
		}
	}
	if len(u.TopNIOBlocked) > 0 {
		sw.printf("\nTop N I/O waiting UIDs:\n%s\n", strings.Repeat("-", 23))
		sw.printf("%s", ioBlockedHeader)
		for _, pkg := range u.TopNIOBlocked {
			taskCount, ok := u.TaskCountByUID[pkg.UID]
			if !ok {
				continue
			}
			writeSingleStatsLine(sw, pkg, taskCount)
		}
	}
	if len(u.TopNMajorFaults) > 0 {
		sw.printf("\nTop N major page faults:\n%s\n", strings.Repeat("-", 24))
		sw.printf("%s", majorFaultsHeader)
		for _, pkg := range u.TopNMajorFaults {
			writeSingleStatsLine(sw, pkg, u.TotalMajorFaults)
		}
		sw.printf("Number of major page faults since last collection: %d\n", u.TotalMajorFaults)
		sw.printf("Percentage of change in major page faults since last collection: %.2f%%\n",
			u.MajorFaultsPercentChange)
	}
}

func writeCPUStatsLine(sw *stickyWriter, pkg perfstats.UserPackageStats, totalCPUTime uint64) {
	view, ok := pkg.View.(*perfstats.ProcCPUStatsView)
	if !ok {
		return
	}
	sw.printf("%d, %s, %d, %.2f%%, %d\n", perfstats.UserID(pkg.UID), pkg.PackageName,
		view.CPUTimeMillis, percentage(view.CPUTimeMillis, totalCPUTime), view.CPUCycles)
	for _, proc := range view.TopNProcesses {
		sw.printf("\t%s, %d, %.2f%%, %d\n", proc.Command, proc.CPUTimeMillis,
			percentage(proc.CPUTimeMillis, view.CPUTimeMillis), proc.CPUCycles)
	}
}

func writeIOStatsLine(sw *stickyWriter, pkg perfstats.UserPackageStats, metric stats.MetricType,
	u *perfstats.UserPackageSummaryStats) {
	view, ok := pkg.View.(*perfstats.IOStatsView)
	if !ok {
		return
	}
	sw.printf("%d, %s", perfstats.UserID(pkg.UID), pkg.PackageName)
	for state := stats.UIDState(0); state < stats.UIDStates; state++ {
		sw.printf(", %d, %.2f%%, %d, %.2f%%",
			uint64(view.Bytes[state]), percentage(uint64(view.Bytes[state]), u.TotalIOStats[metric][state]),
			view.Fsync[state], percentage(view.Fsync[state], u.TotalIOStats[stats.FsyncCount][state]))
	}
	sw.printf("\n")
}

// writeSingleStatsLine renders a scalar-ranked package and its processes;
// totalValue is the denominator for the package-level percentage.
func writeSingleStatsLine(sw *stickyWriter, pkg perfstats.UserPackageStats, totalValue uint64) {
	view, ok := pkg.View.(*perfstats.ProcSingleStatsView)
	if !ok {
		return
	}
	sw.printf("%d, %s, %d, %.2f%%\n", perfstats.UserID(pkg.UID), pkg.PackageName,
		view.Value, percentage(view.Value, totalValue))
	for _, proc := range view.TopNProcesses {
		sw.printf("\t%s, %d, %.2f%%\n", proc.Command, proc.Value,
			percentage(proc.Value, view.Value))
	}
}
