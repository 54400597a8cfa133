package report

import (
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/opencar/watchdogd/pkg/perfstats"
	"github.com/opencar/watchdogd/pkg/protoio"
	"github.com/opencar/watchdogd/pkg/stats"
)

// CollectionIntervals carries the dispatcher-configured polling interval
// per collection context, attached to each proto section.
type CollectionIntervals struct {
	Boottime   time.Duration
	WakeUp     time.Duration
	UserSwitch time.Duration
	Periodic   time.Duration
	Custom     time.Duration
}

// Collections is a view over every context's cache, rendered as one dump.
type Collections struct {
	Boottime   *perfstats.CollectionInfo
	WakeUp     *perfstats.CollectionInfo
	UserSwitch []perfstats.UserSwitchCollection
	Periodic   *perfstats.CollectionInfo
	Custom     *perfstats.CollectionInfo
}

// WriteProtoDump encodes every collection context as nested tagged groups
// and writes the wire-format bytes to w.
func WriteProtoDump(w io.Writer, intervals CollectionIntervals, c Collections) error {
	s := protoio.NewStream()
	s.Start(fieldPerformanceStats)

	writeCollectionProto(s, fieldBootTimeStats, intervals.Boottime, c.Boottime)
	writeCollectionProto(s, fieldWakeUpStats, intervals.WakeUp, c.WakeUp)
	for i := range c.UserSwitch {
		event := &c.UserSwitch[i]
		s.Start(fieldUserSwitchStats)
		s.WriteUint64(fieldCollectionIntervalMillis, uint64(intervals.UserSwitch.Milliseconds()))
		s.WriteInt32(fieldFromUserID, event.From)
		s.WriteInt32(fieldToUserID, event.To)
		writeRecordsProto(s, &event.CollectionInfo)
		if err := s.End(); err != nil {
			return err
		}
	}
	writeCollectionProto(s, fieldLastNMinutesStats, intervals.Periodic, c.Periodic)
	writeCollectionProto(s, fieldCustomCollectionStats, intervals.Custom, c.Custom)

	if err := s.End(); err != nil {
		return err
	}
	return s.Flush(w)
}

func writeCollectionProto(s *protoio.Stream, field protowire.Number, interval time.Duration,
	info *perfstats.CollectionInfo) {
	s.Start(field)
	s.WriteUint64(fieldCollectionIntervalMillis, uint64(interval.Milliseconds()))
	writeRecordsProto(s, info)
	_ = s.End()
}

func writeRecordsProto(s *protoio.Stream, info *perfstats.CollectionInfo) {
	for id := range info.Records {
		record := &info.Records[id]
		s.Start(fieldRecords)
		s.WriteUint64(fieldRecordID, uint64(id))
		s.WriteUint64(fieldRecordSystemState, uint64(record.SystemState))

		year, month, day := record.Time.Date()
		s.Start(fieldRecordDate)
		s.WriteUint64(fieldDateYear, uint64(year))
		s.WriteUint64(fieldDateMonth, uint64(month))
		s.WriteUint64(fieldDateDay, uint64(day))
		_ = s.End()

		s.Start(fieldRecordTime)
		s.WriteUint64(fieldTimeHours, uint64(record.Time.Hour()))
		s.WriteUint64(fieldTimeMinutes, uint64(record.Time.Minute()))
		s.WriteUint64(fieldTimeSeconds, uint64(record.Time.Second()))
		_ = s.End()

		writeSystemWideStatsProto(s, record)
		writePackageCPUStatsProto(s, record.UserPackageSummary.TopNCPUTimes)
		writePackageStorageIOStatsProto(s, fieldPackageStorageIOReadStats,
			record.UserPackageSummary.TopNIOReads)
		writePackageStorageIOStatsProto(s, fieldPackageStorageIOWriteStats,
			record.UserPackageSummary.TopNIOWrites)
		writePackageTaskStateStatsProto(s, record.UserPackageSummary.TopNIOBlocked,
			record.UserPackageSummary.TaskCountByUID)
		writePackageMajorPageFaultsProto(s, record.UserPackageSummary.TopNMajorFaults)

		_ = s.End()
	}
}

func writeSystemWideStatsProto(s *protoio.Stream, record *perfstats.Record) {
	sys := &record.SystemSummary
	user := &record.UserPackageSummary

	s.Start(fieldSystemWideStats)
	s.WriteUint64(fieldIOWaitTimeMillis, sys.CPUIOWaitTimeMillis)
	s.WriteUint64(fieldIdleCPUTimeMillis, sys.CPUIdleTimeMillis)
	s.WriteUint64(fieldTotalCPUTimeMillis, sys.TotalCPUTimeMillis)
	s.WriteUint64(fieldTotalCPUCycles, sys.TotalCPUCycles)
	s.WriteUint64(fieldTotalContextSwitches, sys.ContextSwitchesCount)
	s.WriteUint64(fieldTotalIOBlockedProcesses, uint64(sys.IOBlockedProcessCount))
	s.WriteUint64(fieldTotalProcesses, uint64(sys.TotalProcessCount))
	s.WriteUint64(fieldTotalMajorPageFaults, user.TotalMajorFaults)
	s.WriteDouble(fieldMajorFaultsPercentChange, user.MajorFaultsPercentChange)

	writeStorageIOStatsProto(s, fieldTotalStorageIOReadStats,
		user.TotalIOStats[stats.ReadBytes], user.TotalIOStats[stats.FsyncCount])
	writeStorageIOStatsProto(s, fieldTotalStorageIOWriteStats,
		user.TotalIOStats[stats.WriteBytes], user.TotalIOStats[stats.FsyncCount])
	_ = s.End()
}

func writeStorageIOStatsProto(s *protoio.Stream, field protowire.Number,
	bytes, fsync [stats.UIDStates]uint64) {
	s.Start(field)
	s.WriteUint64(fieldFgBytes, bytes[stats.Foreground])
	s.WriteUint64(fieldFgFsync, fsync[stats.Foreground])
	s.WriteUint64(fieldBgBytes, bytes[stats.Background])
	s.WriteUint64(fieldBgFsync, fsync[stats.Background])
	_ = s.End()
}

func writeUserPackageInfoProto(s *protoio.Stream, pkg *perfstats.UserPackageStats) {
	s.Start(fieldUserPackageInfo)
	s.WriteUint64(fieldUserID, uint64(perfstats.UserID(pkg.UID)))
	s.WriteString(fieldPackageName, pkg.PackageName)
	_ = s.End()
}

func writePackageCPUStatsProto(s *protoio.Stream, topN []perfstats.UserPackageStats) {
	for i := range topN {
		pkg := &topN[i]
		view, ok := pkg.View.(*perfstats.ProcCPUStatsView)
		if !ok {
			continue
		}
		s.Start(fieldPackageCPUStats)
		writeUserPackageInfoProto(s, pkg)

		s.Start(fieldCPUStats)
		s.WriteUint64(fieldCPUTimeMillis, view.CPUTimeMillis)
		s.WriteUint64(fieldCPUCycles, view.CPUCycles)
		_ = s.End()

		for _, proc := range view.TopNProcesses {
			s.Start(fieldProcessCPUStats)
			s.WriteString(fieldProcessCommand, proc.Command)
			s.Start(fieldProcessCPUStat)
			s.WriteUint64(fieldCPUTimeMillis, proc.CPUTimeMillis)
			s.WriteUint64(fieldCPUCycles, proc.CPUCycles)
			_ = s.End()
			_ = s.End()
		}
		_ = s.End()
	}
}

func writePackageStorageIOStatsProto(s *protoio.Stream, field protowire.Number,
	topN []perfstats.UserPackageStats) {
	for i := range topN {
		pkg := &topN[i]
		view, ok := pkg.View.(*perfstats.IOStatsView)
		if !ok {
			continue
		}
		s.Start(field)
		writeUserPackageInfoProto(s, pkg)

		s.Start(fieldStorageIOStats)
		s.WriteUint64(fieldFgBytes, uint64(view.Bytes[stats.Foreground]))
		s.WriteUint64(fieldFgFsync, view.Fsync[stats.Foreground])
		s.WriteUint64(fieldBgBytes, uint64(view.Bytes[stats.Background]))
		s.WriteUint64(fieldBgFsync, view.Fsync[stats.Background])
		_ = s.End()

		_ = s.End()
	}
}

func writePackageTaskStateStatsProto(s *protoio.Stream, topN []perfstats.UserPackageStats,
	taskCountByUID map[uint32]uint64) {
	for i := range topN {
		pkg := &topN[i]
		view, ok := pkg.View.(*perfstats.ProcSingleStatsView)
		if !ok {
			continue
		}
		taskCount, ok := taskCountByUID[pkg.UID]
		if !ok {
			continue
		}
		s.Start(fieldPackageTaskStateStats)
		writeUserPackageInfoProto(s, pkg)
		s.WriteUint64(fieldIOBlockedTasks, view.Value)
		s.WriteUint64(fieldTotalTaskCount, taskCount)

		for _, proc := range view.TopNProcesses {
			s.Start(fieldProcessTaskStat)
			s.WriteString(fieldProcessCommand, proc.Command)
			s.WriteUint64(fieldIOBlockedTasks, proc.Value)
			_ = s.End()
		}
		_ = s.End()
	}
}

func writePackageMajorPageFaultsProto(s *protoio.Stream, topN []perfstats.UserPackageStats) {
	for i := range topN {
		pkg := &topN[i]
		view, ok := pkg.View.(*perfstats.ProcSingleStatsView)
		if !ok {
			continue
		}
		s.Start(fieldPackageMajorPageFaults)
		writeUserPackageInfoProto(s, pkg)
		s.WriteUint64(fieldMajorFaults, view.Value)

		for _, proc := range view.TopNProcesses {
			s.Start(fieldProcessFaults)
			s.WriteString(fieldProcessCommand, proc.Command)
			s.WriteUint64(fieldMajorFaults, proc.Value)
			_ = s.End()
		}
		_ = s.End()
	}
}
