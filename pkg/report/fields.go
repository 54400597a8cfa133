package report

import "google.golang.org/protobuf/encoding/protowire"

// Wire-format field numbers for the structured dump. The layout mirrors
// the text report: dump -> performance stats -> per-context collection ->
// records -> system-wide stats + five per-category lists -> per-package
// entries -> nested per-process entries.

// PerformanceProfilerDump
const fieldPerformanceStats protowire.Number = 1

// PerformanceStats
const (
	fieldBootTimeStats         protowire.Number = 1
	fieldWakeUpStats           protowire.Number = 2
	fieldUserSwitchStats       protowire.Number = 3
	fieldLastNMinutesStats     protowire.Number = 4
	fieldCustomCollectionStats protowire.Number = 5
)

// StatsCollection (from/to only on user-switch sections)
const (
	fieldCollectionIntervalMillis protowire.Number = 1
	fieldRecords                  protowire.Number = 2
	fieldFromUserID               protowire.Number = 3
	fieldToUserID                 protowire.Number = 4
)

// StatsRecord
const (
	fieldRecordID                   protowire.Number = 1
	fieldRecordDate                 protowire.Number = 2
	fieldRecordTime                 protowire.Number = 3
	fieldSystemWideStats            protowire.Number = 4
	fieldPackageCPUStats            protowire.Number = 5
	fieldPackageStorageIOReadStats  protowire.Number = 6
	fieldPackageStorageIOWriteStats protowire.Number = 7
	fieldPackageTaskStateStats      protowire.Number = 8
	fieldPackageMajorPageFaults     protowire.Number = 9
	fieldRecordSystemState          protowire.Number = 10
)

// Date / TimeOfDay
const (
	fieldDateYear  protowire.Number = 1
	fieldDateMonth protowire.Number = 2
	fieldDateDay   protowire.Number = 3

	fieldTimeHours   protowire.Number = 1
	fieldTimeMinutes protowire.Number = 2
	fieldTimeSeconds protowire.Number = 3
)

// SystemWideStats
const (
	fieldIOWaitTimeMillis         protowire.Number = 1
	fieldIdleCPUTimeMillis        protowire.Number = 2
	fieldTotalCPUTimeMillis       protowire.Number = 3
	fieldTotalCPUCycles           protowire.Number = 4
	fieldTotalContextSwitches     protowire.Number = 5
	fieldTotalIOBlockedProcesses  protowire.Number = 6
	fieldTotalProcesses           protowire.Number = 7
	fieldTotalMajorPageFaults     protowire.Number = 8
	fieldMajorFaultsPercentChange protowire.Number = 9
	fieldTotalStorageIOReadStats  protowire.Number = 10
	fieldTotalStorageIOWriteStats protowire.Number = 11
)

// StorageIoStats
const (
	fieldFgBytes protowire.Number = 1
	fieldFgFsync protowire.Number = 2
	fieldBgBytes protowire.Number = 3
	fieldBgFsync protowire.Number = 4
)

// UserPackageInfo
const (
	fieldUserID      protowire.Number = 1
	fieldPackageName protowire.Number = 2
)

// PackageCpuStats / CpuStats / ProcessCpuStats
const (
	fieldUserPackageInfo protowire.Number = 1
	fieldCPUStats        protowire.Number = 2
	fieldProcessCPUStats protowire.Number = 3

	fieldCPUTimeMillis protowire.Number = 1
	fieldCPUCycles     protowire.Number = 2

	fieldProcessCommand  protowire.Number = 1
	fieldProcessCPUStat  protowire.Number = 2
	fieldStorageIOStats  protowire.Number = 2
	fieldIOBlockedTasks  protowire.Number = 2
	fieldTotalTaskCount  protowire.Number = 3
	fieldProcessTaskStat protowire.Number = 4
	fieldMajorFaults     protowire.Number = 2
	fieldProcessFaults   protowire.Number = 3
)
