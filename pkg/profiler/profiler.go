// Package profiler reduces raw resource-usage delta snapshots into
// bounded per-context performance summaries and serves the text and
// structured dumps over them.
//
// Collection passes are driven externally (the dispatcher owns timing);
// each entry point runs one full pass: resolve the collaborator
// collectors or fail fast, reduce their deltas through the per-metric
// top-N trackers, and append the resulting record to the context's cache.
package profiler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencar/watchdogd/pkg/perfstats"
	"github.com/opencar/watchdogd/pkg/stats"
)

// Defaults applied by Config.withDefaults for unset fields.
const (
	DefaultTopNStatsPerCategory     = 10
	DefaultTopNStatsPerSubcategory  = 5
	DefaultMaxUserSwitchEvents      = 5
	DefaultPeriodicCacheSize        = 180
	DefaultSystemEventCacheDuration = time.Hour
)

// Config carries the externally configured capacities and retention
// durations.
type Config struct {
	// TopNStatsPerCategory bounds each metric's package-level ranking.
	TopNStatsPerCategory int
	// TopNStatsPerSubcategory bounds the nested per-process rankings.
	TopNStatsPerSubcategory int
	// MaxUserSwitchEvents caps the user-switch event list.
	MaxUserSwitchEvents int
	// PeriodicCacheSize is the periodic cache's sliding-window capacity.
	PeriodicCacheSize int
	// SystemEventCacheDuration expires boot-time, wake-up, and pending
	// user-switch data after a quiet period.
	SystemEventCacheDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopNStatsPerCategory == 0 {
		c.TopNStatsPerCategory = DefaultTopNStatsPerCategory
	}
	if c.TopNStatsPerSubcategory == 0 {
		c.TopNStatsPerSubcategory = DefaultTopNStatsPerSubcategory
	}
	if c.MaxUserSwitchEvents == 0 {
		c.MaxUserSwitchEvents = DefaultMaxUserSwitchEvents
	}
	if c.PeriodicCacheSize == 0 {
		c.PeriodicCacheSize = DefaultPeriodicCacheSize
	}
	if c.SystemEventCacheDuration == 0 {
		c.SystemEventCacheDuration = DefaultSystemEventCacheDuration
	}
	return c
}

// contextID identifies a collection context for the running aggregate
// state carried across passes.
type contextID int

const (
	ctxBoottime contextID = iota
	ctxPeriodic
	ctxUserSwitch
	ctxWakeUp
	ctxCustom
)

// Profiler owns one cache per collection context plus the running
// aggregate state. A single mutex guards all of it; passes and dumps
// serialize against each other.
type Profiler struct {
	mu sync.Mutex

	topNStatsPerCategory     int
	topNStatsPerSubcategory  int
	maxUserSwitchEvents      int
	systemEventCacheDuration time.Duration

	boottime     perfstats.CollectionInfo
	periodic     perfstats.CollectionInfo
	wakeUp       perfstats.CollectionInfo
	custom       perfstats.CollectionInfo
	userSwitches []perfstats.UserSwitchCollection

	// lastMajorFaults carries the previous pass's total per context so
	// each context computes its own percent change.
	lastMajorFaults map[contextID]uint64

	log *zap.Logger
}

// New builds a Profiler from cfg, applying defaults to unset fields.
// Explicitly configured negative capacities are a configuration failure.
func New(cfg Config, log *zap.Logger) (*Profiler, error) {
	cfg = cfg.withDefaults()
	if cfg.TopNStatsPerCategory < 0 || cfg.TopNStatsPerSubcategory < 0 ||
		cfg.MaxUserSwitchEvents < 0 || cfg.PeriodicCacheSize < 0 {
		return nil, ErrZeroCacheSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Profiler{
		topNStatsPerCategory:     cfg.TopNStatsPerCategory,
		topNStatsPerSubcategory:  cfg.TopNStatsPerSubcategory,
		maxUserSwitchEvents:      cfg.MaxUserSwitchEvents,
		systemEventCacheDuration: cfg.SystemEventCacheDuration,
		boottime:                 perfstats.CollectionInfo{MaxCacheSize: perfstats.Unbounded},
		periodic:                 perfstats.CollectionInfo{MaxCacheSize: cfg.PeriodicCacheSize},
		wakeUp:                   perfstats.CollectionInfo{MaxCacheSize: perfstats.Unbounded},
		custom:                   perfstats.CollectionInfo{MaxCacheSize: perfstats.Unbounded},
		lastMajorFaults:          make(map[contextID]uint64),
		log:                      log,
	}, nil
}

func checkDataCollectors(uidC stats.UIDStatsCollector, procC stats.ProcStatCollector) error {
	var errs []error
	if uidC == nil {
		errs = append(errs, ErrNilUIDStatsCollector)
	}
	if procC == nil {
		errs = append(errs, ErrNilProcStatCollector)
	}
	return errors.Join(errs...)
}

// OnBoottimeCollection runs one boot-time pass.
func (p *Profiler) OnBoottimeCollection(now time.Time, uidC stats.UIDStatsCollector,
	procC stats.ProcStatCollector) error {
	if err := checkDataCollectors(uidC, procC); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processLocked(now, stats.NormalMode, nil, uidC, procC, &p.boottime, ctxBoottime)
}

// OnPeriodicCollection runs one periodic pass. Stale boot-time, wake-up,
// and pending user-switch data is expired first.
func (p *Profiler) OnPeriodicCollection(now time.Time, state stats.SystemState,
	uidC stats.UIDStatsCollector, procC stats.ProcStatCollector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearExpiredSystemEventsLocked(now)
	if err := checkDataCollectors(uidC, procC); err != nil {
		return err
	}
	return p.processLocked(now, state, nil, uidC, procC, &p.periodic, ctxPeriodic)
}

// OnUserSwitchCollection runs one pass for the (from, to) user switch. A
// transition differing from the most recent event opens a new event entry;
// the event list evicts its oldest entry once the configured cap is hit.
func (p *Profiler) OnUserSwitchCollection(now time.Time, from, to int32,
	uidC stats.UIDStatsCollector, procC stats.ProcStatCollector) error {
	if err := checkDataCollectors(uidC, procC); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := len(p.userSwitches) - 1
	if last < 0 || p.userSwitches[last].From != from || p.userSwitches[last].To != to {
		if len(p.userSwitches) >= p.maxUserSwitchEvents {
			p.userSwitches = p.userSwitches[1:]
		}
		p.userSwitches = append(p.userSwitches, perfstats.UserSwitchCollection{
			CollectionInfo: perfstats.CollectionInfo{MaxCacheSize: perfstats.Unbounded},
			From:           from,
			To:             to,
		})
	}
	event := &p.userSwitches[len(p.userSwitches)-1]
	return p.processLocked(now, stats.NormalMode, nil, uidC, procC, &event.CollectionInfo, ctxUserSwitch)
}

// OnWakeUpCollection runs one wake-up pass.
func (p *Profiler) OnWakeUpCollection(now time.Time, uidC stats.UIDStatsCollector,
	procC stats.ProcStatCollector) error {
	if err := checkDataCollectors(uidC, procC); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processLocked(now, stats.NormalMode, nil, uidC, procC, &p.wakeUp, ctxWakeUp)
}

// OnCustomCollection runs one custom pass. A non-empty filterPackages set
// bypasses the top-N capacity: every matching package is appended to every
// metric's list unconditionally.
func (p *Profiler) OnCustomCollection(now time.Time, state stats.SystemState,
	filterPackages map[string]struct{}, uidC stats.UIDStatsCollector,
	procC stats.ProcStatCollector) error {
	if err := checkDataCollectors(uidC, procC); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processLocked(now, state, filterPackages, uidC, procC, &p.custom, ctxCustom)
}

// OnSystemStartup clears the boot-time and wake-up caches and their
// percent-change baselines. Other contexts are untouched.
func (p *Profiler) OnSystemStartup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boottime.Clear()
	p.wakeUp.Clear()
	delete(p.lastMajorFaults, ctxBoottime)
	delete(p.lastMajorFaults, ctxWakeUp)
}

// Terminate drops every cache; the profiler must not be used afterwards.
func (p *Profiler) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.Warn("terminating performance profiler")
	p.boottime = perfstats.CollectionInfo{}
	p.periodic = perfstats.CollectionInfo{}
	p.wakeUp = perfstats.CollectionInfo{}
	p.custom = perfstats.CollectionInfo{}
	p.userSwitches = nil
}

func (p *Profiler) processLocked(now time.Time, state stats.SystemState,
	filterPackages map[string]struct{}, uidC stats.UIDStatsCollector,
	procC stats.ProcStatCollector, cache *perfstats.CollectionInfo, ctx contextID) error {
	if cache.MaxCacheSize == 0 {
		return ErrZeroCacheSize
	}
	record := perfstats.Record{Time: now, SystemState: state}
	p.processUIDStatsLocked(filterPackages, uidC, ctx, &record.UserPackageSummary)
	processProcStat(procC, &record.SystemSummary)
	// The two collectors estimate system-wide CPU time independently; the
	// proc-stat value is authoritative. CPU cycles run the other way:
	// proc stat exposes no machine-wide cycle counter, so the system total
	// is the per-package sum.
	record.UserPackageSummary.TotalCPUTimeMillis = record.SystemSummary.TotalCPUTimeMillis
	record.SystemSummary.TotalCPUCycles = record.UserPackageSummary.TotalCPUCycles
	cache.Append(record)
	return nil
}

func (p *Profiler) processUIDStatsLocked(filterPackages map[string]struct{},
	uidC stats.UIDStatsCollector, ctx contextID, summary *perfstats.UserPackageSummaryStats) {
	uidStats := uidC.DeltaStats()
	if len(uidStats) == 0 {
		return
	}
	summary.TaskCountByUID = make(map[uint32]uint64)
	if len(filterPackages) == 0 {
		summary.TopNCPUTimes = make([]perfstats.UserPackageStats, p.topNStatsPerCategory)
		summary.TopNIOReads = make([]perfstats.UserPackageStats, p.topNStatsPerCategory)
		summary.TopNIOWrites = make([]perfstats.UserPackageStats, p.topNStatsPerCategory)
		summary.TopNIOBlocked = make([]perfstats.UserPackageStats, p.topNStatsPerCategory)
		summary.TopNMajorFaults = make([]perfstats.UserPackageStats, p.topNStatsPerCategory)
	}
	for i := range uidStats {
		cur := &uidStats[i]

		// System-wide totals accumulate every entity, admitted or not.
		summary.TotalCPUCycles += cur.ProcStats.CPUCycles
		summary.AddIOStats(&cur.IOStats)
		summary.TotalMajorFaults += cur.ProcStats.TotalMajorFaults

		ioReads := perfstats.NewIOStats(stats.ReadBytes, cur)
		ioWrites := perfstats.NewIOStats(stats.WriteBytes, cur)
		cpuTimes := perfstats.NewProcStats(perfstats.CPUTime, cur, p.topNStatsPerSubcategory)
		ioBlocked := perfstats.NewProcStats(perfstats.IOBlockedTasksCount, cur, p.topNStatsPerSubcategory)
		majorFaults := perfstats.NewProcStats(perfstats.MajorFaults, cur, p.topNStatsPerSubcategory)

		if len(filterPackages) == 0 {
			perfstats.CacheTopN(ioReads, summary.TopNIOReads)
			perfstats.CacheTopN(ioWrites, summary.TopNIOWrites)
			perfstats.CacheTopN(cpuTimes, summary.TopNCPUTimes)
			if perfstats.CacheTopN(ioBlocked, summary.TopNIOBlocked) {
				summary.TaskCountByUID[cur.UID] = cur.ProcStats.TotalTasksCount
			}
			perfstats.CacheTopN(majorFaults, summary.TopNMajorFaults)
		} else if _, ok := filterPackages[cur.PackageName]; ok {
			summary.TopNIOReads = append(summary.TopNIOReads, ioReads)
			summary.TopNIOWrites = append(summary.TopNIOWrites, ioWrites)
			summary.TopNCPUTimes = append(summary.TopNCPUTimes, cpuTimes)
			summary.TopNIOBlocked = append(summary.TopNIOBlocked, ioBlocked)
			summary.TopNMajorFaults = append(summary.TopNMajorFaults, majorFaults)
			summary.TaskCountByUID[cur.UID] = cur.ProcStats.TotalTasksCount
		}
	}
	if last := p.lastMajorFaults[ctx]; last != 0 {
		// Skipped when the previous total is zero: the ratio is undefined
		// on a context's first pass.
		increase := float64(summary.TotalMajorFaults) - float64(last)
		summary.MajorFaultsPercentChange = increase / float64(last) * 100
	}
	p.lastMajorFaults[ctx] = summary.TotalMajorFaults

	summary.TopNCPUTimes = perfstats.TrimEmptyStats(summary.TopNCPUTimes)
	summary.TopNIOReads = perfstats.TrimEmptyStats(summary.TopNIOReads)
	summary.TopNIOWrites = perfstats.TrimEmptyStats(summary.TopNIOWrites)
	summary.TopNIOBlocked = perfstats.TrimEmptyStats(summary.TopNIOBlocked)
	summary.TopNMajorFaults = perfstats.TrimEmptyStats(summary.TopNMajorFaults)
}

func processProcStat(procC stats.ProcStatCollector, summary *perfstats.SystemSummaryStats) {
	info := procC.DeltaStats()
	summary.CPUIOWaitTimeMillis = info.CPUStats.IOWaitTimeMillis
	summary.CPUIdleTimeMillis = info.CPUStats.IdleTimeMillis
	summary.TotalCPUTimeMillis = info.TotalCPUTimeMillis()
	summary.ContextSwitchesCount = info.ContextSwitchesCount
	summary.IOBlockedProcessCount = info.IOBlockedProcessCount
	summary.TotalProcessCount = info.TotalProcessCount()
}

func (p *Profiler) clearExpiredSystemEventsLocked(now time.Time) {
	expired := func(info *perfstats.CollectionInfo) bool {
		if len(info.Records) == 0 {
			return false
		}
		newest := info.Records[len(info.Records)-1].Time
		return now.Sub(newest) >= p.systemEventCacheDuration
	}
	if expired(&p.boottime) {
		p.boottime.Clear()
		p.log.Info("cleared expired boot-time collection stats")
	}
	if expired(&p.wakeUp) {
		p.wakeUp.Clear()
		p.log.Info("cleared expired wake-up collection stats")
	}
	if len(p.userSwitches) > 0 && expired(&p.userSwitches[0].CollectionInfo) {
		p.userSwitches = p.userSwitches[1:]
		p.log.Info("cleared the oldest expired user-switch event stats")
	}
}
