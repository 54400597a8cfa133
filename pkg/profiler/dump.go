package profiler

import (
	"io"

	"go.uber.org/zap"

	"github.com/opencar/watchdogd/pkg/perfstats"
	"github.com/opencar/watchdogd/pkg/report"
)

// WriteDump renders the text report for every system-event context plus
// the periodic cache. A failing section does not stop later independent
// sections; the first error encountered is returned.
func (p *Profiler) WriteDump(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	keep := func(section string, err error) {
		if err == nil {
			return
		}
		p.log.Error("failed to render dump section", zap.String("section", section), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	keep("boot-time", report.WriteSection(w, report.BoottimeTitle, &p.boottime))
	keep("wake-up", report.WriteSection(w, report.WakeUpTitle, &p.wakeUp))
	keep("user-switch", report.WriteUserSwitchSection(w, p.userSwitches))
	keep("periodic", report.WriteSection(w, report.PeriodicTitle, &p.periodic))
	return firstErr
}

// WriteProtoDump renders the structured dump for every context, tagging
// each section with its configured collection interval.
func (p *Profiler) WriteProtoDump(intervals report.CollectionIntervals, w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return report.WriteProtoDump(w, intervals, report.Collections{
		Boottime:   &p.boottime,
		WakeUp:     &p.wakeUp,
		UserSwitch: p.userSwitches,
		Periodic:   &p.periodic,
		Custom:     &p.custom,
	})
}

// WriteCustomCollectionDump renders the custom collection's report without
// ending the collection.
func (p *Profiler) WriteCustomCollectionDump(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return report.WriteSection(w, report.CustomTitle, &p.custom)
}

// EndCustomCollection renders the custom report when w is non-nil, then
// resets the custom cache to its just-initialized state, capacity policy
// included.
func (p *Profiler) EndCustomCollection(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if w != nil {
		err = report.WriteSection(w, report.CustomTitle, &p.custom)
	}
	p.custom = perfstats.CollectionInfo{MaxCacheSize: perfstats.Unbounded}
	delete(p.lastMajorFaults, ctxCustom)
	return err
}
