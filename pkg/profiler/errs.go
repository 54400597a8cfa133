package profiler

import "errors"

var (
	// ErrNilUIDStatsCollector indicates the per-UID collector handle could
	// not be resolved at the start of a pass.
	ErrNilUIDStatsCollector = errors.New("profiler: per-UID stats collector must not be nil")

	// ErrNilProcStatCollector indicates the proc stat collector handle
	// could not be resolved at the start of a pass.
	ErrNilProcStatCollector = errors.New("profiler: proc stats collector must not be nil")

	// ErrZeroCacheSize indicates a collection cache was configured with
	// capacity zero.
	ErrZeroCacheSize = errors.New("profiler: maximum cache size cannot be 0")
)
