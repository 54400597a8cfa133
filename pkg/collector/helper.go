package collector

import (
	"os"
	"strconv"
)

// ClockTicks returns the number of jiffies (clock ticks) per second.
// It first checks the env var CLK_TCK (useful for testing), otherwise
// falls back to 100 (common default).
func ClockTicks() uint64 {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return uint64(v)
	}
	return 100
}

func deltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	// counter wrapped or prev unset
	return 0
}

func ticksToMillis(ticks, clkTck uint64) uint64 {
	return ticks * 1000 / clkTck
}
