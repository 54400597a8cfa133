package collector

import "errors"

var (
	// ErrNoCPULine indicates that the system stat file had no aggregate
	// cpu line.
	ErrNoCPULine = errors.New("collector: no cpu line")

	// ErrShortCPULine indicates that the aggregate cpu line had fewer tick
	// columns than expected.
	ErrShortCPULine = errors.New("collector: short cpu line")

	// ErrMalformedStat indicates that a per-process stat file was empty or
	// malformed.
	ErrMalformedStat = errors.New("collector: malformed stat")
)
