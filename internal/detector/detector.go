// Package detector decides whether a registered worker process is still
// alive.
package detector

import (
	"context"
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDDetector detects by PID. When StartUnixMilli is set, a live process
// with a different start time is a reused PID and counts as dead.
type PIDDetector struct {
	PID            int
	StartUnixMilli int64
}

func (d PIDDetector) Alive(ctx context.Context) (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(d.PID))
	if err != nil || !ok {
		return false, err
	}
	if d.StartUnixMilli > 0 {
		cur := StartTime(ctx, d.PID)
		if cur > 0 && cur != d.StartUnixMilli {
			return false, nil
		}
	}
	return true, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// StartTime returns the process creation time in Unix milliseconds, or 0
// when unavailable.
func StartTime(ctx context.Context, pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return ms
}

// Func adapts a function to Detector.
type Func func(ctx context.Context) (bool, error)

func (f Func) Alive(ctx context.Context) (bool, error) { return f(ctx) }
func (f Func) Describe() string                        { return "func" }
