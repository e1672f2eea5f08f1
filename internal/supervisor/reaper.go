package supervisor

import (
	"context"
	"time"

	"github.com/loykin/symbiont/internal/detector"
	"github.com/loykin/symbiont/internal/store"
)

func (s *Service) pidDetector(pid int) detector.Detector {
	var start int64
	if v, ok := s.starts.Load(pid); ok {
		start = v.(int64)
	}
	return detector.PIDDetector{PID: pid, StartUnixMilli: start}
}

// Reap marks every live registry row whose process is gone as STOPPED and
// returns the rows it changed.
func (s *Service) Reap(ctx context.Context) ([]store.Record, error) {
	procs, err := s.store.GetProcesses(ctx, store.StatusAny)
	if err != nil {
		return nil, err
	}
	reaped := make([]store.Record, 0)
	for _, p := range procs {
		switch p.Status() {
		case store.StatusStopped, store.StatusDeleted:
			continue
		}
		d := s.detect(p.PID())
		alive, err := d.Alive(ctx)
		if err != nil {
			s.log.Warn("liveness check failed", "service", p.Service(), "detector", d.Describe(), "error", err)
			continue
		}
		if alive {
			continue
		}
		if err := p.SetStatus(ctx, store.StatusStopped); err != nil {
			return reaped, err
		}
		s.starts.Delete(p.PID())
		s.log.Info("process exited", "service", p.Service(), "pid", p.PID(), "port", p.Port())
		reaped = append(reaped, p.Snapshot())
	}
	return reaped, nil
}

func (s *Service) reapLoop(ctx context.Context) {
	t := time.NewTicker(s.reapEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Reap(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("reap failed", "error", err)
			}
		}
	}
}
