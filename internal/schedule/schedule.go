package schedule

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

// Parse accepts standard five field cron expressions.
func Parse(spec string) (cron.Schedule, error) {
	schedule, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Loop runs Run once immediately and then at every activation of Schedule
// until ctx is done. A failed run is logged and the loop keeps going; runs
// never overlap, activations missed while a run is in progress are skipped.
type Loop struct {
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
	Log      logr.Logger
}

func (l *Loop) Start(ctx context.Context) error {
	for {
		if err := l.Run(ctx); err != nil {
			l.Log.Error(err, "Scheduled run failed")
		}
		if ctx.Err() != nil {
			return nil
		}

		current := time.Now()
		nextRun := l.Schedule.Next(current)
		if nextRun.IsZero() {
			return xerrors.New("schedule has no further activations")
		}
		l.Log.Info("Waiting for next run", "next", nextRun)

		timer := time.NewTimer(nextRun.Sub(current))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
