// Package sched runs the daily session reset on the exchange's wall clock.
package sched

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/runloop"
)

// DailyReset clears intraday state shortly after the close, local to the
// exchange time zone so DST never shifts the boundary.
type DailyReset struct {
	cron *cron.Cron
	loop *runloop.Loop
	jobs []func()
}

// NewDailyReset schedules spec (standard 5-field cron) in loc. Each job runs
// on the loop, in registration order.
func NewDailyReset(loc *time.Location, spec string, loop *runloop.Loop, jobs ...func()) (*DailyReset, error) {
	d := &DailyReset{
		cron: cron.New(cron.WithLocation(loc)),
		loop: loop,
		jobs: jobs,
	}
	if _, err := d.cron.AddFunc(spec, d.fire); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DailyReset) fire() {
	log.Info().Msg("running daily session reset")
	ok := d.loop.Submit(func() {
		for _, job := range d.jobs {
			job()
		}
	})
	if !ok {
		log.Warn().Msg("daily reset skipped, run loop stopped")
	}
}

// Start begins the schedule.
func (d *DailyReset) Start() {
	d.cron.Start()
}

// Stop halts the schedule and waits for a running job, bounded by ctx.
func (d *DailyReset) Stop(ctx context.Context) error {
	select {
	case <-d.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
