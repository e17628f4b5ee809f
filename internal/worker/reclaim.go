package worker

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// Reclaimer periodically returns jobs with lapsed leases to pending.
type Reclaimer struct {
	reclaimer ExpiredReclaimer
	schedule  cron.Schedule
	spec      string
}

// NewReclaimer parses spec as a five field cron expression or a descriptor
// such as "@every 30s".
func NewReclaimer(spec string, reclaimer ExpiredReclaimer) (*Reclaimer, error) {
	if reclaimer == nil {
		panic("reclaimer requires an expired reclaimer")
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow |
			cron.Descriptor,
	)

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, err
	}

	return &Reclaimer{reclaimer: reclaimer, schedule: sched, spec: spec}, nil
}

// Run reclaims on every tick of the schedule until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	log.Info("reclaimer listening", "schedule", r.spec)

	for {
		next := r.schedule.Next(time.Now())
		select {
		case <-time.After(time.Until(next)):
			if err := r.reclaimer.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				log.Error("failed to reclaim expired jobs", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
