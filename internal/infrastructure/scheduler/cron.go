package scheduler

import (
	"context"
	"time"

	"BidMailer/internal/ports"
)

// DailyScheduler drives recurring pipeline runs with a fixed-interval
// ticker. Production deployments normally run one-shot under external
// cron; this driver backs the optional daemon mode.
type DailyScheduler struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler builds a scheduler firing once per interval; zero
// means every 24 hours.
func NewDailyScheduler(interval time.Duration) *DailyScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &DailyScheduler{interval: interval}
}

// Start runs the job immediately and then on every tick.
func (c *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if c.stop != nil {
		return nil
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits until it has drained, so a
// following Start never overlaps with the previous run loop.
func (c *DailyScheduler) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	close(c.stop)
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.stop = nil
	c.done = nil
	return nil
}
