package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestDailySchedulerRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	driver := NewDailyScheduler(10 * time.Millisecond)
	fired := make(chan time.Time, 64)

	if err := driver.Start(context.Background(), func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("job did not run on start")
	}

	if err := driver.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop waits for the run loop, so after draining the channel nothing
	// new may arrive.
	for len(fired) > 0 {
		<-fired
	}
	select {
	case <-fired:
		t.Fatalf("job fired after Stop returned")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDailySchedulerRestart(t *testing.T) {
	t.Parallel()

	driver := NewDailyScheduler(time.Hour)
	fired := make(chan time.Time, 4)
	job := func(at time.Time) { fired <- at }

	if err := driver.Start(context.Background(), job); err != nil {
		t.Fatalf("first start: %v", err)
	}
	<-fired
	if err := driver.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := driver.Start(context.Background(), job); err != nil {
		t.Fatalf("restart: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("job did not run after restart")
	}
	if err := driver.Stop(context.Background()); err != nil {
		t.Fatalf("final stop: %v", err)
	}
}

func TestDailySchedulerStartWhileRunningIsNoop(t *testing.T) {
	t.Parallel()

	driver := NewDailyScheduler(time.Hour)
	fired := make(chan time.Time, 4)

	if err := driver.Start(context.Background(), func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-fired
	if err := driver.Start(context.Background(), func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("second start: %v", err)
	}
	select {
	case <-fired:
		t.Fatalf("second Start launched another run loop")
	case <-time.After(50 * time.Millisecond):
	}
	if err := driver.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
