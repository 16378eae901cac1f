// Package poller runs repeating tasks whose failures never stop the schedule.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// RunFunc is one execution of a task.
type RunFunc func(ctx context.Context) error

// Task calls its RunFunc every interval. Each run gets its own goroutine, so
// a run slower than the interval overlaps the next one. A failed run is logged
// and handed to OnError; the next tick retries.
type Task struct {
	name     string
	interval time.Duration
	run      RunFunc

	// OnError, if set, is called after a failed run.
	OnError func(err error)

	kick     chan struct{}
	inFlight sync.WaitGroup
	runs     atomic.Int64
	failures atomic.Int64
}

func NewTask(name string, interval time.Duration, run RunFunc) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poller %s: interval must be positive, got %s", name, interval)
	}
	if run == nil {
		return nil, fmt.Errorf("poller %s: run function is nil", name)
	}
	return &Task{
		name:     name,
		interval: interval,
		run:      run,
		kick:     make(chan struct{}, 1),
	}, nil
}

func (t *Task) Name() string {
	return t.name
}

// Trigger asks for an extra run as soon as possible. Triggers made while one
// is already pending collapse into it.
func (t *Task) Trigger() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Loop runs the task once immediately and then on every tick until ctx is
// done. It returns after the in-flight runs have finished.
func (t *Task) Loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	log.Printf("Poller: %s started, every %s", t.name, t.interval)
	t.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			t.inFlight.Wait()
			log.Printf("Poller: %s stopped after %d runs (%d failed)", t.name, t.Runs(), t.Failures())
			return
		case <-ticker.C:
			t.spawn(ctx)
		case <-t.kick:
			t.spawn(ctx)
		}
	}
}

// RunOnce executes the task synchronously.
func (t *Task) RunOnce(ctx context.Context) error {
	t.runs.Add(1)
	err := t.run(ctx)
	if err != nil {
		t.failures.Add(1)
		log.Printf("Poller: %s failed: %v", t.name, err)
		if t.OnError != nil {
			t.OnError(err)
		}
	}
	return err
}

func (t *Task) spawn(ctx context.Context) {
	t.inFlight.Add(1)
	go func() {
		defer t.inFlight.Done()
		t.RunOnce(ctx)
	}()
}

// Runs returns how many runs have started.
func (t *Task) Runs() int64 {
	return t.runs.Load()
}

// Failures returns how many runs have failed.
func (t *Task) Failures() int64 {
	return t.failures.Load()
}
