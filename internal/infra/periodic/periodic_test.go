package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()                  {}

type countTask struct {
	runs atomic.Int32
	done chan struct{}
}

func (c *countTask) Name() string { return "count" }

func (c *countTask) Run(context.Context) {
	c.runs.Add(1)
	c.done <- struct{}{}
}

func TestRunner_Tick(t *testing.T) {
	ticker := newManualTicker()
	task := &countTask{done: make(chan struct{}, 10)}
	r := Start(task, ticker, time.Second, nil)
	defer r.Stop()

	for i := 0; i < 3; i++ {
		ticker.ch <- time.Now()
		<-task.done
	}
	assert.EqualValues(t, 3, task.runs.Load())
}

func TestRunner_TriggerRun(t *testing.T) {
	task := &countTask{done: make(chan struct{}, 10)}
	r := Start(task, NewTicker(time.Hour), time.Second, nil)
	defer r.Stop()

	r.TriggerRun()
	select {
	case <-task.done:
	case <-time.After(time.Second):
		t.Fatal("triggered run did not happen")
	}
}

func TestRunner_TriggerAfterStop(t *testing.T) {
	task := &countTask{done: make(chan struct{}, 10)}
	r := Start(task, NewTicker(time.Hour), time.Second, nil)
	r.Stop()

	r.TriggerRun()
	assert.Zero(t, task.runs.Load())
}

func TestRunner_KillCancelsRun(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	task := TaskFunc{TaskName: "slow", Fn: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}}
	r := Start(task, NewTicker(time.Hour), time.Hour, nil)
	go r.TriggerRun()
	<-started

	r.Kill()
	select {
	case <-cancelled:
	default:
		t.Fatal("Kill returned before the run observed cancellation")
	}
}

func TestRunner_PanicIsContained(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 2)
	task := TaskFunc{TaskName: "panicky", Fn: func(context.Context) {
		n := runs.Add(1)
		done <- struct{}{}
		if n == 1 {
			panic("boom")
		}
	}}
	r := Start(task, NewTicker(time.Hour), time.Second, nil)
	defer r.Stop()

	r.TriggerRun()
	<-done
	r.TriggerRun()
	<-done
	assert.EqualValues(t, 2, runs.Load())
}
