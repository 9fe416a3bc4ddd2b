package periodic

import (
	"context"
	"log/slog"
	"time"
)

// Ticker abstracts time.Ticker so tests can drive a Runner by hand.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type defaultTicker struct {
	*time.Ticker
}

func (t *defaultTicker) Chan() <-chan time.Time {
	return t.C
}

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &defaultTicker{Ticker: time.NewTicker(d)}
}

// Task is periodically executed work.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// Run executes the task once; it should return within the context's
	// deadline.
	Run(ctx context.Context)
}

// TaskFunc adapts a function to Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context)
}

// Name implements Task.
func (f TaskFunc) Name() string { return f.TaskName }

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) { f.Fn(ctx) }

// Runner runs a task periodically.
type Runner struct {
	task         Task
	ticker       Ticker
	timeout      time.Duration
	logger       *slog.Logger
	stop         chan struct{}
	loopFinished chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
}

// Start creates a Runner and starts running task on every tick of ticker.
// timeout bounds the context of each run; it may exceed the period, in
// which case a slow run is followed immediately by the next one.
func Start(task Task, ticker Ticker, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelF := context.WithCancel(context.Background())
	r := &Runner{
		task:         task,
		ticker:       ticker,
		timeout:      timeout,
		logger:       logger.With("task", task.Name()),
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
		trigger:      make(chan struct{}),
	}
	go r.runLoop()
	return r
}

// Stop stops the Runner. It blocks until a run in progress has finished.
func (r *Runner) Stop() {
	r.ticker.Stop()
	close(r.stop)
	<-r.loopFinished
}

// Kill is like Stop but also cancels the context of a run in progress.
func (r *Runner) Kill() {
	r.ticker.Stop()
	close(r.stop)
	r.cancelF()
	<-r.loopFinished
}

// TriggerRun runs the task now without changing the period. It blocks until
// the run has started or the Runner was stopped.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.Chan():
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	select {
	// stop wins when both are ready
	case <-r.stop:
		return
	default:
	}
	ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
	defer cancelF()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("periodic task panicked", "panic", p)
		}
	}()
	r.task.Run(ctx)
}
