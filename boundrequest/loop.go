package boundrequest

import (
	"context"
	"sync"
)

// Scheduler runs tasks on the goroutine that owns a Controller.
type Scheduler interface {
	// Post queues a task. It must not block, and must be safe to call from any
	// goroutine, including the scheduler's own.
	Post(task func())
}

// Loop is a Scheduler running tasks in FIFO order on the goroutine calling Run.
// Tasks posted while a batch is running are run in the next tick.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Post(task func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run runs posted tasks until the context is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Do runs task on the loop and waits for it to finish.
// It must not be called from a task, as it would wait for itself.
func (l *Loop) Do(ctx context.Context, task func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
