package workers

import (
	"sync"
	"time"
)

// DelayedTask runs fn once after a delay unless cancelled first. Done is
// closed when the task has either run or been cancelled.
type DelayedTask struct {
	timer *time.Timer
	done  chan struct{}

	mu        sync.Mutex
	finished  bool
	cancelled bool
}

// Schedule starts a DelayedTask that calls fn after delay.
func Schedule(delay time.Duration, fn func()) *DelayedTask {
	t := &DelayedTask{done: make(chan struct{})}
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.finished {
			t.mu.Unlock()
			return
		}
		t.finished = true
		t.mu.Unlock()

		defer close(t.done)
		fn()
	})
	return t
}

// Cancel stops the task if it has not started. It reports whether this
// call prevented the run.
func (t *DelayedTask) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return false
	}
	t.finished = true
	t.cancelled = true
	t.timer.Stop()
	close(t.done)
	return true
}

// Done is closed after the task ran or was cancelled.
func (t *DelayedTask) Done() <-chan struct{} {
	return t.done
}

func (t *DelayedTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
