// Package workers runs background tasks for the server and the agent.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var ErrPoolStopped = errors.New("worker pool is shutting down")

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	ctx        context.Context
	cancel     context.CancelFunc
	numWorkers int
	workerChan chan func()
	wg         sync.WaitGroup
	logger     utils.Logger
	stopOnce   sync.Once
}

func NewWorkerPool(ctx context.Context, numWorkers int, logger utils.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		ctx:        poolCtx,
		cancel:     cancel,
		numWorkers: numWorkers,
		workerChan: make(chan func(), numWorkers*4),
		logger:     logger,
	}
}

// Start launches the workers. A panicking task is logged and the worker
// keeps running.
func (wp *WorkerPool) Start() {
	wp.logger.Info(fmt.Sprintf("Starting worker pool with %d workers", wp.numWorkers), "workers")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go func(id int) {
			defer wp.wg.Done()
			for {
				select {
				case task := <-wp.workerChan:
					wp.run(id, task)
				case <-wp.ctx.Done():
					wp.logger.Debug(fmt.Sprintf("Worker %d stopping (context done)", id), "workers")
					return
				}
			}
		}(i)
	}
}

func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error(fmt.Sprintf("Worker %d panic recovered: %v", id, r), "workers")
		}
	}()
	task()
}

// Submit queues task. It blocks while the queue is full and fails once the
// pool is stopping.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case wp.workerChan <- task:
		return nil
	case <-wp.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop cancels the workers and waits for running tasks to return. Queued
// tasks that have not started are dropped.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping worker pool", "workers")
		wp.cancel()
		wp.wg.Wait()
		wp.logger.Info("Worker pool stopped", "workers")
	})
}

func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
