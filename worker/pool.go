// Package worker provides the background execution pool for provisioning
// jobs. HTTP handlers enqueue a job and return immediately; workers drain the
// queue and report outcomes to the state manager.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/statemanager"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// Job is one unit of background work. Execute returns the workflow's result
// object (stored on the operation record) and its error.
type Job struct {
	// OperationID links the job to its statemanager record.
	OperationID string

	// TenantCode is empty for platform-level jobs (template refresh).
	TenantCode string

	// Timeout bounds the job's execution context. Zero means the pool
	// default.
	Timeout time.Duration

	// Execute runs the workflow.
	Execute func(ctx context.Context) (interface{}, error)
}

// Queue is a bounded in-memory job queue.
type Queue struct {
	jobs chan Job
}

// NewQueue creates a queue holding at most size pending jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{jobs: make(chan Job, size)}
}

// Enqueue adds a job without blocking. A full queue is an error the caller
// must surface, provisioning work must not be dropped silently.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Pool manages the workers draining the queue.
type Pool struct {
	queue          *Queue
	state          *statemanager.Manager
	workers        int
	defaultTimeout time.Duration
	log            *common.ContextLogger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Config configures the worker pool.
type Config struct {
	Workers        int           // concurrent workers, default 4
	DefaultTimeout time.Duration // per-job timeout fallback, default 15m
}

// NewPool creates a worker pool. Jobs for different tenants may run
// concurrently; callers are responsible for not enqueueing two jobs for the
// same tenant at once.
func NewPool(queue *Queue, state *statemanager.Manager, cfg Config, log *common.ContextLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Minute
	}
	if log == nil {
		log = common.ServiceLogger(nil, "worker")
	}
	return &Pool{
		queue:          queue,
		state:          state,
		workers:        cfg.Workers,
		defaultTimeout: cfg.DefaultTimeout,
		log:            log,
		stopChan:       make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.log.WithField("workers", p.workers).Info("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)

	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.queue.jobs:
			p.process(log, job)
		}
	}
}

func (p *Pool) process(log *common.ContextLogger, job Job) {
	log = log.WithFields(map[string]interface{}{
		"operation": job.OperationID,
		"tenant":    job.TenantCode,
	})

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p.state.MarkRunning(job.OperationID)
	log.Info("job started")

	result, err := job.Execute(ctx)
	p.state.Complete(job.OperationID, result, err)

	if err != nil {
		log.WithError(err).Error("job failed")
		return
	}
	log.Info("job completed")
}
