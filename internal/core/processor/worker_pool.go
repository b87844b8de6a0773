package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned for tasks submitted after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is one unit of work. It must honor ctx.
type Task func(ctx context.Context) error

// WorkerPool bounds how many capability calls run at once across all requests.
type WorkerPool struct {
	jobs            chan *job
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

type job struct {
	ctx      context.Context
	task     Task
	resultCh chan error // Individueller Ergebniskanal pro Job
}

// NewWorkerPool starts workerCount workers. A non-positive count uses 75% of the CPUs, at least 2.
// A non-positive queueSize buffers twice the worker count.
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = max(2, (runtime.NumCPU()*3)/4)
	}
	if queueSize <= 0 {
		queueSize = workerCount * 2
	}

	log.Infof("Initializing recognition worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		jobs:        make(chan *job, queueSize),
		workerCount: workerCount,
		shutdown:    make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case j := <-p.jobs:
					p.run(workerID, j)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) run(workerID int, j *job) {
	// abgebrochene Jobs gar nicht erst starten
	if err := j.ctx.Err(); err != nil {
		j.resultCh <- err
		return
	}

	p.activeJobsMutex.Lock()
	p.activeJobs++
	p.activeJobsMutex.Unlock()

	start := time.Now()
	err := safeRun(j.ctx, j.task)

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d completed task in %v", workerID, time.Since(start))
	j.resultCh <- err
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Do runs task on a worker and returns its error. Once a worker has accepted the task,
// Do waits for it to finish even if ctx is cancelled, so the task never outlives the call.
func (p *WorkerPool) Do(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.shutdown:
		return ErrPoolClosed
	default:
	}

	resultCh := make(chan error, 1)
	select {
	case p.jobs <- &job{ctx: ctx, task: task, resultCh: resultCh}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.shutdown:
		return ErrPoolClosed
	}

	select {
	case err := <-resultCh:
		return err
	case <-p.shutdown:
		// ein Worker kann den Job noch halten
		select {
		case err := <-resultCh:
			return err
		case <-time.After(100 * time.Millisecond):
			return ErrPoolClosed
		}
	}
}

// RunAll runs every task concurrently through the pool. The first failure cancels the rest and
// is returned; a cancellation caused by that failure never masks it. RunAll returns only after
// every submitted task has finished.
func (p *WorkerPool) RunAll(ctx context.Context, tasks []Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			err := p.Do(ctx, t)
			if err == nil {
				return
			}
			mu.Lock()
			if firstErr == nil || (errors.Is(firstErr, context.Canceled) && !errors.Is(err, context.Canceled)) {
				firstErr = err
			}
			mu.Unlock()
			cancel()
		}(t)
	}
	wg.Wait()
	return firstErr
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity gibt die Kapazität der Job-Queue zurück
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown stops the workers after their current task.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
}
