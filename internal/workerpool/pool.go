// Package workerpool provides a bounded pool of job workers that recycle
// themselves once cumulative allocation crosses a configured threshold, to
// bound peak resident memory across a long build.
package workerpool

import (
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool. Jobs are arbitrary functions; Submit
// blocks while all workers are busy and the queue is full.
type Pool struct {
	jobs     chan func()
	wg       sync.WaitGroup
	memLimit uint64

	closeOnce sync.Once
}

// New starts a pool with the given number of workers. memLimit is the
// per-worker cumulative allocation (in bytes) after which the worker forces a
// garbage collection and is replaced by a fresh goroutine; zero disables
// recycling.
func New(workers int, memLimit uint64) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		jobs:     make(chan func(), workers),
		memLimit: memLimit,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	baseline := stats.TotalAlloc

	for job := range p.jobs {
		job()

		if p.memLimit == 0 {
			continue
		}
		runtime.ReadMemStats(&stats)
		if stats.TotalAlloc-baseline > p.memLimit {
			runtime.GC()
			// Hand the slot to a fresh worker with a new baseline.
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

// Submit queues a job for execution.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Run executes a job on the pool and waits for it to finish.
func (p *Pool) Run(job func()) {
	done := make(chan struct{})
	p.Submit(func() {
		defer close(done)
		job()
	})
	<-done
}

// Close stops accepting jobs and waits for in-flight work to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
