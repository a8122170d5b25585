package batch

import (
	"runtime"
	"sync"
)

// pool fans jobs out over a fixed number of workers and collects results.
type pool[Job any, Result any] struct {
	workers int
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
}

// newPool sizes the pool to at most numJobs workers. A non-positive worker
// count means one worker per CPU.
func newPool[Job any, Result any](workers, numJobs int) *pool[Job, Result] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if numJobs > 0 {
		workers = min(workers, numJobs)
	}
	return &pool[Job, Result]{
		workers: workers,
		jobs:    make(chan Job, numJobs),
		results: make(chan Result, numJobs),
	}
}

func (p *pool[Job, Result]) start(fn func(Job) Result) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- fn(job)
			}
		}()
	}
}

func (p *pool[Job, Result]) submit(job Job) {
	p.jobs <- job
}

// close stops accepting jobs; the results channel closes once every worker
// has drained.
func (p *pool[Job, Result]) close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}
