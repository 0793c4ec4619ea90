package acquire

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"vodgrab/internal/media"
)

// Result is the outcome of one pooled job.
type Result struct {
	Job  *media.AcquisitionJob
	File AcquiredFile
	Err  error
}

// Pool runs jobs on a bounded number of workers.
type Pool struct {
	acq     *Acquirer
	workers int

	// OnResult, when set, is called as each job finishes. It may be called
	// from several goroutines at once.
	OnResult func(Result)
}

// NewPool creates a pool with the given worker count (minimum 1).
func NewPool(acq *Acquirer, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{acq: acq, workers: workers}
}

// Run acquires every job received on jobs until the channel is closed, then
// waits for in-flight jobs and returns all results in completion order. A job
// failure never stops other jobs. Jobs received after ctx is done are marked
// failed without being attempted.
func (p *Pool) Run(ctx context.Context, jobs <-chan *media.AcquisitionJob) []Result {
	var (
		mu      sync.Mutex
		results []Result
		g       errgroup.Group
	)
	g.SetLimit(p.workers)

	record := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		if p.OnResult != nil {
			p.OnResult(r)
		}
	}

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			job.Err = err
			job.State = media.JobFailed
			record(Result{Job: job, Err: err})
			continue
		}
		job := job
		g.Go(func() error {
			file, err := p.acq.Acquire(ctx, job)
			record(Result{Job: job, File: file, Err: err})
			return nil
		})
	}
	_ = g.Wait()
	return results
}
