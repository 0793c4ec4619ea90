package acquire

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodgrab/internal/media"
)

func TestPoolRunsAllJobsWithBoundedWorkers(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{
		failures: map[string]int{"https://cdn.test/2.m3u8": -1},
		delay:    10 * time.Millisecond,
	}
	pool := NewPool(newTestAcquirer(f, &fakeTool{}, nil), 2)

	var finished atomic.Int32
	pool.OnResult = func(Result) { finished.Add(1) }

	jobs := make(chan *media.AcquisitionJob)
	go func() {
		defer close(jobs)
		for i := 0; i < 5; i++ {
			url := fmt.Sprintf("https://cdn.test/%d.m3u8", i)
			job := newJob(dir, url, 0)
			job.Destination = filepath.Join(dir, fmt.Sprintf("Show_E%02d.mp4", i+1))
			jobs <- job
		}
	}()

	results := pool.Run(context.Background(), jobs)
	require.Len(t, results, 5)
	assert.Equal(t, int32(5), finished.Load())
	assert.LessOrEqual(t, f.maxSeen.Load(), int32(2))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			assert.Equal(t, "https://cdn.test/2.m3u8", r.Job.StreamURL)
			assert.Equal(t, media.JobFailed, r.Job.State)
		} else {
			assert.Equal(t, media.JobSucceeded, r.Job.State)
		}
	}
	assert.Equal(t, 1, failed, "one failure must not stop the others")
}

func TestPoolCancelledContextSkipsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{}
	pool := NewPool(newTestAcquirer(f, &fakeTool{}, nil), 1)
	jobs := make(chan *media.AcquisitionJob, 2)
	jobs <- newJob(t.TempDir(), "https://cdn.test/a.m3u8", 0)
	jobs <- newJob(t.TempDir(), "https://cdn.test/b.m3u8", 0)
	close(jobs)

	results := pool.Run(ctx, jobs)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, int32(0), f.calls.Load())
}
