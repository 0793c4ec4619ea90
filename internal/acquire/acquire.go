// Package acquire downloads resolved streams to disk. When a remux tool is
// available the result is a standard MP4; otherwise the segment-native
// transport stream is kept as-is.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"vodgrab/internal/hls"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
	"vodgrab/internal/remux"
	"vodgrab/internal/retry"
)

// AcquisitionFailed is returned once a job has used its whole retry budget, or
// hit an error that retrying cannot fix.
type AcquisitionFailed struct {
	URL      string
	Attempts int
	Err      error
}

func (e *AcquisitionFailed) Error() string {
	return fmt.Sprintf("acquiring %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *AcquisitionFailed) Unwrap() error {
	return e.Err
}

// Fetcher writes a stream to w.
type Fetcher interface {
	Fetch(ctx context.Context, req hls.Request, w io.Writer, progress hls.ProgressFunc) (hls.Stats, error)
}

// Verifier checks a finished file.
type Verifier interface {
	Verify(ctx context.Context, path string) (remux.ProbeResult, error)
}

// AcquiredFile describes a finished download.
type AcquiredFile struct {
	Path      string
	Container media.Container
	Bytes     int64
	Segments  int
}

// TransitionFunc observes job state changes.
type TransitionFunc func(job *media.AcquisitionJob, from, to media.JobState)

// Acquirer runs acquisition jobs.
type Acquirer struct {
	fetcher  Fetcher
	tool     remux.Tool
	verifier Verifier // nil skips verification
	backoff  retry.Config
	log      *zap.Logger

	// OnTransition, when set, is called on every state change.
	OnTransition TransitionFunc
	// OnProgress, when set, receives fragment progress per job.
	OnProgress func(job *media.AcquisitionJob, done, total int)
}

// New creates an Acquirer. verifier may be nil.
func New(fetcher Fetcher, tool remux.Tool, verifier Verifier, log *zap.Logger) *Acquirer {
	return &Acquirer{
		fetcher:  fetcher,
		tool:     tool,
		verifier: verifier,
		backoff:  DefaultBackoff(),
		log:      logging.OrNop(log),
	}
}

// SetBackoff replaces the delay policy between job attempts. MaxRetries is
// ignored; each job's RetryPolicy decides the budget.
func (a *Acquirer) SetBackoff(cfg retry.Config) {
	a.backoff = cfg
}

// Acquire downloads job.StreamURL. The job's State, Attempts, Container,
// Output and Err fields are updated as it runs.
func (a *Acquirer) Acquire(ctx context.Context, job *media.AcquisitionJob) (AcquiredFile, error) {
	log := a.log.With(zap.String("job", job.ID), zap.String("url", job.StreamURL))

	job.Container = media.ContainerTS
	if a.tool != nil && a.tool.Available() {
		job.Container = media.ContainerMP4
	} else {
		log.Info("remux tool unavailable, keeping transport stream")
	}
	final := withExt(job.Destination, job.Container.Ext())

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return a.fail(job, &AcquisitionFailed{URL: job.StreamURL, Err: fmt.Errorf("creating output directory: %w", err)})
	}

	cfg := a.backoff
	cfg.MaxRetries = job.Retry.Retries

	var file AcquiredFile
	err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		job.Attempts = attempt
		a.transition(job, media.JobDownloading)
		f, err := a.attempt(ctx, job, final)
		if err != nil {
			return err
		}
		file = f
		return nil
	}, func(attempt int, err error) {
		log.Warn("acquisition attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		a.transition(job, media.JobRetrying)
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			err = ex.Err
		}
		return a.fail(job, &AcquisitionFailed{URL: job.StreamURL, Attempts: job.Attempts, Err: err})
	}

	job.Output = file.Path
	a.transition(job, media.JobSucceeded)
	log.Info("acquired",
		zap.String("path", file.Path),
		zap.String("container", string(file.Container)),
		zap.String("size", humanize.Bytes(uint64(file.Bytes))),
		zap.Int("attempts", job.Attempts))
	return file, nil
}

// attempt performs one fresh download. Partial files from the attempt are removed on failure.
func (a *Acquirer) attempt(ctx context.Context, job *media.AcquisitionJob, final string) (AcquiredFile, error) {
	staging := strings.TrimSuffix(final, filepath.Ext(final)) + ".part.ts"
	_ = os.Remove(staging)

	stats, err := a.fetchTo(ctx, job, staging)
	if err != nil {
		_ = os.Remove(staging)
		return AcquiredFile{}, err
	}

	file := AcquiredFile{Path: final, Container: job.Container, Bytes: stats.Bytes, Segments: stats.Segments}
	if job.Container == media.ContainerTS {
		if err := os.Rename(staging, final); err != nil {
			_ = os.Remove(staging)
			return AcquiredFile{}, fmt.Errorf("finalising %s: %w", final, err)
		}
		return file, nil
	}

	defer os.Remove(staging)
	// The temp name keeps the .mp4 extension so the muxer picks the container.
	tmp := strings.TrimSuffix(final, filepath.Ext(final)) + ".part" + filepath.Ext(final)
	if err := a.tool.Remux(ctx, staging, tmp); err != nil {
		_ = os.Remove(tmp)
		return AcquiredFile{}, err
	}
	if a.verifier != nil {
		if _, err := a.verifier.Verify(ctx, tmp); err != nil {
			_ = os.Remove(tmp)
			return AcquiredFile{}, fmt.Errorf("verifying output: %w", err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return AcquiredFile{}, fmt.Errorf("finalising %s: %w", final, err)
	}
	if info, err := os.Stat(final); err == nil {
		file.Bytes = info.Size()
	}
	return file, nil
}

func (a *Acquirer) fetchTo(ctx context.Context, job *media.AcquisitionJob, path string) (hls.Stats, error) {
	out, err := os.Create(path)
	if err != nil {
		return hls.Stats{}, fmt.Errorf("creating %s: %w", path, err)
	}
	var progress hls.ProgressFunc
	if a.OnProgress != nil {
		progress = func(done, total int) { a.OnProgress(job, done, total) }
	}
	stats, err := a.fetcher.Fetch(ctx, hls.Request{
		URL:             job.StreamURL,
		Referer:         job.Referer,
		FragmentRetries: job.Retry.FragmentRetries,
	}, out, progress)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", path, cerr)
	}
	return stats, err
}

func (a *Acquirer) fail(job *media.AcquisitionJob, err *AcquisitionFailed) (AcquiredFile, error) {
	if err.Attempts == 0 {
		err.Attempts = job.Attempts
	}
	job.Err = err
	a.transition(job, media.JobFailed)
	a.log.Error("acquisition failed",
		zap.String("job", job.ID),
		zap.String("url", job.StreamURL),
		zap.Int("attempts", err.Attempts),
		zap.Error(err.Err))
	return AcquiredFile{}, err
}

func (a *Acquirer) transition(job *media.AcquisitionJob, to media.JobState) {
	from := job.State
	job.State = to
	if a.OnTransition != nil && from != to {
		a.OnTransition(job, from, to)
	}
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// DefaultBackoff is the delay policy between job attempts.
func DefaultBackoff() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialBackoff = 2 * time.Second
	return cfg
}
