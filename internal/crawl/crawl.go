// Package crawl drives the full pipeline: detail pages to play pages, play
// pages to resolved streams, streams to records and acquisition jobs.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vodgrab/internal/acquire"
	"vodgrab/internal/browser"
	"vodgrab/internal/discovery"
	"vodgrab/internal/httputil"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
	"vodgrab/internal/provider"
	"vodgrab/internal/sink"
)

// jobBuffer lets discovery run ahead of a saturated acquisition pool.
const jobBuffer = 16

// Discoverer resolves the stream of one play page.
type Discoverer interface {
	Discover(ctx context.Context, playURL string) (discovery.Discovery, error)
}

// Options controls record and job creation.
type Options struct {
	RunID       string // Empty generates one
	Download    bool
	SaveDir     string
	FilenameTpl string
	Retry       media.RetryPolicy
}

// Report counts what a run did.
type Report struct {
	RunID       string
	Details     int // Detail pages parsed
	DetailFails int // Detail pages skipped
	PlayPages   int // Play pages attempted
	Resolved    int
	NoStream    int
	PageFails   int // Play pages skipped on navigation errors
	SinkErrors  int
	Jobs        []acquire.Result
}

// Crawler runs one batch. Discovery is sequential; acquisitions run on the
// pool while discovery continues.
type Crawler struct {
	provider provider.Provider
	disc     Discoverer
	records  sink.Sink
	pool     *acquire.Pool
	opts     Options
	log      *zap.Logger
	now      func() time.Time
	claimed  map[string]struct{} // Destinations handed out this run

	// OnPlayPage, when set, is called after each play page is processed.
	OnPlayPage func(rec media.Record)
}

// New creates a Crawler. pool may be nil when downloading is disabled.
func New(p provider.Provider, disc Discoverer, records sink.Sink, pool *acquire.Pool, opts Options, log *zap.Logger) *Crawler {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Crawler{
		provider: p,
		disc:     disc,
		records:  records,
		pool:     pool,
		opts:     opts,
		log:      logging.OrNop(log).With(zap.String("run_id", opts.RunID)),
		now:      time.Now,
		claimed:  make(map[string]struct{}),
	}
}

// Run processes startURLs in order. A lost browser session stops further
// discovery; in-flight and queued acquisitions still finish before Run
// returns the error. Closing the session and sinks is left to the caller.
func (c *Crawler) Run(ctx context.Context, startURLs []string) (Report, error) {
	rep := Report{RunID: c.opts.RunID}

	var (
		jobs    chan *media.AcquisitionJob
		results []acquire.Result
		wg      sync.WaitGroup
	)
	if c.opts.Download && c.pool != nil {
		jobs = make(chan *media.AcquisitionJob, jobBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results = c.pool.Run(ctx, jobs)
		}()
	}

	fatal := c.crawl(ctx, startURLs, &rep, jobs)

	if jobs != nil {
		close(jobs)
		wg.Wait()
		rep.Jobs = results
	}
	return rep, fatal
}

func (c *Crawler) crawl(ctx context.Context, startURLs []string, rep *Report, jobs chan<- *media.AcquisitionJob) error {
	for _, detailURL := range startURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := c.provider.Detail(ctx, detailURL)
		if err != nil {
			if fatal(ctx, err) {
				return fmt.Errorf("loading detail page %s: %w", detailURL, err)
			}
			rep.DetailFails++
			c.log.Warn("detail page skipped", zap.String("url", detailURL), zap.Error(err))
			continue
		}
		rep.Details++
		c.log.Info("detail page parsed",
			zap.String("url", detailURL),
			zap.String("title", item.Title),
			zap.Int("play_pages", len(item.PlayPages)))

		for i, playURL := range item.PlayPages {
			if err := c.playPage(ctx, item, i+1, playURL, rep, jobs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) playPage(ctx context.Context, item media.VodItem, episode int, playURL string, rep *Report, jobs chan<- *media.AcquisitionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rep.PlayPages++

	d, err := c.disc.Discover(ctx, playURL)
	switch {
	case err == nil:
		rep.Resolved++
	case errors.Is(err, discovery.ErrNoStreamFound):
		rep.NoStream++
	case fatal(ctx, err):
		return fmt.Errorf("discovering %s: %w", playURL, err)
	default:
		rep.PageFails++
		c.log.Warn("play page skipped", zap.String("url", playURL), zap.Error(err))
		return nil
	}

	rec := media.Record{
		RunID:     c.opts.RunID,
		Title:     item.Title,
		Year:      item.Year,
		Episode:   episode,
		DetailURL: item.DetailURL,
		PlayURL:   playURL,
		StreamURL: d.Candidate.URL,
		Source:    d.Candidate.Source,
		CreatedAt: c.now().UTC(),
	}
	if d.Payload != nil {
		rec.Payload = d.Payload.Fields
	}
	if c.records != nil {
		if err := c.records.Write(ctx, rec); err != nil {
			rep.SinkErrors++
		}
	}
	if c.OnPlayPage != nil {
		c.OnPlayPage(rec)
	}

	if jobs == nil || rec.Source == media.SourceNone {
		return nil
	}
	job, err := c.newJob(rec)
	if err != nil {
		c.log.Warn("no destination for stream", zap.String("play_url", playURL), zap.Error(err))
		return nil
	}
	select {
	case jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newJob gives every job of the run its own destination. A template without
// {episode} gets the episode appended, and a name already handed out gets a
// numeric suffix.
func (c *Crawler) newJob(rec media.Record) (*media.AcquisitionJob, error) {
	tpl := c.opts.FilenameTpl
	if !strings.Contains(tpl, "{episode}") {
		ext := filepath.Ext(tpl)
		tpl = strings.TrimSuffix(tpl, ext) + "_E{episode}" + ext
	}
	name := httputil.RenderFilename(tpl, rec.Title, rec.Episode)
	dest, err := httputil.SafeDownloadPath(c.opts.SaveDir, name)
	if err != nil {
		return nil, err
	}
	dest = c.claim(dest)
	return &media.AcquisitionJob{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("%s E%02d", rec.Title, rec.Episode),
		StreamURL:   rec.StreamURL,
		Referer:     rec.PlayURL,
		Destination: dest,
		Retry:       c.opts.Retry,
	}, nil
}

func (c *Crawler) claim(dest string) string {
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	candidate := dest
	for n := 2; ; n++ {
		if _, taken := c.claimed[candidate]; !taken {
			c.claimed[candidate] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// fatal reports whether err ends the whole batch.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, browser.ErrSessionLost) || ctx.Err() != nil
}
