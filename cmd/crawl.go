package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vodgrab/internal/acquire"
	"vodgrab/internal/config"
	"vodgrab/internal/crawl"
	"vodgrab/internal/hls"
	"vodgrab/internal/httputil"
	"vodgrab/internal/media"
	"vodgrab/internal/provider"
	"vodgrab/internal/remux"
	"vodgrab/internal/sink"
	"vodgrab/internal/ui"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [detail-url...]",
	Short: "Crawl detail pages, resolve streams and optionally download them",
	Long: `Crawl renders each detail page (from the arguments, or start_urls in the
config), visits every play page it links to, resolves one stream per page and
writes a record for each. With --download the streams are also acquired.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd.Context(), args)
	},
}

func runCrawl(ctx context.Context, args []string) error {
	startURLs := args
	if len(startURLs) == 0 {
		startURLs = cfg.StartURLs
	}
	if len(startURLs) == 0 {
		return fmt.Errorf("no detail URLs given and start_urls is empty")
	}
	for _, u := range startURLs {
		if err := httputil.ValidateURL(u); err != nil {
			return fmt.Errorf("start URL %q: %w", u, err)
		}
	}

	records, err := openSinks(ctx)
	if err != nil {
		return err
	}

	var pool *acquire.Pool
	saveDir := ""
	if cfg.Download.Enabled {
		saveDir, err = config.ExpandPath(cfg.Download.SaveDir)
		if err != nil {
			_ = records.Close()
			return err
		}
		pool = newAcquirePool()
	}

	b, err := openBrowser(ctx)
	if err != nil {
		_ = records.Close()
		return err
	}

	c := crawl.New(provider.NewSite(b.nav, cfg.Browser.SettleDelay.Duration, logger), b.disc, records, pool, crawl.Options{
		Download:    cfg.Download.Enabled,
		SaveDir:     saveDir,
		FilenameTpl: cfg.Download.FilenameTpl,
		Retry: media.RetryPolicy{
			Retries:         cfg.Download.Retries,
			FragmentRetries: cfg.Download.FragmentRetries,
		},
	}, logger)

	progress := ui.NewProgress(os.Stderr, -1, "discovering")
	c.OnPlayPage = func(rec media.Record) {
		progress.Describe(fmt.Sprintf("%s E%02d: %s", rec.Title, rec.Episode, rec.Source))
		progress.Add(1)
	}

	rep, runErr := c.Run(ctx, startURLs)
	progress.Finish()

	// Acquisitions have drained; close the browser, then flush the sinks.
	closeErr := b.Close()
	if err := records.Close(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}

	printCrawlReport(rep)
	if runErr != nil {
		logger.Error("crawl stopped", zap.Error(runErr))
		return runErr
	}
	return closeErr
}

func openSinks(ctx context.Context) (*sink.Multi, error) {
	var paths sink.Paths
	var err error
	if paths.JSON, err = expandOptional(cfg.Output.JSONPath); err != nil {
		return nil, err
	}
	if paths.CSV, err = expandOptional(cfg.Output.CSVPath); err != nil {
		return nil, err
	}
	if paths.SQLite, err = expandOptional(cfg.Output.SQLitePath); err != nil {
		return nil, err
	}

	records, err := sink.Open(ctx, afero.NewOsFs(), paths, logger)
	if err != nil {
		return nil, fmt.Errorf("opening record sinks: %w", err)
	}
	if records.Len() == 0 {
		logger.Warn("no record sinks configured")
	}
	return records, nil
}

// expandOptional expands p unless it is empty, which disables a sink.
func expandOptional(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return config.ExpandPath(p)
}

func newAcquirePool() *acquire.Pool {
	ffmpeg := remux.NewFFmpeg(cfg.Download.FFmpeg, logger)
	if !ffmpeg.Available() {
		logger.Warn("ffmpeg not found, streams will be kept as .ts", zap.String("bin", cfg.Download.FFmpeg))
	}

	var verifier acquire.Verifier
	if cfg.Download.Verify {
		if probe := remux.NewFFprobe(cfg.Download.FFprobe); probe.Available() {
			verifier = probe
		}
	}

	ua := cfg.Browser.UserAgent
	if ua == "auto" {
		ua = ""
	}
	fetcher := hls.NewFetcher(httputil.NewClient(), ua, logger)
	acq := acquire.New(fetcher, ffmpeg, verifier, logger)
	acq.OnTransition = func(job *media.AcquisitionJob, from, to media.JobState) {
		logger.Debug("job state", zap.String("job", job.Title), zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return acquire.NewPool(acq, cfg.Download.Workers)
}

func printCrawlReport(rep crawl.Report) {
	out := os.Stdout
	fmt.Fprintf(out, "run %s: %d detail pages (%d skipped), %d play pages: %d resolved, %d without stream, %d failed to load\n",
		rep.RunID, rep.Details, rep.DetailFails, rep.PlayPages, rep.Resolved, rep.NoStream, rep.PageFails)
	if rep.SinkErrors > 0 {
		fmt.Fprintf(out, "%d record writes failed\n", rep.SinkErrors)
	}
	if len(rep.Jobs) == 0 {
		return
	}

	jobs := make([]*media.AcquisitionJob, 0, len(rep.Jobs))
	var total uint64
	for _, r := range rep.Jobs {
		jobs = append(jobs, r.Job)
		if r.Err == nil {
			total += uint64(r.File.Bytes)
		}
	}
	fmt.Fprintln(out, ui.JobTable(jobs))
	fmt.Fprintf(out, "downloaded %s\n", humanize.Bytes(total))
}
