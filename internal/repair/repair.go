// Package repair rewrites previously downloaded files to correct audio/video
// drift. Originals are never modified; each repaired copy is written next to
// its source with a "_fixed" marker.
package repair

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vodgrab/internal/logging"
	"vodgrab/internal/media"
	"vodgrab/internal/remux"
)

const (
	fixedMarker = "_fixed"
	tempMarker  = "_fixed_temp"
)

// ErrRepairFailed wraps every per-file failure.
var ErrRepairFailed = errors.New("repair failed")

// VideoExtensions are the file types considered for repair.
var VideoExtensions = []string{".mp4", ".ts", ".mkv", ".avi", ".mov"}

// Repairer runs the remux tool over a directory tree.
type Repairer struct {
	tool    remux.Tool
	workers int
	log     *zap.Logger

	// OnResult, when set, is called as each file finishes. It may be called
	// from several goroutines at once.
	OnResult func(media.RepairResult)
}

// New creates a Repairer with the given worker count (minimum 1).
func New(tool remux.Tool, workers int, log *zap.Logger) *Repairer {
	if workers < 1 {
		workers = 1
	}
	return &Repairer{tool: tool, workers: workers, log: logging.OrNop(log)}
}

// OutputPaths returns the temporary and final paths for repairing path.
func OutputPaths(path string) (temp, final string) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + tempMarker + ext, base + fixedMarker + ext
}

// Scan lists the video files under root in lexical order, ignoring repair
// outputs and in-progress downloads.
func Scan(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repair root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repair root %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isVideo(d.Name()) {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if strings.HasSuffix(stem, fixedMarker) || strings.HasSuffix(stem, tempMarker) || strings.HasSuffix(stem, ".part") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func isVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// RepairTree repairs every video file under root. Individual failures are
// counted, never returned; the error is only for an unusable root.
func (r *Repairer) RepairTree(ctx context.Context, root string) (media.RepairSummary, error) {
	files, err := Scan(root)
	if err != nil {
		return media.RepairSummary{}, err
	}
	r.log.Info("repair scan complete", zap.String("root", root), zap.Int("files", len(files)))

	results := make([]media.RepairResult, len(files))
	if r.tool == nil || !r.tool.Available() {
		r.log.Warn("remux tool unavailable, skipping all files")
		for i, f := range files {
			results[i] = media.RepairResult{Path: f, Status: media.RepairSkipped, Err: errors.New("remux tool unavailable")}
			r.report(results[i])
		}
		return summarise(results), nil
	}

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			results[i] = r.RepairFile(ctx, f)
			r.report(results[i])
			return nil
		})
	}
	_ = g.Wait()
	return summarise(results), nil
}

// RepairFile remuxes one file into its "_fixed" sibling. The source file is
// only read.
func (r *Repairer) RepairFile(ctx context.Context, path string) media.RepairResult {
	res := media.RepairResult{Path: path}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = media.RepairFailed, fmt.Errorf("%w: %s: %v", ErrRepairFailed, path, err)
		return res
	}

	temp, final := OutputPaths(path)
	if err := r.tool.Remux(ctx, path, temp); err != nil {
		_ = os.Remove(temp)
		res.Status, res.Err = media.RepairFailed, fmt.Errorf("%w: %s: %v", ErrRepairFailed, path, err)
		r.log.Warn("repair failed", zap.String("path", path), zap.Error(err))
		return res
	}
	if err := os.Rename(temp, final); err != nil {
		_ = os.Remove(temp)
		res.Status, res.Err = media.RepairFailed, fmt.Errorf("%w: %s: %v", ErrRepairFailed, path, err)
		return res
	}

	res.Status, res.Output = media.RepairSucceeded, final
	r.log.Debug("repaired", zap.String("path", path), zap.String("output", final))
	return res
}

func (r *Repairer) report(res media.RepairResult) {
	if r.OnResult != nil {
		r.OnResult(res)
	}
}

func summarise(results []media.RepairResult) media.RepairSummary {
	var s media.RepairSummary
	for _, res := range results {
		s.Add(res)
	}
	return s
}
