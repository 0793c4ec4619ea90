// Package remux wraps the external tools that rewrite and inspect media
// containers. Every invocation uses an explicit argument slice; nothing is
// passed through a shell.
package remux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"vodgrab/internal/logging"
)

// Tool rewrites a media file into a correctly muxed container.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Available reports whether the tool can be run.
	Available() bool
	// Remux reads src and writes dst, correcting timestamps and audio sync.
	Remux(ctx context.Context, src, dst string) error
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SyncArgs returns the ffmpeg arguments that copy video, re-encode audio to AAC,
// regenerate timestamps and pad or drop frames to a constant rate.
func SyncArgs(src, dst string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-fflags", "+genpts",
		"-i", src,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		"-avoid_negative_ts", "make_zero",
		"-async", "1",
		"-vsync", "cfr",
		dst,
	}
}

// FFmpeg is the ffmpeg-backed Tool.
type FFmpeg struct {
	bin      string
	run      Runner
	lookPath func(string) (string, error)
	log      *zap.Logger
}

// NewFFmpeg returns a Tool that runs bin ("ffmpeg" when empty).
func NewFFmpeg(bin string, log *zap.Logger) *FFmpeg {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, run: execRunner, lookPath: exec.LookPath, log: logging.OrNop(log)}
}

// WithRunner replaces the command runner, for tests.
func (f *FFmpeg) WithRunner(r Runner) *FFmpeg {
	if r != nil {
		f.run = r
	}
	return f
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

// Available checks that the binary resolves on PATH (or as a path).
func (f *FFmpeg) Available() bool {
	_, err := f.lookPath(f.bin)
	return err == nil
}

// Remux runs ffmpeg with SyncArgs. The caller owns cleanup of dst on failure.
func (f *FFmpeg) Remux(ctx context.Context, src, dst string) error {
	path, err := f.lookPath(f.bin)
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	f.log.Debug("running ffmpeg", zap.String("src", src), zap.String("dst", dst))
	if out, err := f.run(ctx, path, SyncArgs(src, dst)...); err != nil {
		return fmt.Errorf("ffmpeg remux failed: %w: %s", err, tail(out, 512))
	}
	return nil
}

// tail returns at most n trailing bytes of out, trimmed.
func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "…" + s[len(s)-n:]
	}
	return s
}
