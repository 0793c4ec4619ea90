package remux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoVideo means ffprobe found no video stream in a file.
var ErrNoVideo = errors.New("no video stream")

// ProbeResult is the parsed ffprobe output.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one stream in the container.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ProbeFormat is container-level metadata.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// VideoStreams counts video streams.
func (r ProbeResult) VideoStreams() int {
	return r.countType("video")
}

// AudioStreams counts audio streams.
func (r ProbeResult) AudioStreams() int {
	return r.countType("audio")
}

func (r ProbeResult) countType(kind string) int {
	n := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, kind) {
			n++
		}
	}
	return n
}

// DurationSeconds returns the container duration, or 0 when unknown.
func (r ProbeResult) DurationSeconds() float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// FFprobe inspects media files.
type FFprobe struct {
	bin      string
	run      Runner
	lookPath func(string) (string, error)
}

// NewFFprobe returns an inspector that runs bin ("ffprobe" when empty).
func NewFFprobe(bin string) *FFprobe {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{bin: bin, run: execRunner, lookPath: exec.LookPath}
}

// WithRunner replaces the command runner, for tests.
func (p *FFprobe) WithRunner(r Runner) *FFprobe {
	if r != nil {
		p.run = r
	}
	return p
}

// Available reports whether the binary resolves.
func (p *FFprobe) Available() bool {
	_, err := p.lookPath(p.bin)
	return err == nil
}

// Inspect runs ffprobe on path and decodes its JSON report.
func (p *FFprobe) Inspect(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	out, err := p.run(ctx, p.bin, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w: %s", err, tail(out, 512))
	}
	var res ProbeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return ProbeResult{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return res, nil
}

// Verify checks that path has at least one video stream.
func (p *FFprobe) Verify(ctx context.Context, path string) (ProbeResult, error) {
	res, err := p.Inspect(ctx, path)
	if err != nil {
		return res, err
	}
	if res.VideoStreams() == 0 {
		return res, fmt.Errorf("%s: %w", path, ErrNoVideo)
	}
	return res, nil
}
