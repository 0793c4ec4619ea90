package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vodgrab/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTool copies src to dst, failing for any path containing "broken". On
// failure it leaves a partial dst behind, as ffmpeg does.
type fakeTool struct {
	available bool
	calls     atomic.Int32
}

func (t *fakeTool) Name() string    { return "fake" }
func (t *fakeTool) Available() bool { return t.available }

func (t *fakeTool) Remux(ctx context.Context, src, dst string) error {
	t.calls.Add(1)
	if strings.Contains(src, "broken") {
		_ = os.WriteFile(dst, []byte("half"), 0o644)
		return errors.New("exit status 1")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("fixed:"), data...), 0o644)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func listTree(t *testing.T, dir string) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dir, p)
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(names)
	return names
}

func TestRepairTreeOneFailure(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.mp4":           "AAAA",
		"show/b.ts":       "BBBB",
		"show/broken.mkv": "CCCC",
		"notes.txt":       "ignored",
	})

	tool := &fakeTool{available: true}
	sum, err := New(tool, 2, nil).RepairTree(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 3, sum.Total())
	assert.Equal(t, int32(3), tool.calls.Load())

	assert.Equal(t, []string{
		"a.mp4",
		"a_fixed.mp4",
		"notes.txt",
		"show/b.ts",
		"show/b_fixed.ts",
		"show/broken.mkv",
	}, listTree(t, dir))

	orig, err := os.ReadFile(filepath.Join(dir, "show", "broken.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "CCCC", string(orig), "failing original must be byte-identical")

	fixed, err := os.ReadFile(filepath.Join(dir, "a_fixed.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "fixed:AAAA", string(fixed))

	for _, r := range sum.Results {
		if r.Status == media.RepairFailed {
			assert.ErrorIs(t, r.Err, ErrRepairFailed)
			assert.Equal(t, filepath.Join(dir, "show", "broken.mkv"), r.Path)
		}
	}
}

func TestRepairTreeToolUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.mp4": "A", "b.avi": "B"})

	tool := &fakeTool{available: false}
	sum, err := New(tool, 2, nil).RepairTree(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, int32(0), tool.calls.Load())
	assert.Equal(t, []string{"a.mp4", "b.avi"}, listTree(t, dir))
}

func TestRepairTreeMissingRoot(t *testing.T) {
	_, err := New(&fakeTool{available: true}, 1, nil).RepairTree(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestScanIgnoresRepairOutputs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"ep1.MP4":           "x",
		"ep1_fixed.mp4":     "x",
		"ep2_fixed_temp.ts": "x",
		"ep3.part.ts":       "x",
		"ep4.mov":           "x",
		"cover.jpg":         "x",
	})

	files, err := Scan(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "ep1.MP4"), filepath.Join(dir, "ep4.mov")}, files)
}

func TestOutputPaths(t *testing.T) {
	temp, final := OutputPaths("/d/Show_E01.mp4")
	assert.Equal(t, "/d/Show_E01_fixed_temp.mp4", temp)
	assert.Equal(t, "/d/Show_E01_fixed.mp4", final)
}

func TestRepairFileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tool := &fakeTool{available: true}
	res := New(tool, 1, nil).RepairFile(ctx, "/d/x.mp4")
	assert.Equal(t, media.RepairFailed, res.Status)
	assert.Equal(t, int32(0), tool.calls.Load())
}
