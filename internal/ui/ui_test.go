package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"vodgrab/internal/media"
)

func TestIsTerminalBuffer(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("bytes.Buffer reported as terminal")
	}
}

func TestProgressSilentOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 3, "acquiring")
	p.Add(1)
	p.Describe("still acquiring")
	p.Finish()
	if buf.Len() != 0 {
		t.Errorf("progress wrote %q to a non-terminal", buf.String())
	}

	var nilProgress *Progress
	nilProgress.Add(1)
	nilProgress.Finish()
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"A", "B"}, [][]string{{"one"}, {"two", "2"}}, []Align{AlignLeft, AlignRight})
	for _, want := range []string{"A", "B", "one", "two", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if got := RenderTable(nil, nil, nil); got != "" {
		t.Errorf("RenderTable(no headers) = %q, want empty", got)
	}
}

func TestJobTable(t *testing.T) {
	jobs := []*media.AcquisitionJob{
		{Title: "Show_E01", State: media.JobSucceeded, Attempts: 1, Container: media.ContainerMP4, Output: "/d/Show_E01.mp4"},
		{Title: "Show_E02", State: media.JobFailed, Attempts: 6, Container: media.ContainerTS, Err: errors.New("connection reset")},
	}
	out := JobTable(jobs)
	for _, want := range []string{"Show_E01", "succeeded", "/d/Show_E01.mp4", "failed", "connection reset", "ts"} {
		if !strings.Contains(out, want) {
			t.Errorf("job table missing %q:\n%s", want, out)
		}
	}
}

func TestRepairTable(t *testing.T) {
	var s media.RepairSummary
	s.Add(media.RepairResult{Path: "a.mp4", Output: "a_fixed.mp4", Status: media.RepairSucceeded})
	s.Add(media.RepairResult{Path: "b.ts", Status: media.RepairFailed, Err: errors.New("exit status 1")})

	out := RepairTable(s)
	for _, want := range []string{"a_fixed.mp4", "exit status 1", "total 2", "1 ok / 1 failed / 0 skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("repair table missing %q:\n%s", want, out)
		}
	}
}
