// Package ui renders batch progress and end-of-run summaries on the terminal.
// Progress is only drawn when the writer is a terminal; summaries are plain
// tables and safe to pipe.
package ui

import (
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"vodgrab/internal/media"
)

// Align is a column alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Progress is a counting progress bar. The zero value and a nil *Progress
// draw nothing.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress returns a bar of total steps on w, or a silent Progress when w
// is not a terminal. A total below zero draws a spinner.
func NewProgress(w io.Writer, total int, desc string) *Progress {
	if !IsTerminal(w) {
		return &Progress{}
	}
	width := 40
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 60 {
			width = cols / 3
		}
	}
	return &Progress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(width),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

// Add advances the bar by n steps.
func (p *Progress) Add(n int) {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Add(n)
}

// Describe replaces the bar's label.
func (p *Progress) Describe(desc string) {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.Describe(desc)
}

// Finish completes and clears the bar.
func (p *Progress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// RenderTable draws rows under headers. Missing cells render empty.
func RenderTable(headers []string, rows [][]string, aligns []Align) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// JobTable summarises acquisition jobs.
func JobTable(jobs []*media.AcquisitionJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		detail := j.Output
		if j.Err != nil {
			detail = j.Err.Error()
		}
		rows = append(rows, []string{j.Title, j.State.String(), strconv.Itoa(j.Attempts), string(j.Container), detail})
	}
	return RenderTable(
		[]string{"Title", "State", "Attempts", "Container", "Output / Error"},
		rows,
		[]Align{AlignLeft, AlignLeft, AlignRight, AlignLeft, AlignLeft},
	)
}

// RepairTable summarises a repair batch, with a totals row.
func RepairTable(s media.RepairSummary) string {
	rows := make([][]string, 0, len(s.Results)+1)
	for _, r := range s.Results {
		detail := r.Output
		if r.Err != nil {
			detail = r.Err.Error()
		}
		rows = append(rows, []string{r.Path, r.Status.String(), detail})
	}
	rows = append(rows, []string{
		"total " + strconv.Itoa(s.Total()),
		strconv.Itoa(s.Succeeded) + " ok / " + strconv.Itoa(s.Failed) + " failed / " + strconv.Itoa(s.Skipped) + " skipped",
		"",
	})
	return RenderTable([]string{"File", "Status", "Output / Error"}, rows, nil)
}
