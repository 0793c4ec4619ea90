package media

import "testing"

func TestKindFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want MediaKind
	}{
		{"https://cdn.example/v/index.m3u8", KindM3U8},
		{"https://cdn.example/v/index.m3u8?token=abc", KindM3U8},
		{"https://cdn.example/v/movie.MP4", KindMP4},
		{"https://cdn.example/v/seg-001.ts", KindTS},
		{"https://cdn.example/v/clip.flv#t=10", KindFLV},
		{"https://cdn.example/v/file.mkv", KindMKV},
		{"https://cdn.example/player.js", KindUnknown},
		{"https://cdn.example/api?file=a.m3u8", KindM3U8},
		{"https://cdn.example/api?file=a.mp4&alt=b.m3u8", KindM3U8},
		{"https://cdn.tsinghua.example/app.js", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := KindFromURL(tt.url); got != tt.want {
				t.Errorf("KindFromURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestKindPriorityOrder(t *testing.T) {
	order := []MediaKind{KindM3U8, KindMP4, KindTS, KindFLV}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("%v should rank before %v", order[i-1], order[i])
		}
	}
}

func TestRepairSummaryAdd(t *testing.T) {
	var s RepairSummary
	s.Add(RepairResult{Status: RepairSucceeded})
	s.Add(RepairResult{Status: RepairSucceeded})
	s.Add(RepairResult{Status: RepairFailed})
	s.Add(RepairResult{Status: RepairSkipped})

	if s.Succeeded != 2 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", s.Succeeded, s.Failed, s.Skipped)
	}
	if s.Total() != 4 || len(s.Results) != 4 {
		t.Errorf("total = %d, results = %d, want 4", s.Total(), len(s.Results))
	}
}

func TestJobStateTerminal(t *testing.T) {
	for _, s := range []JobState{JobPending, JobDownloading, JobRetrying} {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
	for _, s := range []JobState{JobSucceeded, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}
