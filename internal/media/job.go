package media

// JobState is the lifecycle state of an acquisition job.
type JobState int

const (
	JobPending JobState = iota
	JobDownloading
	JobRetrying
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobDownloading:
		return "downloading"
	case JobRetrying:
		return "retrying"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Container is the output file format of an acquisition.
type Container string

const (
	ContainerMP4 Container = "mp4" // Standard muxed container, needs the remux tool
	ContainerTS  Container = "ts"  // Segment-native transport stream
)

// Ext returns the file extension including the dot.
func (c Container) Ext() string {
	return "." + string(c)
}

// RetryPolicy bounds acquisition attempts.
type RetryPolicy struct {
	Retries         int // Job-level retries; a job gets Retries+1 attempts
	FragmentRetries int // Per-segment retries inside one attempt
}

// AcquisitionJob downloads one resolved stream to one destination.
type AcquisitionJob struct {
	ID          string
	Title       string
	StreamURL   string
	Referer     string
	Destination string // Requested path; the extension is replaced by the container's
	Retry       RetryPolicy

	Container Container // Chosen when the job starts, from remux tool availability
	State     JobState
	Attempts  int
	Output    string // Final path once succeeded
	Err       error
}

// RepairStatus is the per-file outcome of a resync repair.
type RepairStatus int

const (
	RepairSucceeded RepairStatus = iota
	RepairFailed
	RepairSkipped
)

func (s RepairStatus) String() string {
	switch s {
	case RepairSucceeded:
		return "succeeded"
	case RepairFailed:
		return "failed"
	case RepairSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// RepairResult is the outcome for a single file.
type RepairResult struct {
	Path   string
	Output string // Repaired copy, set only on success
	Status RepairStatus
	Err    error
}

// RepairSummary aggregates a batch.
type RepairSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Results   []RepairResult
}

// Add counts a result into the summary.
func (s *RepairSummary) Add(r RepairResult) {
	switch r.Status {
	case RepairSucceeded:
		s.Succeeded++
	case RepairFailed:
		s.Failed++
	case RepairSkipped:
		s.Skipped++
	}
	s.Results = append(s.Results, r)
}

// Total returns the number of files considered.
func (s RepairSummary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped
}
