// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusStopped    JobStatus = "stopped"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// JobControl is the cooperative control signal set by the dashboard and read
// by the worker at sheet and batch checkpoints. It is independent of status.
type JobControl string

// Control signal values.
const (
	ControlRun   JobControl = "run"
	ControlPause JobControl = "pause"
	ControlStop  JobControl = "stop"
)

// Valid reports whether the control value is one of run, pause, or stop.
func (c JobControl) Valid() bool {
	switch c {
	case ControlRun, ControlPause, ControlStop:
		return true
	}
	return false
}

// Job represents the metadata persisted for each submitted scrape request.
// It is created once at submission; status, progress, and results are
// mutated only by the worker that owns the job, while control is mutated
// only by the dashboard.
type Job struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	Sheets       []int         `json:"sheets"`
	Status       JobStatus     `json:"status"`
	Control      JobControl    `json:"control"`
	Progress     float64       `json:"progress"`
	CurrentSheet string        `json:"current_sheet,omitempty"`
	CurrentRow   int           `json:"current_row"`
	TotalRows    int           `json:"total_rows"`
	TotalEmails  int           `json:"total_emails"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorText    string        `json:"error_text,omitempty"`
	OutputURI    string        `json:"output_uri,omitempty"`
	Results      []EmailRecord `json:"results,omitempty"`
}

// JobUpdate is a partial update applied to a stored job with
// read-modify-write semantics. Nil fields are left untouched.
type JobUpdate struct {
	Status       *JobStatus
	Progress     *float64
	CurrentSheet *string
	CurrentRow   *int
	TotalRows    *int
	TotalEmails  *int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorText    *string
	OutputURI    *string
	Results      []EmailRecord
}

// Apply copies the update's set fields onto job. Stores that hold whole
// records (memory, redis) share this to implement read-modify-write.
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.CurrentSheet != nil {
		job.CurrentSheet = *u.CurrentSheet
	}
	if u.CurrentRow != nil {
		job.CurrentRow = *u.CurrentRow
	}
	if u.TotalRows != nil {
		job.TotalRows = *u.TotalRows
	}
	if u.TotalEmails != nil {
		job.TotalEmails = *u.TotalEmails
	}
	if u.StartedAt != nil {
		job.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}
	if u.ErrorText != nil {
		job.ErrorText = *u.ErrorText
	}
	if u.OutputURI != nil {
		job.OutputURI = *u.OutputURI
	}
	if u.Results != nil {
		job.Results = u.Results
	}
}

// CrawlTarget is one organization to scrape, built from one source row.
// Group carries the originating sheet name.
type CrawlTarget struct {
	Company string
	Website string
	Phone   string
	Group   string
}

// SourceRow is one raw row read from a source sheet.
type SourceRow struct {
	Company string
	Website string
	Phone   string
}

// EmailRecord is one output row. Email holds either a discovered address or
// one of the sentinel values below. The (Company, Website, City) triple is
// the key used to re-associate a record with its source row; a literal row
// index is not carried in concurrent execution.
type EmailRecord struct {
	Company string `json:"company"`
	Website string `json:"website"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	City    string `json:"city"`
}

// Sentinel Email values emitted when no real address is produced for a target.
const (
	SentinelNoWebsite   = "No website provided"
	SentinelBlocked     = "Blocked domain"
	SentinelNoEmail     = "No email found"
	sentinelErrorPrefix = "Error: "
)

// errorSentinelMaxLen bounds the message carried in an Error sentinel.
const errorSentinelMaxLen = 50

// ErrorSentinel renders an error message as a sentinel Email value,
// truncated so one bad target cannot bloat the output artifact.
func ErrorSentinel(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > errorSentinelMaxLen {
		msg = msg[:errorSentinelMaxLen]
	}
	return sentinelErrorPrefix + msg
}

// IsSentinel reports whether an Email column value is a sentinel rather
// than a discovered address. Used to compute the real-email total.
func IsSentinel(email string) bool {
	return strings.HasPrefix(email, "No ") ||
		strings.HasPrefix(email, "Error") ||
		strings.HasPrefix(email, "Blocked")
}

// Page is the fetched document returned by a Fetcher.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	OutputURI   string     `json:"output_uri,omitempty"`
	TotalRows   int        `json:"total_rows"`
	TotalEmails int        `json:"total_emails"`
	ErrorText   string     `json:"error_text,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
