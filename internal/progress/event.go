package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart   Stage = "JOB_START"
	StageJobDone    Stage = "JOB_DONE"
	StageJobError   Stage = "JOB_ERROR"
	StageSheetStart Stage = "SHEET_START"
	StageSheetSkip  Stage = "SHEET_SKIP"
	StageBatchDone  Stage = "BATCH_DONE"
	StageTargetDone Stage = "TARGET_DONE"
)

// Event captures a single milestone of job progress.
type Event struct {
	// JobID identifies the job run the event belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Sheet names the workbook sheet for sheet and batch events.
	Sheet string
	// Site optionally scopes target events to a host label.
	Site string
	// Outcome carries the target outcome, or the terminal job status for
	// JOB_DONE events.
	Outcome string
	// Rows counts the input rows covered by the event.
	Rows int
	// Emails counts the addresses found by the event's scope.
	Emails int
	// Dur captures execution latency for batches and job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. a skip reason).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobError:
	case StageJobDone:
		if e.Outcome == "" {
			return errors.New("job done requires outcome")
		}
	case StageSheetStart, StageSheetSkip:
		if e.Sheet == "" {
			return errors.New("sheet events require sheet name")
		}
	case StageBatchDone:
		if e.Sheet == "" {
			return errors.New("batch done requires sheet name")
		}
	case StageTargetDone:
		if e.Outcome == "" {
			return errors.New("target done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
