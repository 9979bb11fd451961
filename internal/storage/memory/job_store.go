// Package memory provides in-memory stores for tests and single-process runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// JobStore is an in-memory crawler.JobStore. All reads return copies so
// callers cannot mutate stored state behind the lock.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns all jobs ordered by creation time, oldest first.
func (s *JobStore) ListJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sortJobs(out)
	return out, nil
}

// ListPending returns jobs still waiting for a worker, oldest first.
func (s *JobStore) ListPending(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Job
	for _, job := range s.jobs {
		if job.Status == crawler.JobStatusPending {
			out = append(out, cloneJob(job))
		}
	}
	sortJobs(out)
	return out, nil
}

// UpdateJob applies a partial update with read-modify-write semantics.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update crawler.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	update.Apply(&job)
	s.jobs[jobID] = cloneJob(job)
	return nil
}

// GetControl reads the control signal for a job.
func (s *JobStore) GetControl(_ context.Context, jobID string) (crawler.JobControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", crawler.ErrJobNotFound
	}
	return job.Control, nil
}

// SetControl flips the control signal for a job.
func (s *JobStore) SetControl(_ context.Context, jobID string, control crawler.JobControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.Control = control
	s.jobs[jobID] = job
	return nil
}

// DeleteJob removes a terminal job. Active jobs are refused.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return crawler.ErrJobActive
	}
	delete(s.jobs, jobID)
	return nil
}

func sortJobs(jobs []crawler.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func cloneJob(job crawler.Job) crawler.Job {
	out := job
	if job.Sheets != nil {
		out.Sheets = append([]int(nil), job.Sheets...)
	}
	if job.Results != nil {
		out.Results = append([]crawler.EmailRecord(nil), job.Results...)
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
