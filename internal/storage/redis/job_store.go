// Package redis provides a Redis-backed job store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// Config captures Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// client is the subset of redis.Client the store uses. go-redis ships
// NewXResult constructors, so tests fake this without a server.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// JobStore persists each job as one JSON value under <prefix><id>. The
// control field lives inside the record; read-modify-write is safe because
// status and control have disjoint single writers.
type JobStore struct {
	client client
	prefix string
}

// New connects to Redis and returns a JobStore.
func New(cfg Config) *JobStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "jobs:"
	}
	return &JobStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

// NewWithClient builds a store over an existing client (primarily for testing).
func NewWithClient(c client, prefix string) *JobStore {
	if prefix == "" {
		prefix = "jobs:"
	}
	return &JobStore{client: c, prefix: prefix}
}

// Ping verifies the Redis connection.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *JobStore) Close() error {
	return s.client.Close()
}

func (s *JobStore) key(jobID string) string {
	return s.prefix + jobID
}

// CreateJob stores a new job record, rejecting duplicate IDs.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	return s.load(ctx, jobID)
}

// ListJobs returns all jobs ordered by creation time, oldest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]crawler.Job, 0, len(keys))
	for _, key := range keys {
		job, err := s.loadKey(ctx, key)
		if errors.Is(err, crawler.ErrJobNotFound) {
			// Deleted between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

// ListPending returns jobs waiting for a worker, oldest first.
func (s *JobStore) ListPending(ctx context.Context) ([]crawler.Job, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	pending := jobs[:0]
	for _, job := range jobs {
		if job.Status == crawler.JobStatusPending {
			pending = append(pending, job)
		}
	}
	return pending, nil
}

// UpdateJob applies a partial update with read-modify-write semantics.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	update.Apply(&job)
	return s.save(ctx, job)
}

// GetControl reads the control signal for a job.
func (s *JobStore) GetControl(ctx context.Context, jobID string) (crawler.JobControl, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Control, nil
}

// SetControl flips the control signal for a job.
func (s *JobStore) SetControl(ctx context.Context, jobID string, control crawler.JobControl) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	job.Control = control
	return s.save(ctx, job)
}

// DeleteJob removes a terminal job. Active jobs are refused.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return crawler.ErrJobActive
	}
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) load(ctx context.Context, jobID string) (crawler.Job, error) {
	return s.loadKey(ctx, s.key(jobID))
}

func (s *JobStore) loadKey(ctx context.Context, key string) (crawler.Job, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("read job %s: %w", key, err)
	}
	var job crawler.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", key, err)
	}
	return job, nil
}

func (s *JobStore) save(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func sortJobs(jobs []crawler.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
