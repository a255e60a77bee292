// Package jobmanager runs in-memory question generation jobs on a
// bounded worker pool. Jobs are process-local; a restart loses them and
// that is tolerated.
package jobmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/domain"
	"github.com/quizforge/quizforge/internal/telemetry"
)

// Config sizes the pool and scopes generation defaults.
type Config struct {
	Workers    int
	Topics     []string
	DefaultAge domain.AgeRange
}

// Manager owns the job map, the FIFO admission queue, and the workers.
// All reads hand out copies so callers never observe a job mid-update.
type Manager struct {
	questions domain.QuestionRepository
	gen       domain.Generator
	sink      domain.EventSink
	metrics   *telemetry.Collector

	workers    int
	topics     []string
	defaultAge domain.AgeRange

	mu    sync.Mutex
	jobs  map[string]*domain.GenerationJob
	queue []string

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped Manager; call Start to launch the pool.
func New(questions domain.QuestionRepository, gen domain.Generator, sink domain.EventSink, metrics *telemetry.Collector, cfg Config) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = config.DefaultTopics
	}
	return &Manager{
		questions:  questions,
		gen:        gen,
		sink:       sink,
		metrics:    metrics,
		workers:    workers,
		topics:     topics,
		defaultAge: cfg.DefaultAge,
		jobs:       make(map[string]*domain.GenerationJob),
		wake:       make(chan struct{}, 1),
	}
}

// Start launches the worker pool. Safe to call once per Manager.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func(n int) {
			defer m.wg.Done()
			m.runWorker(ctx, n)
		}(i)
	}
	slog.Info("job manager started", slog.Int("workers", m.workers))
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	slog.Info("job manager stopped")
}

// Enqueue admits a new Pending job. Admission never rejects; back-pressure
// is expressed by queueing.
func (m *Manager) Enqueue(owner string, targetCount int, ageRange *domain.AgeRange, topic string, autoTriggered bool) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("enqueue: %w: owner required", domain.ErrInvalidArgument)
	}
	if targetCount <= 0 {
		return "", fmt.Errorf("enqueue: %w: target_count must be positive", domain.ErrInvalidArgument)
	}

	job := &domain.GenerationJob{
		ID:            uuid.NewString(),
		Owner:         owner,
		TargetCount:   targetCount,
		Status:        domain.JobPending,
		Message:       "Job queued",
		AutoTriggered: autoTriggered,
		Topic:         topic,
		CreatedAt:     time.Now().UTC(),
	}
	if ageRange != nil {
		r := *ageRange
		job.AgeRange = &r
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.queue = append(m.queue, job.ID)
	m.mu.Unlock()

	m.metrics.IncJobEnqueued(autoTriggered)
	observability.JobsActive.Inc()
	m.signal()

	m.sink.Publish(owner, domain.Event{
		Type:    domain.EventJobUpdate,
		JobID:   job.ID,
		Status:  domain.JobPending,
		Message: "Job queued",
	})
	slog.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.Int("target_count", targetCount),
		slog.Bool("auto_triggered", autoTriggered))
	return job.ID, nil
}

// Status returns a copy of the job. Only the owning recipient may look.
func (m *Manager) Status(jobID, requester string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("status: %w: job %s", domain.ErrNotFound, jobID)
	}
	if job.Owner != requester {
		return nil, fmt.Errorf("status: %w", domain.ErrForbidden)
	}
	return cloneJob(job), nil
}

// JobsFor returns copies of every job owned by owner, oldest first.
func (m *Manager) JobsFor(owner string) []*domain.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GenerationJob
	for _, job := range m.jobs {
		if job.Owner == owner {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HasActiveFor reports whether owner has any job still Pending or Running.
func (m *Manager) HasActiveFor(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Owner == owner && !job.Status.Terminal() {
			return true
		}
	}
	return false
}

// Count counts all tracked jobs, terminal ones included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// ActiveCount counts non-terminal jobs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			n++
		}
	}
	return n
}

// Cleanup removes terminal jobs that finished more than maxAge ago and
// returns how many were removed. Idempotent.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	if n > 0 {
		slog.Info("cleaned up terminal jobs", slog.Int("removed", n))
	}
	return n
}

// signal wakes one idle worker without blocking the caller.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func cloneJob(j *domain.GenerationJob) *domain.GenerationJob {
	c := *j
	if j.AgeRange != nil {
		r := *j.AgeRange
		c.AgeRange = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
