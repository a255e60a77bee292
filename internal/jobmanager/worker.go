package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"time"

	"log/slog"

	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/domain"
)

// runWorker dequeues and executes jobs until ctx is canceled.
func (m *Manager) runWorker(ctx context.Context, n int) {
	log := slog.Default().With(slog.Int("worker", n))
	for {
		job := m.next(ctx)
		if job == nil {
			return
		}
		m.execute(ctx, log, job)
	}
}

// next blocks until a job is queued or ctx is done. A job deleted by
// Cleanup while still queued is skipped.
func (m *Manager) next(ctx context.Context) *domain.GenerationJob {
	for {
		m.mu.Lock()
		for len(m.queue) > 0 {
			id := m.queue[0]
			m.queue = m.queue[1:]
			job, ok := m.jobs[id]
			if !ok {
				continue
			}
			if len(m.queue) > 0 {
				// More work remains; pass the wakeup along.
				m.signal()
			}
			m.mu.Unlock()
			return job
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}
	}
}

// execute drives one job through its lifecycle. A panic in the job body
// fails that job only; the worker survives.
func (m *Manager) execute(ctx context.Context, log *slog.Logger, job *domain.GenerationJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			m.finish(job, domain.JobFailed, fmt.Sprintf("internal fault: %v", r))
		}
	}()

	m.setRunning(job)
	m.sink.Publish(job.Owner, domain.Event{
		Type:    domain.EventJobUpdate,
		JobID:   job.ID,
		Status:  domain.JobRunning,
		Message: "Question generation started",
	})
	log.Info("job started", slog.String("job_id", job.ID), slog.Int("target_count", job.TargetCount))

	topic := m.effectiveTopic(job.Topic)
	age := m.effectiveAge(job.AgeRange)
	nonces := make(map[int]struct{}, job.TargetCount)

	for i := 0; i < job.TargetCount; i++ {
		if ctx.Err() != nil {
			m.finish(job, domain.JobFailed, "shut down before completion")
			return
		}

		q, err := m.gen.Generate(ctx, topic, age.Min, age.Max, m.nextNonce(nonces))
		if err != nil {
			// Generator faults are per-question, never fatal to the job.
			log.Warn("generation attempt failed",
				slog.String("job_id", job.ID),
				slog.Int("attempt", i),
				slog.Any("error", err))
			continue
		}

		_, outcome, err := m.questions.Insert(ctx, q)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				m.finish(job, domain.JobFailed, "shut down before completion")
				return
			}
			m.finish(job, domain.JobFailed, fmt.Sprintf("store insert failed: %v", err))
			return
		}
		switch outcome {
		case domain.Inserted:
			generated := m.bumpGenerated(job)
			m.metrics.IncQuestionGenerated()
			m.sink.Publish(job.Owner, domain.Event{
				Type:           domain.EventJobProgress,
				JobID:          job.ID,
				GeneratedCount: generated,
				TargetCount:    job.TargetCount,
				Progress:       generated * 100 / job.TargetCount,
				Message:        fmt.Sprintf("Generated %d of %d questions", generated, job.TargetCount),
			})
		case domain.Duplicate:
			m.metrics.IncDuplicateSkipped()
			log.Debug("duplicate question skipped", slog.String("job_id", job.ID), slog.String("content_hash", q.Hash()))
		case domain.Invalid:
			log.Warn("generated question rejected by store", slog.String("job_id", job.ID))
		}
	}

	generated := m.generatedCount(job)
	m.finish(job, domain.JobCompleted, fmt.Sprintf("Generated %d of %d questions", generated, job.TargetCount))
	log.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Int("generated", generated),
		slog.Int("target_count", job.TargetCount))
}

func (m *Manager) setRunning(job *domain.GenerationJob) {
	m.mu.Lock()
	job.Status = domain.JobRunning
	job.Message = "Question generation started"
	m.mu.Unlock()
}

func (m *Manager) bumpGenerated(job *domain.GenerationJob) int {
	m.mu.Lock()
	job.GeneratedCount++
	n := job.GeneratedCount
	m.mu.Unlock()
	return n
}

func (m *Manager) generatedCount(job *domain.GenerationJob) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return job.GeneratedCount
}

// finish moves the job to a terminal state exactly once and emits the
// terminal event.
func (m *Manager) finish(job *domain.GenerationJob, status domain.JobStatus, message string) {
	m.mu.Lock()
	if job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = status
	job.Message = message
	job.CompletedAt = &now
	generated, target := job.GeneratedCount, job.TargetCount
	m.mu.Unlock()

	observability.JobsActive.Dec()
	event := domain.Event{JobID: job.ID, Message: message}
	if status == domain.JobCompleted {
		m.metrics.IncJobCompleted()
		event.Type = domain.EventJobCompleted
		event.GeneratedCount = generated
		event.TargetCount = target
	} else {
		m.metrics.IncJobFailed()
		event.Type = domain.EventJobFailed
	}
	m.sink.Publish(job.Owner, event)
}

// effectiveTopic resolves the requested topic, picking uniformly from the
// configured list when the request is empty or the random sentinel.
func (m *Manager) effectiveTopic(topic string) string {
	if topic != "" && !strings.EqualFold(topic, domain.TopicRandom) {
		return topic
	}
	return m.topics[rand.IntN(len(m.topics))]
}

func (m *Manager) effectiveAge(r *domain.AgeRange) domain.AgeRange {
	if r != nil {
		return *r
	}
	return m.defaultAge
}

// nextNonce draws a fresh uniform nonce, never repeating one within the
// same job.
func (m *Manager) nextNonce(used map[int]struct{}) int {
	for {
		n := rand.IntN(1 << 30)
		if _, dup := used[n]; dup {
			continue
		}
		used[n] = struct{}{}
		return n
	}
}
