// Package telemetry holds the process-wide counters for the question supply
// engine, the derived operator views, and the threshold-based alert
// evaluation. All mutation goes through typed increments; readers take
// snapshots.
package telemetry

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/quizforge/quizforge/internal/adapter/observability"
)

// Collector owns the monotonic counters. Increments mirror into Prometheus
// so the same numbers are visible to both the JSON dict and the scraper.
type Collector struct {
	start time.Time

	jobsEnqueued       atomic.Int64
	jobsCompleted      atomic.Int64
	jobsFailed         atomic.Int64
	questionsGenerated atomic.Int64
	duplicatesSkipped  atomic.Int64
	autoTriggers       atomic.Int64
	manualTriggers     atomic.Int64
}

// NewCollector returns a collector with uptime anchored at now.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// IncJobEnqueued records a job admission; auto selects which trigger counter
// moves alongside jobs_enqueued.
func (c *Collector) IncJobEnqueued(auto bool) {
	c.jobsEnqueued.Add(1)
	if auto {
		c.autoTriggers.Add(1)
		observability.JobsEnqueuedTotal.WithLabelValues("auto").Inc()
	} else {
		c.manualTriggers.Add(1)
		observability.JobsEnqueuedTotal.WithLabelValues("manual").Inc()
	}
}

// IncJobCompleted records a Running→Completed transition.
func (c *Collector) IncJobCompleted() {
	c.jobsCompleted.Add(1)
	observability.JobsCompletedTotal.Inc()
}

// IncJobFailed records a transition to Failed.
func (c *Collector) IncJobFailed() {
	c.jobsFailed.Add(1)
	observability.JobsFailedTotal.Inc()
}

// IncQuestionGenerated records a freshly persisted question.
func (c *Collector) IncQuestionGenerated() {
	c.questionsGenerated.Add(1)
	observability.QuestionsGeneratedTotal.Inc()
}

// IncDuplicateSkipped records a content-hash collision on insert.
func (c *Collector) IncDuplicateSkipped() {
	c.duplicatesSkipped.Add(1)
	observability.DuplicatesSkippedTotal.Inc()
}

// Snapshot is a coherent copy of the counters plus the derived rates.
type Snapshot struct {
	JobsEnqueued       int64   `json:"jobs_enqueued"`
	JobsCompleted      int64   `json:"jobs_completed"`
	JobsFailed         int64   `json:"jobs_failed"`
	QuestionsGenerated int64   `json:"questions_generated"`
	DuplicatesSkipped  int64   `json:"duplicates_skipped"`
	AutoTriggers       int64   `json:"auto_triggers"`
	ManualTriggers     int64   `json:"manual_triggers"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	SuccessRate        float64 `json:"success_rate"`
	QuestionsPerMinute float64 `json:"questions_per_minute"`
	DuplicateRatio     float64 `json:"duplicate_ratio"`
}

// Snapshot reads every counter once and computes the derived views.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		JobsEnqueued:       c.jobsEnqueued.Load(),
		JobsCompleted:      c.jobsCompleted.Load(),
		JobsFailed:         c.jobsFailed.Load(),
		QuestionsGenerated: c.questionsGenerated.Load(),
		DuplicatesSkipped:  c.duplicatesSkipped.Load(),
		AutoTriggers:       c.autoTriggers.Load(),
		ManualTriggers:     c.manualTriggers.Load(),
		UptimeSeconds:      time.Since(c.start).Seconds(),
	}
	s.SuccessRate = float64(s.JobsCompleted) / math.Max(float64(s.JobsEnqueued), 1)
	uptimeMinutes := math.Max(s.UptimeSeconds/60, 1e-9)
	s.QuestionsPerMinute = float64(s.QuestionsGenerated) / uptimeMinutes
	if attempts := s.QuestionsGenerated + s.DuplicatesSkipped; attempts > 0 {
		s.DuplicateRatio = float64(s.DuplicatesSkipped) / float64(attempts)
	}
	return s
}
